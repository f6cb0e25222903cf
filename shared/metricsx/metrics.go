package metricsx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"berthing-hub/shared/httpx"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	kafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag by topic.",
		},
		[]string{"topic", "group"},
	)
	influxWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "influx_write_failures_total",
			Help: "Total InfluxDB write failures.",
		},
	)
	asynqQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asynq_queue_depth",
			Help: "Asynq queue depth by queue.",
		},
		[]string{"queue"},
	)
	recordsMerged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portcall_records_merged_total",
			Help: "Source records merged into port calls, by source and outcome.",
		},
		[]string{"source", "outcome"},
	)
	recordsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portcall_records_rejected_total",
			Help: "Source records dropped before merge, by source and kind.",
		},
		[]string{"source", "kind"},
	)
	conflictingActuals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portcall_conflicting_actuals_total",
			Help: "Occurred values discarded because they disagreed with a resolved one.",
		},
		[]string{"source", "field"},
	)
	ingestLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "portcall_ingest_duration_seconds",
			Help:    "Duration of one ingest run.",
			Buckets: prometheus.DefBuckets,
		},
	)
	berthConflicts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "berth_conflicts",
			Help: "Open berth conflicts by terminal.",
		},
		[]string{"terminal"},
	)
	kpiValue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portcall_kpi",
			Help: "Latest KPI snapshot value by metric.",
		},
		[]string{"metric"},
	)
	snapshotLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "portcall_snapshot_duration_seconds",
			Help:    "Duration of one KPI/conflict snapshot computation.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func Register() {
	prometheus.MustRegister(
		httpRequests, httpLatency, kafkaConsumerLag, influxWriteFailures, asynqQueueDepth,
		recordsMerged, recordsRejected, conflictingActuals, ingestLatency,
		berthConflicts, kpiValue, snapshotLatency,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request counts and latency per matched route, so
// ids in paths do not blow up label cardinality. It must sit inside
// httpx.WithRequestID.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &httpx.StatusWriter{ResponseWriter: w, Status: http.StatusOK}
		next.ServeHTTP(sw, r)
		route := httpx.RouteFromContext(r.Context())
		status := strconv.Itoa(sw.Status)
		httpRequests.WithLabelValues(r.Method, route, status).Inc()
		httpLatency.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func SetKafkaLag(topic string, group string, lag int64) {
	kafkaConsumerLag.WithLabelValues(topic, group).Set(float64(lag))
}

func IncInfluxWriteFailure() {
	influxWriteFailures.Inc()
}

func SetAsynqQueueDepth(queue string, depth int) {
	asynqQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

func IncRecordMerged(source string, outcome string) {
	recordsMerged.WithLabelValues(source, outcome).Inc()
}

func IncRecordRejected(source string, kind string) {
	recordsRejected.WithLabelValues(source, kind).Inc()
}

func IncConflictingActual(source string, field string) {
	conflictingActuals.WithLabelValues(source, field).Inc()
}

func ObserveIngestLatency(d time.Duration) {
	ingestLatency.Observe(d.Seconds())
}

// SetBerthConflicts replaces the per-terminal conflict gauge.
func SetBerthConflicts(byTerminal map[string]int) {
	berthConflicts.Reset()
	for terminal, n := range byTerminal {
		berthConflicts.WithLabelValues(terminal).Set(float64(n))
	}
}

// SetKPI publishes one KPI value; absent values clear the series.
func SetKPI(metric string, value *float64) {
	if value == nil {
		kpiValue.DeleteLabelValues(metric)
		return
	}
	kpiValue.WithLabelValues(metric).Set(*value)
}

func ObserveSnapshotLatency(d time.Duration) {
	snapshotLatency.Observe(d.Seconds())
}
