// Package snapshot computes the periodic KPI, conflict and operations
// snapshot and fans it out to every configured sink.
package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.opentelemetry.io/otel/attribute"

	"berthing-hub/api/internal/models"
	"berthing-hub/api/internal/views"
	"berthing-hub/core/model"
	"berthing-hub/shared/cachex"
	"berthing-hub/shared/events"
	"berthing-hub/shared/influxx"
	"berthing-hub/shared/logx"
	"berthing-hub/shared/metricsx"
	"berthing-hub/shared/observability"
)

// Source is the read side of the merged store.
type Source interface {
	Snapshot(ctx context.Context) ([]model.PortCall, error)
}

type PointWriter interface {
	WritePoints(ctx context.Context, points ...*write.Point) error
}

type History interface {
	Insert(ctx context.Context, snap model.KPISnapshot, conflicts int) (models.KPISnapshotRecord, error)
	Prune(ctx context.Context, keep int) (int64, error)
}

type Cache interface {
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	PublishJSON(ctx context.Context, channel string, value any) error
}

type Publisher interface {
	PublishEnvelope(ctx context.Context, topic string, env events.Envelope) error
}

// Runner holds the sinks. Only Source is required; a nil sink is skipped.
type Runner struct {
	Source    Source
	Acks      views.Acks
	Settings  views.Settings
	Points    PointWriter
	History   History
	Cache     Cache
	Publisher Publisher
	Logger    logx.Logger

	// CacheTTL bounds how long a stale snapshot is served if the worker
	// stops. KeepHistory is the number of kpi_snapshots rows retained.
	CacheTTL    time.Duration
	KeepHistory int
	Now         func() time.Time

	mu       sync.Mutex
	lastOpen map[string]bool
}

// Run computes one snapshot. Sink failures are logged and joined into the
// returned error; the snapshot itself is still returned.
func (r *Runner) Run(ctx context.Context) (snap views.Snapshot, err error) {
	ctx, span := observability.StartSpan(ctx, "snapshot.compute")
	defer func() { observability.EndSpan(span, err) }()
	start := time.Now()

	now := time.Now().UTC()
	if r.Now != nil {
		now = r.Now().UTC()
	}
	calls, err := r.Source.Snapshot(ctx)
	if err != nil {
		return views.Snapshot{}, err
	}
	snap, err = r.Settings.Compute(ctx, calls, r.Acks, now)
	if err != nil {
		return views.Snapshot{}, err
	}
	open := views.OpenByTerminal(snap.Conflicts)
	openTotal := 0
	for _, n := range open {
		openTotal += n
	}
	span.SetAttributes(
		attribute.Int("port_calls", len(calls)),
		attribute.Int("conflicts", len(snap.Conflicts)),
	)

	var errs []error
	sink := func(name string, err error) {
		if err == nil {
			return
		}
		r.Logger.Warn(ctx, "snapshot_sink_failed", "snapshot sink failed",
			slog.String("sink", name),
			slog.String("error_code", "UNAVAILABLE"),
			slog.String("error", err.Error()),
		)
		errs = append(errs, err)
	}

	if r.Points != nil {
		points := append([]*write.Point{influxx.KPIPoint(snap.KPI)}, influxx.ConflictPoints(snap.Conflicts, now)...)
		sink("influx", r.Points.WritePoints(ctx, points...))
	}
	if r.History != nil {
		_, err := r.History.Insert(ctx, snap.KPI, openTotal)
		sink("kpi_snapshots", err)
		if err == nil && r.KeepHistory > 0 {
			_, err = r.History.Prune(ctx, r.KeepHistory)
			sink("kpi_snapshots_prune", err)
		}
	}
	if r.Cache != nil {
		sink("redis_kpi", r.Cache.SetJSON(ctx, cachex.KeyKPILatest, snap, r.CacheTTL))
		sink("redis_ops", r.Cache.SetJSON(ctx, cachex.KeyOpsLatest, snap.Ops, r.CacheTTL))
		sink("redis_conflicts", r.Cache.SetJSON(ctx, cachex.KeyConflictsLatest, snap.Conflicts, r.CacheTTL))
	}
	if r.Publisher != nil {
		env, err := events.New(events.AggregateBerths, "all", events.EventConflictsDetected, snap.Conflicts, now)
		if err == nil {
			err = r.Publisher.PublishEnvelope(ctx, events.TopicBerthConflicts, env)
		}
		sink("kafka_conflicts", err)
	}
	if fresh := r.freshConflicts(snap.Conflicts); len(fresh) > 0 && r.Cache != nil {
		sink("redis_alerts", r.Cache.PublishJSON(ctx, cachex.ChannelConflictAlerts, fresh))
		for _, c := range fresh {
			r.Logger.Info(ctx, "berth_conflict", "new berth conflict detected",
				slog.String("conflict_id", c.ConflictID),
				slog.String("terminal", c.Terminal),
				slog.String("berth_id", c.BerthID),
				slog.String("vessels", c.VesselA+" / "+c.VesselB),
			)
		}
	}

	metricsx.SetBerthConflicts(open)
	metricsx.SetKPI("mae_eta", snap.KPI.MAEETA)
	metricsx.SetKPI("mae_etb", snap.KPI.MAEETB)
	metricsx.SetKPI("mae_etd", snap.KPI.MAEETD)
	metricsx.SetKPI("wb_ratio", snap.KPI.WBRatio)
	metricsx.SetKPI("rcj_reliability", snap.KPI.RCJReliability)
	metricsx.SetKPI("docs_sail_lt", snap.KPI.DocsSailLT)
	metricsx.ObserveSnapshotLatency(time.Since(start))

	r.Logger.Info(ctx, "snapshot_computed", "snapshot computed",
		slog.Int("port_calls", len(calls)),
		slog.Int("samples", snap.KPI.SampleCount),
		slog.Int("conflicts_open", openTotal),
		slog.Int("sink_errors", len(errs)),
	)
	return snap, errors.Join(errs...)
}

// freshConflicts returns the open conflicts absent from the previous run.
// The first run only records what it sees.
func (r *Runner) freshConflicts(conflicts []model.Conflict) []model.Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := make(map[string]bool, len(conflicts))
	var fresh []model.Conflict
	for _, c := range conflicts {
		if c.Resolved {
			continue
		}
		current[c.ConflictID] = true
		if r.lastOpen != nil && !r.lastOpen[c.ConflictID] {
			fresh = append(fresh, c)
		}
	}
	r.lastOpen = current
	return fresh
}
