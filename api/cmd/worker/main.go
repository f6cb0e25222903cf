package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/attribute"

	"berthing-hub/api/internal/repos"
	"berthing-hub/api/internal/snapshot"
	"berthing-hub/api/internal/views"
	"berthing-hub/shared/cachex"
	"berthing-hub/shared/config"
	"berthing-hub/shared/dbx"
	"berthing-hub/shared/influxx"
	"berthing-hub/shared/lockx"
	"berthing-hub/shared/logx"
	"berthing-hub/shared/metricsx"
	"berthing-hub/shared/mqx"
	"berthing-hub/shared/observability"
)

const (
	taskSnapshotCompute = "snapshot.compute"
	taskOutboxScan      = "outbox.scan"
	taskOutboxDispatch  = "outbox.dispatch"

	keepSnapshots = 2000
)

type dispatchPayload struct {
	EventID string `json:"event_id"`
}

func main() {
	cfg, problems := config.Load("worker", 8083)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if cfg.AsynqRedisAddr == "" {
		problems = append(problems, config.Problem{Field: "ASYNQ_REDIS_ADDR", Message: "ASYNQ_REDIS_ADDR is required"})
	}
	if cfg.RedisAddr == "" {
		problems = append(problems, config.Problem{Field: "REDIS_ADDR", Message: "REDIS_ADDR is required"})
	}
	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	if cfg.OtelEnabled {
		if shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		}); err == nil {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	dbPool, err := dbx.NewPool(cfg)
	if err == nil {
		err = repos.EnsureSchema(context.Background(), dbPool)
	}
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "db init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer dbPool.Close()

	outboxRepo := repos.NewOutboxRepo(dbPool)
	producer, err := mqx.NewProducer(cfg)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka producer init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer producer.Close()

	cacheClient, err := cachex.New(cfg)
	if err != nil {
		logger.Error(context.Background(), "redis_init_failed", "redis init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer cacheClient.Close()

	runner := &snapshot.Runner{
		Source:      repos.NewPortCallRepo(dbPool, nil),
		Acks:        cacheClient,
		Settings:    views.SettingsFrom(cfg),
		History:     repos.NewKPISnapshotRepo(dbPool),
		Cache:       cacheClient,
		Publisher:   producer,
		Logger:      logger,
		CacheTTL:    time.Duration(3*cfg.SnapshotIntervalSec) * time.Second,
		KeepHistory: keepSnapshots,
	}
	if cfg.InfluxURL != "" && cfg.InfluxToken != "" && cfg.InfluxOrg != "" && cfg.InfluxBucket != "" {
		influxClient, err := influxx.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "influx_init_failed", "influx init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
		} else {
			defer influxClient.Close()
			runner.Points = influxClient
		}
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
		Queues: map[string]int{
			cfg.AsynqQueue: 1,
		},
	})
	defer server.Shutdown()

	lockTTL := time.Duration(cfg.SnapshotLockTTLSec) * time.Second
	mux := asynq.NewServeMux()
	mux.HandleFunc(taskSnapshotCompute, func(ctx context.Context, t *asynq.Task) error {
		// several workers share the schedule; only the lock holder computes
		ran, err := lockx.Do(ctx, cacheClient.Client(), cachex.KeySnapshotLock, lockTTL, func(ctx context.Context) error {
			_, err := runner.Run(ctx)
			return err
		})
		if err != nil {
			logger.Warn(ctx, "snapshot_failed", "snapshot run failed",
				slog.String("error_code", "UNAVAILABLE"),
				slog.String("error", err.Error()),
			)
		} else if !ran {
			logger.Debug(ctx, "snapshot_skipped", "snapshot lock held elsewhere")
		}
		// a partial snapshot is replaced on the next tick; retrying would pile up
		return nil
	})
	mux.HandleFunc(taskOutboxScan, func(ctx context.Context, t *asynq.Task) error {
		if released, err := outboxRepo.ReleaseStale(ctx, 5*time.Minute); err == nil && released > 0 {
			logger.Warn(ctx, "outbox_released", "released stale outbox claims", slog.Int64("count", released))
		}
		events, err := outboxRepo.ClaimPending(ctx, cfg.ServiceName, cfg.OutboxBatchSize)
		if err != nil {
			return err
		}
		client := asynq.NewClient(redisOpt)
		defer client.Close()
		for _, event := range events {
			payload, _ := json.Marshal(dispatchPayload{EventID: event.EventID.String()})
			task := asynq.NewTask(taskOutboxDispatch, payload, asynq.Queue(cfg.AsynqQueue))
			if _, err := client.Enqueue(task); err != nil {
				logger.Error(ctx, "enqueue_failed", "failed to enqueue outbox dispatch",
					slog.String("error_code", "INTERNAL_ERROR"),
					slog.String("error", err.Error()),
				)
				attempts := event.Attempts + 1
				nextRetry := time.Now().UTC().Add(repos.RetryDelay(attempts))
				_ = outboxRepo.MarkFailed(ctx, event.EventID, attempts, &nextRetry, err.Error(), attempts >= cfg.OutboxMaxAttempts)
			}
		}
		return nil
	})
	mux.HandleFunc(taskOutboxDispatch, func(ctx context.Context, t *asynq.Task) (err error) {
		ctx, span := observability.StartSpan(ctx, "outbox.dispatch", attribute.String("queue", cfg.AsynqQueue))
		defer func() { observability.EndSpan(span, err) }()
		var payload dispatchPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return err
		}
		eventID, err := uuid.Parse(strings.TrimSpace(payload.EventID))
		if err != nil {
			return err
		}
		event, err := outboxRepo.GetByID(ctx, eventID)
		if err != nil {
			return err
		}
		if event.Status == repos.OutboxStatusDelivered || event.Status == repos.OutboxStatusDead {
			return nil
		}
		headers := map[string]string{
			"event_id":       event.EventID.String(),
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID,
			"published_at":   time.Now().UTC().Format(time.RFC3339Nano),
		}
		// keyed by port call so every revision of one call lands on one partition
		if err := producer.Publish(ctx, event.Topic, []byte(event.AggregateID), event.Payload, headers); err != nil {
			attempts := event.Attempts + 1
			nextRetry := time.Now().UTC().Add(repos.RetryDelay(attempts))
			dead := attempts >= cfg.OutboxMaxAttempts
			_ = outboxRepo.MarkFailed(ctx, event.EventID, attempts, &nextRetry, err.Error(), dead)
			if dead {
				logger.Warn(ctx, "outbox_dead", "outbox event moved to dead-letter",
					slog.String("event_id", event.EventID.String()),
					slog.String("port_call_id", event.AggregateID),
					slog.Int("attempts", attempts),
				)
				return nil
			}
			return err
		}
		return outboxRepo.MarkDelivered(ctx, event.EventID)
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
	})
	defer scheduler.Shutdown()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	schedule := []struct {
		every int
		task  string
	}{
		{cfg.OutboxScanSec, taskOutboxScan},
		{cfg.SnapshotIntervalSec, taskSnapshotCompute},
	}
	for _, s := range schedule {
		if _, err := scheduler.Register("@every "+strconv.Itoa(s.every)+"s", asynq.NewTask(s.task, nil, asynq.Queue(cfg.AsynqQueue))); err != nil {
			logger.Error(context.Background(), "scheduler_init_failed", "scheduler init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("task", s.task),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}
	if err := scheduler.Start(); err != nil {
		logger.Error(context.Background(), "scheduler_start_failed", "scheduler start failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			info, err := inspector.GetQueueInfo(cfg.AsynqQueue)
			if err != nil {
				continue
			}
			metricsx.SetAsynqQueueDepth(cfg.AsynqQueue, info.Size)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "worker_start", "snapshot worker started",
			slog.String("queue", cfg.AsynqQueue),
			slog.Int("concurrency", cfg.AsynqConcurrency),
			slog.Int("snapshot_interval_sec", cfg.SnapshotIntervalSec),
			slog.Bool("influx", runner.Points != nil),
		)
		errCh <- server.Run(mux)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, asynq.ErrServerClosed) {
			logger.Error(context.Background(), "worker_failed", "worker failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	logger.Info(context.Background(), "worker_stop", "snapshot worker stopped")
}
