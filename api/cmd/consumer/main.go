package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"berthing-hub/api/internal/pipeline"
	"berthing-hub/api/internal/repos"
	"berthing-hub/core/ingest"
	"berthing-hub/shared/config"
	"berthing-hub/shared/dbx"
	"berthing-hub/shared/logx"
	"berthing-hub/shared/metricsx"
	"berthing-hub/shared/mqx"
	"berthing-hub/shared/observability"
)

func main() {
	cfg, problems := config.Load("raw-batch-consumer", 8082)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if cfg.KafkaGroupID == "" {
		problems = append(problems, config.Problem{Field: "KAFKA_GROUP_ID", Message: "KAFKA_GROUP_ID is required"})
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

	store := repos.NewPortCallRepo(dbPool, repos.NewOutboxRepo(dbPool))
	ingestPipeline, err := pipeline.New(cfg, store, logger)
	if err != nil {
		logger.Error(context.Background(), "config_invalid", "invalid source offsets",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	reader, err := mqx.NewConsumer(cfg, cfg.KafkaRawTopic, cfg.KafkaGroupID)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka reader init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var summary ingest.Collector
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rep := summary.Flush()
				if rep.Accepted == 0 && len(rep.Rejected) == 0 {
					continue
				}
				logger.Info(ctx, "ingest_summary", "raw batches ingested",
					slog.Int("accepted", rep.Accepted),
					slog.Int("created", rep.Created),
					slog.Int("changed", rep.Changed),
					slog.Int("rejected", len(rep.Rejected)),
					slog.Int("warnings", len(rep.Warnings)),
				)
			}
		}
	}()

	onReport := func(ctx context.Context, rep ingest.Report) {
		summary.Add(rep)
		for _, rej := range rep.Rejected {
			logger.Warn(ctx, "record_rejected", "source record rejected",
				slog.String("source", string(rej.Source)),
				slog.Int("index", rej.Index),
				slog.String("kind", rej.Kind),
				slog.String("error", rej.Message),
			)
		}
		stats := reader.Stats()
		metricsx.SetKafkaLag(stats.Topic, cfg.KafkaGroupID, stats.Lag)
	}
	onErr := func(stage string, err error) {
		if stage == "skip" {
			logger.Warn(ctx, "message_skipped", "unprocessable message committed",
				slog.String("error_code", "INVALID_ARGUMENT"),
				slog.String("error", err.Error()),
			)
			return
		}
		logger.Error(ctx, "kafka_"+stage+"_failed", "failed to "+stage+" message",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}

	logger.Info(ctx, "consumer_start", "raw batch consumer started",
		slog.String("topic", cfg.KafkaRawTopic),
		slog.String("group", cfg.KafkaGroupID),
	)
	_ = mqx.Consume(ctx, reader, cfg.KafkaRawTopic, pipeline.Handler(ingestPipeline, onReport), onErr)

	logger.Info(context.Background(), "consumer_stop", "raw batch consumer stopped")
}
