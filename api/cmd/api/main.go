package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"berthing-hub/api/internal/handlers"
	"berthing-hub/api/internal/middleware"
	"berthing-hub/api/internal/pipeline"
	"berthing-hub/api/internal/repos"
	"berthing-hub/api/internal/views"
	"berthing-hub/core/merge"
	"berthing-hub/shared/cachex"
	"berthing-hub/shared/config"
	"berthing-hub/shared/dbx"
	"berthing-hub/shared/httpx"
	"berthing-hub/shared/logx"
	"berthing-hub/shared/metricsx"
	"berthing-hub/shared/observability"
)

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
	Store   string `json:"store,omitempty"`
}

func main() {
	cfg, readyProblems := config.Load("api", 8080)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)
	metricsx.Register()

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

	// Without Postgres the API still serves from an in-process store, but
	// readiness reports it so a deployment never runs that way by accident.
	var (
		dbPool    *pgxpool.Pool
		store     merge.Store = merge.NewMemoryStore()
		history   handlers.History
		storeKind             = "memory"
	)
	if cfg.DatabaseURL == "" {
		readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is not set; using in-memory store"})
	} else {
		var err error
		dbPool, err = dbx.NewPool(cfg)
		if err == nil {
			err = repos.EnsureSchema(context.Background(), dbPool)
		}
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "failed to prepare database"})
			logger.Error(context.Background(), "db_init_failed", "database init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
		} else {
			store = repos.NewPortCallRepo(dbPool, repos.NewOutboxRepo(dbPool))
			history = repos.NewKPISnapshotRepo(dbPool)
			storeKind = "postgres"
		}
	}

	var (
		cache  *cachex.Client
		acks   handlers.Acker = handlers.NewMemoryAcks()
		latest handlers.LatestReader
	)
	if cfg.RedisAddr != "" {
		var err error
		cache, err = cachex.New(cfg)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "REDIS_ADDR", Message: "failed to initialize redis client"})
		} else {
			acks = cache
			latest = cache
			defer func() { _ = cache.Close() }()
		}
	}

	ingestPipeline, err := pipeline.New(cfg, store, logger)
	if err != nil {
		logger.Error(context.Background(), "config_invalid", "invalid source offsets",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	api := &handlers.API{
		Store:          store,
		Pipeline:       ingestPipeline,
		Acks:           acks,
		Latest:         latest,
		History:        history,
		Memo:           cachex.NewMemo(5 * time.Second),
		Logger:         logger,
		Settings:       views.SettingsFrom(cfg),
		NameDistance:   cfg.NameDuplicateDistance,
		MaxIngestBytes: int64(cfg.IngestMaxBodyMB) << 20,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ok",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if len(readyProblems) > 0 {
			httpx.WriteError(
				w,
				r,
				http.StatusServiceUnavailable,
				httpx.CodeFailedPrecondition,
				"service not ready: invalid configuration",
				map[string]any{"problems": readyProblems},
			)
			return
		}
		if err := dbx.Ping(r.Context(), dbPool); err != nil {
			httpx.WriteError(
				w,
				r,
				http.StatusServiceUnavailable,
				httpx.CodeFailedPrecondition,
				"service not ready: database unavailable",
				map[string]any{"problem": "db_ping_failed"},
			)
			return
		}
		// redis is optional; without it acknowledgements stay in process
		if cache != nil {
			if err := cache.Ping(r.Context()); err != nil {
				httpx.WriteError(
					w,
					r,
					http.StatusServiceUnavailable,
					httpx.CodeFailedPrecondition,
					"service not ready: redis unavailable",
					map[string]any{"problem": "redis_ping_failed"},
				)
				return
			}
		}
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ready",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
			Store:   storeKind,
		})
	})
	mux.Handle("GET /metrics", metricsx.Handler())
	api.Register(mux)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteErr(w, r, httpx.NotFound("route not found"))
	})

	operational := func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics"
	}
	handler := httpx.WrapServeMux(mux, notFound)
	handler = middleware.RequiresMiddleware{
		Name:      "snapshot store",
		Available: func() bool { return latest != nil || history != nil },
		Match:     func(r *http.Request) bool { return r.URL.Path == "/api/v1/kpis/latest" },
	}.Wrap(handler)
	handler = middleware.RateLimitMiddleware{
		Limiter: middleware.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 10*time.Minute),
		Skip:    operational,
	}.Wrap(handler)
	handler = middleware.CORSMiddleware{
		Origins: cfg.CORSOrigins,
		MaxAge:  10 * time.Minute,
		Skip:    operational,
	}.Wrap(handler)
	handler = httpx.WithRecover(logger, handler)
	handler = httpx.WithTimeout(cfg.RequestTimeout, handler)
	handler = httpx.WithRequestLog(logger, httpx.RequestLogOptions{SkipPaths: map[string]bool{"/healthz": true, "/metrics": true}}, handler)
	handler = metricsx.Instrument(handler)
	handler = httpx.WithRequestID(handler)
	handler = otelhttp.NewHandler(handler, "api")

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "service_start", "starting service",
			slog.String("addr", server.Addr),
			slog.Int("http_port", cfg.HTTPPort),
			slog.String("log_level", cfg.LogLevel),
			slog.String("store", storeKind),
			slog.Bool("redis", cache != nil),
			slog.Int("request_timeout_ms", cfg.RequestTimeoutMS),
		)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server_failed", "server failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
	if dbPool != nil {
		dbPool.Close()
	}
	logger.Info(context.Background(), "service_stop", "service stopped")
}
