//go:build integration

package integration

import (
	"context"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"

	"berthing-hub/shared/cachex"
	"berthing-hub/shared/config"
	"berthing-hub/shared/lockx"
)

func TestDependencies(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("db ping failed: %v", err)
	}

	brokers := strings.Split(os.Getenv("KAFKA_BROKERS"), ",")
	if strings.TrimSpace(brokers[0]) == "" {
		t.Skip("KAFKA_BROKERS not set")
	}
	conn, err := kafka.Dial("tcp", strings.TrimSpace(brokers[0]))
	if err != nil {
		t.Fatalf("kafka dial failed: %v", err)
	}
	_ = conn.Close()

	influxURL := os.Getenv("INFLUX_URL")
	if influxURL == "" {
		t.Skip("INFLUX_URL not set")
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, influxURL+"/health", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("influx health failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.Fatalf("influx health status: %d", resp.StatusCode)
	}

	asynqRedis := os.Getenv("ASYNQ_REDIS_ADDR")
	if asynqRedis == "" {
		t.Skip("ASYNQ_REDIS_ADDR not set")
	}
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: asynqRedis})
	defer inspector.Close()
	if _, err := inspector.GetQueueInfo("default"); err != nil && !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("asynq inspector failed: %v", err)
	}
}

func redisCache(t *testing.T) *cachex.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	c, err := cachex.New(config.Config{RedisAddr: addr})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestAcknowledgementsRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := redisCache(t)
	if err := c.Delete(ctx, cachex.KeyResolvedConflict); err != nil {
		t.Fatalf("reset: %v", err)
	}
	t.Cleanup(func() { _ = c.Delete(ctx, cachex.KeyResolvedConflict) })

	for _, id := range []string{"cf-a", "cf-b", "cf-a"} {
		if err := c.Acknowledge(ctx, id); err != nil {
			t.Fatalf("acknowledge %s: %v", id, err)
		}
	}
	got, err := c.Acknowledged(ctx)
	if err != nil {
		t.Fatalf("acknowledged: %v", err)
	}
	if len(got) != 2 || !got["cf-a"] || !got["cf-b"] {
		t.Fatalf("unexpected acknowledgements: %#v", got)
	}
}

func TestSnapshotLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	c := redisCache(t)
	key := cachex.KeySnapshotLock + ":it"

	first, ok, err := lockx.Acquire(ctx, c.Client(), key, 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ran, err := lockx.Do(ctx, c.Client(), key, 5*time.Second, func(context.Context) error {
		t.Fatalf("must not run while the lock is held")
		return nil
	})
	if err != nil || ran {
		t.Fatalf("expected skip, got ran=%v err=%v", ran, err)
	}
	if err := lockx.Release(ctx, c.Client(), first); err != nil {
		t.Fatalf("release: %v", err)
	}
	ran, err = lockx.Do(ctx, c.Client(), key, 5*time.Second, func(context.Context) error { return nil })
	if err != nil || !ran {
		t.Fatalf("expected run after release, got ran=%v err=%v", ran, err)
	}
}
