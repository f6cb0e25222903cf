package cachex

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"berthing-hub/shared/config"
)

// Keys written by the snapshot worker and read by the API.
const (
	KeyKPILatest        = "berthing:kpi:latest"
	KeyOpsLatest        = "berthing:ops:latest"
	KeyConflictsLatest  = "berthing:conflicts:latest"
	KeyResolvedConflict = "berthing:conflicts:resolved"
	KeySnapshotLock     = "berthing:lock:snapshot"

	// ChannelConflictAlerts carries newly detected conflicts to live boards.
	ChannelConflictAlerts = "berthing.conflicts.alerts"
)

var errNotInitialized = errors.New("redis client not initialized")

type Client struct {
	redis *redis.Client
}

func New(cfg config.Config) (*Client, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("REDIS_ADDR is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &Client{redis: rdb}, nil
}

func (c *Client) ready() bool { return c != nil && c.redis != nil }

func (c *Client) Ping(ctx context.Context) error {
	if !c.ready() {
		return errNotInitialized
	}
	return c.redis.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if !c.ready() {
		return nil
	}
	return c.redis.Close()
}

func (c *Client) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.ready() {
		return errNotInitialized
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, key, b, ttl).Err()
}

// GetJSON reports false without error when key is missing.
func (c *Client) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if !c.ready() {
		return false, errNotInitialized
	}
	raw, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

// PublishJSON sends value on a pub/sub channel.
func (c *Client) PublishJSON(ctx context.Context, channel string, value any) error {
	if !c.ready() {
		return errNotInitialized
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.redis.Publish(ctx, channel, b).Err()
}

func (c *Client) Delete(ctx context.Context, key string) error {
	if !c.ready() {
		return errNotInitialized
	}
	return c.redis.Del(ctx, key).Err()
}

// Acknowledge marks a conflict as resolved. Conflicts are recomputed on
// every read, so the acknowledgement lives beside them rather than on them.
func (c *Client) Acknowledge(ctx context.Context, conflictID string) error {
	if !c.ready() {
		return errNotInitialized
	}
	return c.redis.SAdd(ctx, KeyResolvedConflict, conflictID).Err()
}

func (c *Client) Acknowledged(ctx context.Context) (map[string]bool, error) {
	if !c.ready() {
		return nil, errNotInitialized
	}
	ids, err := c.redis.SMembers(ctx, KeyResolvedConflict).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (c *Client) Client() *redis.Client {
	if c == nil {
		return nil
	}
	return c.redis
}
