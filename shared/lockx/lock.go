package lockx

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// compare-and-delete so a holder whose TTL lapsed cannot drop a newer lock
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

var ErrNotHeld = errors.New("lock not held")

type Lock struct {
	Key   string
	Token string
	TTL   time.Duration
}

func Acquire(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*Lock, bool, error) {
	if client == nil {
		return nil, false, errors.New("redis client not initialized")
	}
	if ttl <= 0 {
		return nil, false, errors.New("ttl must be > 0")
	}
	token := uuid.NewString()
	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{Key: key, Token: token, TTL: ttl}, true, nil
}

func Release(ctx context.Context, client *redis.Client, lock *Lock) error {
	if client == nil {
		return errors.New("redis client not initialized")
	}
	if lock == nil {
		return errors.New("lock is nil")
	}
	n, err := client.Eval(ctx, releaseScript, []string{lock.Key}, lock.Token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Do runs fn while holding key. It reports false without running fn when
// another holder has the lock.
func Do(ctx context.Context, client *redis.Client, key string, ttl time.Duration, fn func(context.Context) error) (bool, error) {
	lock, ok, err := Acquire(ctx, client, key, ttl)
	if err != nil || !ok {
		return false, err
	}
	runCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()
	runErr := fn(runCtx)
	relErr := Release(context.WithoutCancel(ctx), client, lock)
	if runErr != nil {
		return true, runErr
	}
	if relErr != nil && !errors.Is(relErr, ErrNotHeld) {
		return true, relErr
	}
	return true, nil
}
