package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"semaforo/internal/config"
	"semaforo/internal/logger"
)

const (
	lockPrefix     = "semaforo:lock:"
	minPollBackoff = 5 * time.Millisecond
	maxPollBackoff = 250 * time.Millisecond
)

// releaseScript deletes the lock only if it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every node pointing at the same Redis.
// Locks expire after ttl so that a crashed holder cannot wedge a key.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker connects to Redis and verifies the connection
func NewRedisLocker(cfg config.RedisConfig) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisLockerFromClient(client, cfg.LockTTL), nil
}

// NewRedisLockerFromClient wraps an existing client
func NewRedisLockerFromClient(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// Lock polls SET NX with growing backoff until it wins or ctx is done
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := lockPrefix + key
	token := uuid.New().String()
	backoff := minPollBackoff

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("acquire lock %q: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrLockTimeout, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxPollBackoff)
	}

	return func() {
		// Release even if the caller's context is already gone.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
			log := logger.WithComponent("redis_locker")
			log.Warn().Err(err).Str("key", key).Msg("failed to release lock")
		}
	}, nil
}

// HealthCheck pings Redis
func (l *RedisLocker) HealthCheck(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
