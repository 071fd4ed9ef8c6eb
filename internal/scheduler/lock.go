package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const defaultLockTTL = 90 * time.Second

// LeaderLock elects the replica that enqueues scheduled work. Executors run
// everywhere; only the leader's scheduler fires tasks.
type LeaderLock interface {
	// Acquire takes or renews the lock, reporting whether this process
	// currently leads.
	Acquire(ctx context.Context) (bool, error)

	// Release gives the lock up if held.
	Release(ctx context.Context) error
}

// LocalLock is the single-instance fallback: this process always leads.
type LocalLock struct{}

func (LocalLock) Acquire(context.Context) (bool, error) { return true, nil }

func (LocalLock) Release(context.Context) error { return nil }

// RedisLock holds leadership through a TTL'd key set with NX semantics.
// Acquire renews the TTL while held; once the holder stops renewing, the
// key expires and the next caller takes over.
type RedisLock struct {
	client  *redis.Client
	key     string
	id      string
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger
}

// NewRedisLock connects to Redis and verifies it with a ping before any
// leadership decision depends on it.
func NewRedisLock(addr, password string, db int, key string, ttl time.Duration, logger *slog.Logger) (*RedisLock, error) {
	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if key == "" {
		key = "rollupd:scheduler:leader"
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RedisLock{
		client:  client,
		key:     key,
		id:      uuid.NewString(),
		ttl:     ttl,
		timeout: time.Second,
		logger:  logger,
	}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	taken, err := l.client.SetNX(ctx, l.key, l.id, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("leader lock setnx: %w", err)
	}
	if taken {
		l.logger.Info("Leadership acquired", "key", l.key, "ttl", l.ttl.String())
		return true, nil
	}

	holder, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between the two calls; the next tick settles it
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("leader lock get: %w", err)
	}
	if holder != l.id {
		return false, nil
	}

	// Still ours: renew the TTL
	if err := l.client.Expire(ctx, l.key, l.ttl).Err(); err != nil {
		return false, fmt.Errorf("leader lock renew: %w", err)
	}
	return true, nil
}

func (l *RedisLock) Release(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	holder, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("leader lock get: %w", err)
	}
	if holder != l.id {
		return nil
	}

	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		return fmt.Errorf("leader lock del: %w", err)
	}
	l.logger.Info("Leadership released", "key", l.key)
	return nil
}

// Close releases the Redis connection.
func (l *RedisLock) Close() {
	if l.client != nil {
		_ = l.client.Close()
	}
}

var (
	_ LeaderLock = LocalLock{}
	_ LeaderLock = (*RedisLock)(nil)
)
