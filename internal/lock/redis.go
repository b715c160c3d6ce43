package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig holds Redis lock settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every lock key.
	Prefix string
	// TTL bounds how long a crashed holder keeps a key.
	TTL time.Duration
	// Wait bounds how long Lock retries.
	Wait time.Duration
	// Retry is the delay between acquisition attempts.
	Retry time.Duration
}

// RedisLocker is a KeyLocker shared by every server replica using the same
// Redis instance.
type RedisLocker struct {
	client *redis.Client
	config RedisConfig
	logger *zap.SugaredLogger
}

// NewRedisLocker creates a RedisLocker with its own client.
func NewRedisLocker(cfg RedisConfig, logger *zap.SugaredLogger) *RedisLocker {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newRedisLocker(client, cfg, logger)
}

func newRedisLocker(client *redis.Client, cfg RedisConfig, logger *zap.SugaredLogger) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "siemlite:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 5 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 25 * time.Millisecond
	}
	return &RedisLocker{client: client, config: cfg, logger: logger}
}

// Ping tests the Redis connection.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, l.config.Wait)
	defer cancel()

	redisKey := l.config.Prefix + key
	token := uuid.New().String()

	ticker := time.NewTicker(l.config.Retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.config.TTL).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			var once sync.Once
			return func() { once.Do(func() { l.release(redisKey, token) }) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
		l.logger.Warnw("failed to release lock", "key", redisKey, "error", err)
	}
}
