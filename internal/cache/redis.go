package cache

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultOperationTimeout = 250 * time.Millisecond
	defaultProbeAttempts    = 3
	defaultProbeDelay       = 400 * time.Millisecond
)

var errMissingRedisAddress = errors.New("cache: redis address is required")

// RedisConfig describes how to reach the Redis backend.
type RedisConfig struct {
	Address          string
	Password         string
	DB               int
	OperationTimeout time.Duration
	Logger           *zap.Logger
	OnFailure        FailureObserver
}

// Redis is a fail-open cache backed by a Redis server.
type Redis struct {
	client    *redis.Client
	timeout   time.Duration
	logger    *zap.Logger
	onFailure FailureObserver
}

// NewRedis constructs a Redis cache. It does not contact the server; use Probe for that.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Address == "" {
		return nil, errMissingRedisAddress
	}
	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = defaultOperationTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   -1,
	})
	return &Redis{
		client:    client,
		timeout:   timeout,
		logger:    logger.Named("cache.redis"),
		onFailure: cfg.OnFailure,
	}, nil
}

// Probe pings the server, retrying a few times before giving up. Callers are expected to
// keep running with the cache in fail-open mode when Probe returns an error.
func (c *Redis) Probe(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errMissingRedisAddress
	}
	return retry.Do(
		func() error {
			opCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return c.client.Ping(opCtx).Err()
		},
		retry.Context(ctx),
		retry.Attempts(defaultProbeAttempts),
		retry.Delay(defaultProbeDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			c.logger.Debug("redis probe retry", zap.Uint("attempt", attempt), zap.Error(err))
		}),
	)
}

func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	opCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	value, err := c.client.Get(opCtx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.fail(operationGet, key, err)
		return nil, false
	}
	return value, true
}

func (c *Redis) SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Set(opCtx, key, value, ttl).Err(); err != nil {
		c.fail(operationSet, key, err)
	}
}

func (c *Redis) Delete(ctx context.Context, key string) {
	if c == nil || c.client == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Del(opCtx, key).Err(); err != nil {
		c.fail(operationDelete, key, err)
	}
}

func (c *Redis) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Redis) fail(operation, key string, err error) {
	c.logger.Warn("cache operation failed",
		zap.String("operation", operation),
		zap.String("key", key),
		zap.Error(err))
	if c.onFailure != nil {
		c.onFailure(operation)
	}
}
