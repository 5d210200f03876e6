package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/expense-reconciler/internal/application/port"
)

// RedisConfig holds the distributed lock settings
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	KeyPrefix     string
	TTL           time.Duration
	RetryInterval time.Duration
	RetryCount    int

	// RefreshInterval is how often a held lease extends its TTL; zero means TTL/3
	RefreshInterval time.Duration
}

// RedisLocker serializes work across instances with bsm/redislock
type RedisLocker struct {
	client *redis.Client
	locker *redislock.Client
	cfg    RedisConfig
	logger *zap.Logger
}

// NewRedisLocker connects to Redis and verifies the connection
func NewRedisLocker(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisLocker, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 100 * time.Millisecond
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 50
	}
	if cfg.RefreshInterval <= 0 || cfg.RefreshInterval >= cfg.TTL {
		cfg.RefreshInterval = cfg.TTL / 3
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	logger.Info("Connected to redis lock backend",
		zap.String("addr", cfg.Addr),
		zap.Duration("ttl", cfg.TTL),
		zap.Duration("retry_interval", cfg.RetryInterval),
		zap.Int("retry_count", cfg.RetryCount),
		zap.Duration("refresh_interval", cfg.RefreshInterval))

	return &RedisLocker{
		client: client,
		locker: redislock.New(client),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Obtain takes the lock, retrying at a fixed interval up to RetryCount times
func (l *RedisLocker) Obtain(ctx context.Context, key string) (port.Lease, error) {
	fullKey := l.cfg.KeyPrefix + key

	lk, err := l.locker.Obtain(ctx, fullKey, l.cfg.TTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.cfg.RetryInterval), l.cfg.RetryCount),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		l.logger.Warn("Could not obtain lock", zap.String("key", fullKey))
		return nil, fmt.Errorf("%w: %s", port.ErrLockNotObtained, key)
	}
	if err != nil {
		l.logger.Error("Error obtaining lock", zap.String("key", fullKey), zap.Error(err))
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}

	lease := &redisLease{
		lock:   lk,
		key:    key,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: l.logger,
	}
	go lease.keepAlive(l.cfg.TTL, l.cfg.RefreshInterval)
	return lease, nil
}

// Close closes the redis client
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// redisLease extends its TTL in the background until released, so a unit
// that outlives TTL keeps the key
type redisLease struct {
	lock   *redislock.Lock
	key    string
	logger *zap.Logger

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu   sync.Mutex
	lost bool
}

func (r *redisLease) keepAlive(ttl, every time.Duration) {
	defer close(r.done)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			err := r.lock.Refresh(ctx, ttl, nil)
			cancel()
			if err == nil {
				continue
			}
			if errors.Is(err, redislock.ErrNotObtained) {
				r.mu.Lock()
				r.lost = true
				r.mu.Unlock()
				r.logger.Error("Lock lost before release", zap.String("key", r.key))
				return
			}
			r.logger.Warn("Failed to refresh lock", zap.String("key", r.key), zap.Error(err))
		}
	}
}

func (r *redisLease) Release(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done

	r.mu.Lock()
	lost := r.lost
	r.mu.Unlock()
	if lost {
		return fmt.Errorf("%w: %s expired while held", ErrNotHeld, r.key)
	}

	err := r.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return fmt.Errorf("%w: %s", ErrNotHeld, r.key)
	}
	return err
}

var _ port.Locker = (*RedisLocker)(nil)
