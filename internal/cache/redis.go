package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/asharando/rideplan_core/internal/config"
	"github.com/asharando/rideplan_core/internal/models"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when a compute lock is still held after the wait budget
var ErrLockTimeout = errors.New("timeout waiting for lock")

var errStaleView = errors.New("view invalidated while computing")

const (
	lockPollInterval = 50 * time.Millisecond
	generationTTL    = 24 * time.Hour
)

// NewClient connects to Redis and verifies the connection with a ping
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}

	// Enable TLS if configured (required for Upstash)
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// Cache stores computed plan views and coordinates their computation
// across API instances with a SETNX lock
type Cache struct {
	rdb      *redis.Client
	ttl      time.Duration
	lockTTL  time.Duration
	lockWait time.Duration
}

// New wraps rdb with the TTLs from cfg
func New(rdb *redis.Client, cfg config.CacheConfig) *Cache {
	return &Cache{
		rdb:      rdb,
		ttl:      cfg.TTL,
		lockTTL:  cfg.LockTTL,
		lockWait: cfg.LockWait,
	}
}

func viewMode(estimate bool) string {
	if estimate {
		return "est"
	}
	return "std"
}

// PlanKey is the cache key of a base plan view
func PlanKey(slug string, estimate bool) string {
	return fmt.Sprintf("view:plan:%s:%s", slug, viewMode(estimate))
}

// CustomPlanKey is the cache key of a custom plan view
func CustomPlanKey(id int64, estimate bool) string {
	return fmt.Sprintf("view:custom:%d:%s", id, viewMode(estimate))
}

// PlanPattern matches every cached view of a base plan
func PlanPattern(slug string) string {
	return fmt.Sprintf("view:plan:%s:*", slug)
}

// CustomPlanPattern matches every cached view of a custom plan
func CustomPlanPattern(id int64) string {
	return fmt.Sprintf("view:custom:%d:*", id)
}

// AllCustomPlansPattern matches every cached custom plan view
const AllCustomPlansPattern = "view:custom:*"

// LockKey generates a mutex lock key
func LockKey(viewKey string) string {
	return fmt.Sprintf("lock:%s", viewKey)
}

// GetView retrieves a cached view; a miss returns nil without error
func (c *Cache) GetView(ctx context.Context, key string) (*models.PlanView, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var view models.PlanView
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached view: %w", err)
	}

	return &view, nil
}

// SetView caches a view for the configured TTL
func (c *Cache) SetView(ctx context.Context, key string, view *models.PlanView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to marshal view: %w", err)
	}

	return c.rdb.Set(ctx, key, data, c.ttl).Err()
}

// GenerationKey holds the invalidation counter of an invalidation pattern
func GenerationKey(pattern string) string {
	return fmt.Sprintf("gen:%s", pattern)
}

// Snapshot is the state of the invalidation counters a view is computed against
type Snapshot struct {
	keys   []string
	values []interface{}
}

// Snapshot reads the invalidation counters of patterns. Take it before loading
// the data a view is computed from.
func (c *Cache) Snapshot(ctx context.Context, patterns ...string) (Snapshot, error) {
	keys := make([]string, len(patterns))
	for i, pattern := range patterns {
		keys[i] = GenerationKey(pattern)
	}
	if len(keys) == 0 {
		return Snapshot{}, nil
	}

	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{keys: keys, values: values}, nil
}

func (s Snapshot) matches(values []interface{}) bool {
	if len(values) != len(s.values) {
		return false
	}
	for i := range values {
		if values[i] != s.values[i] {
			return false
		}
	}
	return true
}

// SetViewIfCurrent caches a view only while none of the snapshot's patterns has
// been invalidated since the snapshot was taken. It reports whether the view was stored.
func (c *Cache) SetViewIfCurrent(ctx context.Context, key string, view *models.PlanView, snap Snapshot) (bool, error) {
	if len(snap.keys) == 0 {
		return true, c.SetView(ctx, key, view)
	}

	data, err := json.Marshal(view)
	if err != nil {
		return false, fmt.Errorf("failed to marshal view: %w", err)
	}

	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		values, err := tx.MGet(ctx, snap.keys...).Result()
		if err != nil {
			return err
		}
		if !snap.matches(values) {
			return errStaleView
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}, snap.keys...)

	switch {
	case errors.Is(err, errStaleView), errors.Is(err, redis.TxFailedErr):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// Invalidate bumps the counter of every pattern and deletes every key matching one of them
func (c *Cache) Invalidate(ctx context.Context, patterns ...string) error {
	for _, pattern := range patterns {
		genKey := GenerationKey(pattern)
		pipe := c.rdb.TxPipeline()
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to bump %s: %w", genKey, err)
		}

		iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to scan %s: %w", pattern, err)
		}
		if len(keys) == 0 {
			continue
		}
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete %s: %w", pattern, err)
		}
	}
	return nil
}

// AcquireLock attempts to acquire the compute lock of a view.
// Returns true if the lock was acquired, false if it is already held.
func (c *Cache) AcquireLock(ctx context.Context, viewKey string) (bool, error) {
	return c.rdb.SetNX(ctx, LockKey(viewKey), "1", c.lockTTL).Result()
}

// ReleaseLock releases the compute lock of a view
func (c *Cache) ReleaseLock(ctx context.Context, viewKey string) error {
	return c.rdb.Del(ctx, LockKey(viewKey)).Err()
}

// WaitForLock waits for another instance to finish computing a view and then
// returns the cached result, which is nil if that instance failed to store one.
func (c *Cache) WaitForLock(ctx context.Context, viewKey string) (*models.PlanView, error) {
	lockKey := LockKey(viewKey)
	deadline := time.Now().Add(c.lockWait)

	for time.Now().Before(deadline) {
		exists, err := c.rdb.Exists(ctx, lockKey).Result()
		if err != nil {
			return nil, err
		}

		if exists == 0 {
			return c.GetView(ctx, viewKey)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}

	return nil, ErrLockTimeout
}

// HealthCheck pings Redis
func (c *Cache) HealthCheck(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redis ping failed: %w", err)
	}
	return nil
}

// Stats returns key count and connection pool stats
func (c *Cache) Stats(ctx context.Context) (map[string]interface{}, error) {
	keys, err := c.rdb.DBSize(ctx).Result()
	if err != nil {
		return nil, err
	}

	poolStats := c.rdb.PoolStats()

	return map[string]interface{}{
		"keys":        keys,
		"hits":        poolStats.Hits,
		"misses":      poolStats.Misses,
		"timeouts":    poolStats.Timeouts,
		"total_conns": poolStats.TotalConns,
		"idle_conns":  poolStats.IdleConns,
		"stale_conns": poolStats.StaleConns,
	}, nil
}
