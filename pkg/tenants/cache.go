package tenants

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/AOT-Technologies/m8flow/pkg/config"
	"github.com/AOT-Technologies/m8flow/pkg/observability"
)

// cacheEntry remembers one existence check with its expiry. Negative
// results are cached too, with a shorter TTL so a just-created tenant
// becomes visible quickly.
type cacheEntry struct {
	exists    bool
	expiresAt time.Time
}

// ValidatingCache answers tenant existence checks with an in-process LRU
// in front of Redis in front of the database. It implements
// tenancy.Validator and sits on the hot path of every request.
type ValidatingCache struct {
	service Service
	l1      *lru.Cache[string, cacheEntry]
	redis   *redis.Client
	ttl     time.Duration
	// negativeTTL bounds how long a "does not exist" answer is trusted
	negativeTTL time.Duration
	metrics     *observability.Metrics
}

// NewValidatingCache wires the two cache layers. redisClient may be nil;
// the cache then runs on the LRU alone.
func NewValidatingCache(service Service, redisClient *redis.Client, cfg config.RedisConfig, metrics *observability.Metrics) (*ValidatingCache, error) {
	size := cfg.L1CacheSize
	if size <= 0 {
		size = 1024
	}
	l1, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant LRU cache: %w", err)
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &ValidatingCache{
		service:     service,
		l1:          l1,
		redis:       redisClient,
		ttl:         ttl,
		negativeTTL: ttl / 5,
		metrics:     metrics,
	}, nil
}

// NewRedisClient builds the Redis client for the tenant cache from config.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB >= 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

func cacheKey(tenantID string) string {
	return fmt.Sprintf("m8flow:tenant:exists:%s", tenantID)
}

// TenantExists checks L1, then Redis, then the database.
func (c *ValidatingCache) TenantExists(ctx context.Context, tenantID string) (bool, error) {
	now := time.Now()

	if entry, ok := c.l1.Get(tenantID); ok && now.Before(entry.expiresAt) {
		c.countHit("l1")
		return entry.exists, nil
	}
	c.countMiss("l1")

	if c.redis != nil {
		val, err := c.redis.Get(ctx, cacheKey(tenantID)).Result()
		if err == nil {
			exists := val == "1"
			c.countHit("l2")
			c.store(tenantID, exists, now)
			return exists, nil
		}
		// Redis being down never fails a request; fall through to the
		// database.
		c.countMiss("l2")
	}

	exists, err := c.service.TenantExists(ctx, tenantID)
	if err != nil {
		return false, err
	}
	c.store(tenantID, exists, now)

	if c.redis != nil {
		val := "0"
		ttl := c.negativeTTL
		if exists {
			val = "1"
			ttl = c.ttl
		}
		c.redis.Set(ctx, cacheKey(tenantID), val, ttl)
	}

	return exists, nil
}

func (c *ValidatingCache) store(tenantID string, exists bool, now time.Time) {
	ttl := c.negativeTTL
	if exists {
		ttl = c.ttl
	}
	c.l1.Add(tenantID, cacheEntry{exists: exists, expiresAt: now.Add(ttl)})
}

// Invalidate drops cached state for a tenant. Called after create,
// delete, and status changes.
func (c *ValidatingCache) Invalidate(ctx context.Context, tenantID string) {
	c.l1.Remove(tenantID)
	if c.redis != nil {
		c.redis.Del(ctx, cacheKey(tenantID))
	}
}

func (c *ValidatingCache) countHit(layer string) {
	if c.metrics != nil {
		c.metrics.TenantCacheHitsTotal.WithLabelValues(layer).Inc()
	}
}

func (c *ValidatingCache) countMiss(layer string) {
	if c.metrics != nil {
		c.metrics.TenantCacheMissesTotal.WithLabelValues(layer).Inc()
	}
}
