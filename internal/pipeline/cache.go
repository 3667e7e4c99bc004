package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/symptom-intake-server/internal/domain"
	"github.com/symptom-intake-server/internal/report"
)

// Cache stores finished reports by answer-set fingerprint.
type Cache interface {
	Get(ctx context.Context, fingerprint string) (*domain.Report, bool)
	Put(ctx context.Context, fingerprint string, r *domain.Report)
}

// LocalCache is an in-process LRU of reports.
type LocalCache struct {
	entries *lru.Cache[string, *domain.Report]
}

// NewLocalCache creates a cache holding at most size reports.
func NewLocalCache(size int) (*LocalCache, error) {
	if size <= 0 {
		size = 1024
	}
	entries, err := lru.New[string, *domain.Report](size)
	if err != nil {
		return nil, fmt.Errorf("creating run cache: %w", err)
	}
	return &LocalCache{entries: entries}, nil
}

func (c *LocalCache) Get(_ context.Context, fingerprint string) (*domain.Report, bool) {
	return c.entries.Get(fingerprint)
}

func (c *LocalCache) Put(_ context.Context, fingerprint string, r *domain.Report) {
	c.entries.Add(fingerprint, r)
}

// Len is the number of cached reports.
func (c *LocalCache) Len() int { return c.entries.Len() }

const redisKeyPrefix = "symptom-intake:report:"

type cachedReport struct {
	Report    json.RawMessage `json:"report"`
	CachedAt  time.Time       `json:"cached_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// RedisCache shares reports between server instances. Redis errors are logged and treated
// as misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// NewRedisCache connects to the configured Redis URL.
func NewRedisCache(config domain.CacheConfig, logger *logrus.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	if config.MaxRetries > 0 {
		opts.MaxRetries = config.MaxRetries
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisCacheWithClient(client, config.DefaultTTL, logger), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

// Client exposes the underlying connection for other Redis users such as the notary sink.
func (c *RedisCache) Client() *redis.Client { return c.client }

func (c *RedisCache) Get(ctx context.Context, fingerprint string) (*domain.Report, bool) {
	key := redisKeyPrefix + fingerprint
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.WithError(err).Warn("Run cache lookup failed")
		return nil, false
	}

	var cached cachedReport
	if err := json.Unmarshal(val, &cached); err != nil || time.Now().After(cached.ExpiresAt) {
		c.client.Del(ctx, key)
		return nil, false
	}
	r, err := report.Decode(cached.Report)
	if err != nil {
		c.client.Del(ctx, key)
		return nil, false
	}
	return r, true
}

func (c *RedisCache) Put(ctx context.Context, fingerprint string, r *domain.Report) {
	body, err := json.Marshal(r)
	if err != nil {
		c.logger.WithError(err).Warn("Encoding report for run cache failed")
		return
	}
	now := time.Now()
	data, err := json.Marshal(cachedReport{Report: body, CachedAt: now, ExpiresAt: now.Add(c.ttl)})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, redisKeyPrefix+fingerprint, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("Run cache store failed")
	}
}

// Close releases the connection.
func (c *RedisCache) Close() error { return c.client.Close() }

// Tiered consults the local cache first and back-fills it from the shared one.
type Tiered struct {
	local  Cache
	shared Cache
}

// NewTiered combines a local and an optional shared cache.
func NewTiered(local, shared Cache) Cache {
	if shared == nil {
		return local
	}
	return &Tiered{local: local, shared: shared}
}

func (t *Tiered) Get(ctx context.Context, fingerprint string) (*domain.Report, bool) {
	if r, ok := t.local.Get(ctx, fingerprint); ok {
		return r, true
	}
	r, ok := t.shared.Get(ctx, fingerprint)
	if ok {
		t.local.Put(ctx, fingerprint, r)
	}
	return r, ok
}

func (t *Tiered) Put(ctx context.Context, fingerprint string, r *domain.Report) {
	t.local.Put(ctx, fingerprint, r)
	t.shared.Put(ctx, fingerprint, r)
}
