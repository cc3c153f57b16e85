package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/dexrun/dexrun/internal/scoring"
)

// MetricCache stores recent metric fetches under short TTLs. Implementations
// are best effort: a cache failure must degrade to a direct fetch, never fail
// the read.
type MetricCache interface {
	Get(ctx context.Context, key string) (map[string]float64, bool)
	Set(ctx context.Context, key string, values map[string]float64, ttl time.Duration)
}

// RedisMetricCache is a MetricCache backed by redis with JSON values.
type RedisMetricCache struct {
	rdb *redis.Client
}

// NewRedisMetricCache connects a metric cache to the given redis address.
func NewRedisMetricCache(addr string) *RedisMetricCache {
	return &RedisMetricCache{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func (c *RedisMetricCache) Get(ctx context.Context, key string) (map[string]float64, bool) {
	raw, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("key", key).Msg("metric cache read failed")
		}
		return nil, false
	}
	var values map[string]float64
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("metric cache entry corrupt")
		return nil, false
	}
	return values, true
}

func (c *RedisMetricCache) Set(ctx context.Context, key string, values map[string]float64, ttl time.Duration) {
	raw, err := json.Marshal(values)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("metric cache write failed")
	}
}

// CachedMarketData decorates a MarketDataProvider with a short-TTL cache so a
// burst of category fetches inside one evaluation cycle does not hammer the
// upstream API.
type CachedMarketData struct {
	inner MarketDataProvider
	cache MetricCache
	ttl   time.Duration
}

// NewCachedMarketData builds the caching decorator.
func NewCachedMarketData(inner MarketDataProvider, cache MetricCache, ttl time.Duration) *CachedMarketData {
	return &CachedMarketData{inner: inner, cache: cache, ttl: ttl}
}

func (c *CachedMarketData) FetchMetrics(ctx context.Context, category scoring.Category, target string) (scoring.MetricSet, error) {
	key := fmt.Sprintf("metrics:%s:%s", category, target)
	if values, ok := c.cache.Get(ctx, key); ok {
		return scoring.NewMetricSet(category, values)
	}

	set, err := c.inner.FetchMetrics(ctx, category, target)
	if err != nil {
		return scoring.MetricSet{}, err
	}
	c.cache.Set(ctx, key, set.Raw(), c.ttl)
	return set, nil
}
