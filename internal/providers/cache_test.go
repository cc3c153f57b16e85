package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexrun/dexrun/internal/scoring"
)

type memoryCache struct {
	entries map[string]map[string]float64
	sets    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]map[string]float64)}
}

func (c *memoryCache) Get(ctx context.Context, key string) (map[string]float64, bool) {
	values, ok := c.entries[key]
	return values, ok
}

func (c *memoryCache) Set(ctx context.Context, key string, values map[string]float64, ttl time.Duration) {
	c.entries[key] = values
	c.sets++
}

type countingData struct {
	calls int
	err   error
}

func (d *countingData) FetchMetrics(ctx context.Context, category scoring.Category, target string) (scoring.MetricSet, error) {
	d.calls++
	if d.err != nil {
		return scoring.MetricSet{}, d.err
	}
	return scoring.NewMetricSet(category, map[string]float64{"a": 0.3, "b": 0.7})
}

func TestCachedMarketDataServesFromCache(t *testing.T) {
	upstream := &countingData{}
	cache := newMemoryCache()
	data := NewCachedMarketData(upstream, cache, time.Minute)

	first, err := data.FetchMetrics(context.Background(), scoring.CategoryMarket, "0xP")
	require.NoError(t, err)
	assert.Equal(t, 1, upstream.calls)
	assert.Equal(t, 1, cache.sets)

	second, err := data.FetchMetrics(context.Background(), scoring.CategoryMarket, "0xP")
	require.NoError(t, err)
	assert.Equal(t, 1, upstream.calls, "second read must come from cache")
	assert.Equal(t, first.Raw(), second.Raw())
}

func TestCachedMarketDataKeysByCategoryAndTarget(t *testing.T) {
	upstream := &countingData{}
	data := NewCachedMarketData(upstream, newMemoryCache(), time.Minute)

	_, err := data.FetchMetrics(context.Background(), scoring.CategoryMarket, "0xP")
	require.NoError(t, err)
	_, err = data.FetchMetrics(context.Background(), scoring.CategoryVolume, "0xP")
	require.NoError(t, err)
	_, err = data.FetchMetrics(context.Background(), scoring.CategoryMarket, "0xOTHER")
	require.NoError(t, err)

	assert.Equal(t, 3, upstream.calls)
}

func TestCachedMarketDataErrorNotCached(t *testing.T) {
	upstream := &countingData{err: errors.New("upstream down")}
	cache := newMemoryCache()
	data := NewCachedMarketData(upstream, cache, time.Minute)

	_, err := data.FetchMetrics(context.Background(), scoring.CategoryMarket, "0xP")
	assert.Error(t, err)
	assert.Equal(t, 0, cache.sets)

	// Recovery is immediate once the upstream heals.
	upstream.err = nil
	_, err = data.FetchMetrics(context.Background(), scoring.CategoryMarket, "0xP")
	assert.NoError(t, err)
}

func TestOfflineProviderDeterministicMetrics(t *testing.T) {
	p := NewOfflineProvider()

	a, err := p.FetchMetrics(context.Background(), scoring.CategoryToken, "0xT")
	require.NoError(t, err)
	b, err := p.FetchMetrics(context.Background(), scoring.CategoryToken, "0xT")
	require.NoError(t, err)
	assert.Equal(t, a.Raw(), b.Raw())

	other, err := p.FetchMetrics(context.Background(), scoring.CategoryToken, "0xOTHER")
	require.NoError(t, err)
	assert.NotEqual(t, a.Raw(), other.Raw())

	for _, v := range a.Raw() {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}

	_, err = p.FetchMetrics(context.Background(), scoring.CategorySafety, "0xT")
	assert.Error(t, err, "safety is derived, not fetched")
}

func TestOfflineProviderSubmitFills(t *testing.T) {
	p := NewOfflineProvider()

	result, err := p.Submit(context.Background(), TradeOrder{
		Side: SideBuy, Token: "0xT", Pair: "0xP", AmountUSD: 10, GasLimit: 200000,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Greater(t, result.Price, 0.0)
	assert.NotEmpty(t, result.TxHash)
}
