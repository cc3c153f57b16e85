package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	cb "github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/dexrun/dexrun/internal/errs"
	"github.com/dexrun/dexrun/internal/scoring"
)

// Guard wraps idempotent read paths with a circuit breaker, a rate limiter,
// and bounded retry-with-backoff. Write paths must not go through a Guard.
type Guard struct {
	breaker *cb.CircuitBreaker
	limiter *rate.Limiter
	retries int
	backoff time.Duration
}

// NewGuard builds a guard tripping after 3 consecutive failures or a 5%
// failure rate over at least 20 requests.
func NewGuard(name string, rps float64, retries int, backoff time.Duration) *Guard {
	st := cb.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.05
	}
	return &Guard{
		breaker: cb.NewCircuitBreaker(st),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		retries: retries,
		backoff: backoff,
	}
}

// Do runs fn under the limiter and breaker, retrying transient failures with
// linear backoff. The last error is wrapped as ErrDataUnavailable.
func (g *Guard) Do(ctx context.Context, op string, fn func() (any, error)) (any, error) {
	var lastErr error
	for attempt := 0; attempt <= g.retries; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		out, err := g.breaker.Execute(fn)
		if err == nil {
			return out, nil
		}
		lastErr = err
		log.Debug().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("guarded read failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * g.backoff):
		}
	}
	return nil, fmt.Errorf("%w: %s: %v", errs.ErrDataUnavailable, op, lastErr)
}

// GuardedChainReader decorates a ChainReader with a Guard on every query.
type GuardedChainReader struct {
	inner ChainReader
	guard *Guard
}

// NewGuardedChainReader wraps reader with sane defaults for RPC reads.
func NewGuardedChainReader(reader ChainReader) *GuardedChainReader {
	return &GuardedChainReader{
		inner: reader,
		guard: NewGuard("chain_reader", 20, 2, 250*time.Millisecond),
	}
}

func (g *GuardedChainReader) LatestBlock(ctx context.Context) (Block, error) {
	out, err := g.guard.Do(ctx, "latest_block", func() (any, error) {
		return g.inner.LatestBlock(ctx)
	})
	if err != nil {
		return Block{}, err
	}
	return out.(Block), nil
}

func (g *GuardedChainReader) RecentBlocks(ctx context.Context, n int) ([]Block, error) {
	out, err := g.guard.Do(ctx, "recent_blocks", func() (any, error) {
		return g.inner.RecentBlocks(ctx, n)
	})
	if err != nil {
		return nil, err
	}
	return out.([]Block), nil
}

func (g *GuardedChainReader) Transaction(ctx context.Context, hash string) (Transaction, error) {
	out, err := g.guard.Do(ctx, "transaction", func() (any, error) {
		return g.inner.Transaction(ctx, hash)
	})
	if err != nil {
		return Transaction{}, err
	}
	return out.(Transaction), nil
}

func (g *GuardedChainReader) GasPrice(ctx context.Context) (float64, error) {
	out, err := g.guard.Do(ctx, "gas_price", func() (any, error) {
		return g.inner.GasPrice(ctx)
	})
	if err != nil {
		return 0, err
	}
	return out.(float64), nil
}

func (g *GuardedChainReader) SuggestPriorityFee(ctx context.Context) (float64, error) {
	out, err := g.guard.Do(ctx, "suggest_priority_fee", func() (any, error) {
		return g.inner.SuggestPriorityFee(ctx)
	})
	if err != nil {
		return 0, err
	}
	return out.(float64), nil
}

// GuardedMarketData decorates a MarketDataProvider with a Guard.
type GuardedMarketData struct {
	inner MarketDataProvider
	guard *Guard
}

// NewGuardedMarketData wraps provider with defaults for HTTP data APIs.
func NewGuardedMarketData(provider MarketDataProvider) *GuardedMarketData {
	return &GuardedMarketData{
		inner: provider,
		guard: NewGuard("market_data", 10, 2, 500*time.Millisecond),
	}
}

func (g *GuardedMarketData) FetchMetrics(ctx context.Context, category scoring.Category, target string) (scoring.MetricSet, error) {
	out, err := g.guard.Do(ctx, "fetch_metrics", func() (any, error) {
		return g.inner.FetchMetrics(ctx, category, target)
	})
	if err != nil {
		return scoring.MetricSet{}, err
	}
	return out.(scoring.MetricSet), nil
}
