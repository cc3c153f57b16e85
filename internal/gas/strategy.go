// Package gas estimates transaction parameters from live network conditions:
// an EIP-1559 style optimal price from base fee, priority fee history and
// observed volatility, and a gas limit scaled by block congestion.
package gas

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dexrun/dexrun/internal/config"
	"github.com/dexrun/dexrun/internal/errs"
	"github.com/dexrun/dexrun/internal/providers"
)

// OpType selects the base gas-limit estimate for a transaction.
type OpType string

const (
	OpSwap     OpType = "swap"
	OpApprove  OpType = "approve"
	OpTransfer OpType = "transfer"
)

var baseLimits = map[OpType]uint64{
	OpSwap:     200000,
	OpApprove:  100000,
	OpTransfer: 65000,
}

// Quote is a per-request gas estimate. It is recomputed from the rolling
// window on every call and never persisted.
type Quote struct {
	GasPrice      float64 `json:"gas_price"`
	GasLimit      uint64  `json:"gas_limit"`
	EstimatedCost float64 `json:"estimated_cost"` // native token units
	High          bool    `json:"high"`
}

// WaitOutcome is the tri-state result of a bounded wait for cheaper gas.
type WaitOutcome int

const (
	WaitImproved WaitOutcome = iota
	WaitTimedOut
)

type sample struct {
	at    time.Time
	price float64
}

// Strategy owns the rolling gas price window. The window is mutated only
// under the strategy's lock and readers always take a copied snapshot, so a
// refresh can never race an iteration.
type Strategy struct {
	chain providers.ChainReader
	cfg   config.GasConfig

	mu         sync.Mutex
	history    []sample
	lastUpdate time.Time

	now func() time.Time
}

// NewStrategy builds a gas strategy over the given chain reader.
func NewStrategy(chain providers.ChainReader, cfg config.GasConfig) *Strategy {
	return &Strategy{chain: chain, cfg: cfg, now: time.Now}
}

// Quote returns the optimal price and limit for one operation type.
func (s *Strategy) Quote(ctx context.Context, op OpType) (Quote, error) {
	price, err := s.OptimalGasPrice(ctx)
	if err != nil {
		return Quote{}, err
	}
	limit, err := s.gasLimit(ctx, op)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		GasPrice:      price,
		GasLimit:      limit,
		EstimatedCost: price * float64(limit) / 1e18, // wei to native units
		High:          s.IsHigh(price),
	}, nil
}

// OptimalGasPrice computes min(baseFee*buffer + priorityFee, MaxGasPrice).
// The buffer widens with observed price volatility, capped at +50%.
func (s *Strategy) OptimalGasPrice(ctx context.Context) (float64, error) {
	if err := s.refreshHistory(ctx); err != nil {
		log.Warn().Err(err).Msg("gas history refresh failed, pricing from stale window")
	}

	block, err := s.chain.LatestBlock(ctx)
	if err != nil {
		// Degrade to the node's own estimate rather than failing the trade.
		price, gpErr := s.chain.GasPrice(ctx)
		if gpErr != nil {
			return 0, fmt.Errorf("%w: optimal gas price: %v", errs.ErrDataUnavailable, err)
		}
		return min(price, s.cfg.MaxGasPrice), nil
	}

	priority, err := s.priorityFee(ctx)
	if err != nil {
		return 0, err
	}

	buffer := s.bufferMultiplier()
	optimal := block.BaseFee*buffer + priority
	return min(optimal, s.cfg.MaxGasPrice), nil
}

// IsHigh reports whether price exceeds 1.3x the rolling-window mean. An empty
// window never flags high.
func (s *Strategy) IsHigh(price float64) bool {
	prices := s.snapshotPrices()
	if len(prices) == 0 {
		return false
	}
	return price > mean(prices)*1.3
}

// WaitForBetterGas polls until the optimal price drops to 80% of its value at
// call time or maxWait elapses. The timeout outcome is distinct from both
// success and failure.
func (s *Strategy) WaitForBetterGas(ctx context.Context, maxWait time.Duration) (WaitOutcome, error) {
	initial, err := s.OptimalGasPrice(ctx)
	if err != nil {
		return WaitTimedOut, err
	}
	target := initial * 0.8

	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return WaitTimedOut, ctx.Err()
		case <-deadline.C:
			return WaitTimedOut, nil
		case <-ticker.C:
			current, err := s.OptimalGasPrice(ctx)
			if err != nil {
				log.Debug().Err(err).Msg("gas poll failed while waiting")
				continue
			}
			if current <= target {
				log.Info().Float64("initial", initial).Float64("current", current).
					Msg("gas price improved")
				return WaitImproved, nil
			}
		}
	}
}

func (s *Strategy) gasLimit(ctx context.Context, op OpType) (uint64, error) {
	base, ok := baseLimits[op]
	if !ok {
		base = baseLimits[OpSwap]
	}

	multiplier := 1.2 // fallback when the latest block is unreadable
	if block, err := s.chain.LatestBlock(ctx); err == nil && block.GasLimit > 0 {
		utilization := float64(block.GasUsed) / float64(block.GasLimit)
		switch {
		case utilization > 0.8:
			multiplier = 1.3
		case utilization > 0.5:
			multiplier = 1.2
		default:
			multiplier = 1.1
		}
	}

	limit := uint64(float64(base) * multiplier)
	if limit > s.cfg.GasLimitCeiling {
		limit = s.cfg.GasLimitCeiling
	}
	return limit, nil
}

// priorityFee is the median (maxFeePerGas - baseFee) over recent blocks,
// falling back to the node's suggested tip when no fee data is sampled.
func (s *Strategy) priorityFee(ctx context.Context) (float64, error) {
	n := s.cfg.PriorityBlocks
	if n <= 0 {
		n = 10
	}
	blocks, err := s.chain.RecentBlocks(ctx, n)
	if err != nil {
		return s.suggestedTip(ctx)
	}

	var tips []float64
	for _, block := range blocks {
		for _, hash := range block.TxHashes {
			tx, err := s.chain.Transaction(ctx, hash)
			if err != nil || !tx.HasMaxFee {
				continue
			}
			if tip := tx.MaxFeePerGas - block.BaseFee; tip > 0 {
				tips = append(tips, tip)
			}
		}
	}
	if len(tips) == 0 {
		return s.suggestedTip(ctx)
	}
	return median(tips), nil
}

func (s *Strategy) suggestedTip(ctx context.Context) (float64, error) {
	tip, err := s.chain.SuggestPriorityFee(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: priority fee: %v", errs.ErrDataUnavailable, err)
	}
	return tip, nil
}

// refreshHistory appends the node gas price to the window, at most once per
// update interval, pruning entries older than the retention horizon.
func (s *Strategy) refreshHistory(ctx context.Context) error {
	s.mu.Lock()
	due := s.now().Sub(s.lastUpdate) >= s.cfg.UpdateInterval
	s.mu.Unlock()
	if !due {
		return nil
	}

	price, err := s.chain.GasPrice(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.history = append(s.history, sample{at: now, price: price})
	cutoff := now.Add(-s.cfg.HistoryRetention)
	kept := s.history[:0]
	for _, entry := range s.history {
		if entry.at.After(cutoff) {
			kept = append(kept, entry)
		}
	}
	s.history = kept
	s.lastUpdate = now
	return nil
}

// bufferMultiplier is 1.1 plus up to 0.5 of volatility adjustment. With fewer
// than two history points it stays at the 10% default.
func (s *Strategy) bufferMultiplier() float64 {
	prices := s.snapshotPrices()
	if len(prices) < 2 {
		return 1.1
	}
	m := mean(prices)
	if m == 0 {
		return 1.1
	}
	volatility := stdev(prices) / m
	return 1.1 + min(volatility*2, 0.5)
}

func (s *Strategy) snapshotPrices() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	prices := make([]float64, len(s.history))
	for i, entry := range s.history {
		prices[i] = entry.price
	}
	return prices
}
