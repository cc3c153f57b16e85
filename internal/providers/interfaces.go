// Package providers defines the external collaborators the engine consumes
// (market data, chain reads, trade execution) and the resilience decorators
// wrapped around them. Wire formats are the concern of each implementation.
package providers

import (
	"context"
	"time"

	"github.com/dexrun/dexrun/internal/scoring"
)

// MarketDataProvider supplies raw per-category metrics for a token or pair.
// It may fail or be partially unavailable; scoring recovers with sentinels.
type MarketDataProvider interface {
	FetchMetrics(ctx context.Context, category scoring.Category, target string) (scoring.MetricSet, error)
}

// PriceSource reads the current spot price for a pair.
type PriceSource interface {
	CurrentPrice(ctx context.Context, pair string) (float64, error)
}

// Block is the subset of block data gas pricing needs. Fees are in wei.
type Block struct {
	Number    uint64    `json:"number"`
	BaseFee   float64   `json:"base_fee"`
	GasUsed   uint64    `json:"gas_used"`
	GasLimit  uint64    `json:"gas_limit"`
	Timestamp time.Time `json:"timestamp"`
	TxHashes  []string  `json:"tx_hashes"`
}

// Transaction carries the fee fields of an on-chain transaction. Legacy
// transactions have no max fee; HasMaxFee distinguishes them from zero.
type Transaction struct {
	Hash         string  `json:"hash"`
	MaxFeePerGas float64 `json:"max_fee_per_gas"`
	HasMaxFee    bool    `json:"has_max_fee"`
}

// ChainReader exposes the read-only chain queries the engine depends on.
type ChainReader interface {
	LatestBlock(ctx context.Context) (Block, error)
	RecentBlocks(ctx context.Context, n int) ([]Block, error)
	Transaction(ctx context.Context, hash string) (Transaction, error)
	GasPrice(ctx context.Context) (float64, error)
	SuggestPriorityFee(ctx context.Context) (float64, error)
}

// OrderSide is the direction of a trade.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// TradeOrder is the single explicit submission signature. Both the
// pair-address and amount-plus-slippage calling conventions of older agents
// are fields here; there is no argument-position sniffing.
type TradeOrder struct {
	Side           OrderSide `json:"side"`
	Token          string    `json:"token"`
	Pair           string    `json:"pair"`
	AmountUSD      float64   `json:"amount_usd"`
	MaxSlippagePct float64   `json:"max_slippage_pct"`
	GasPrice       float64   `json:"gas_price"`
	GasLimit       uint64    `json:"gas_limit"`
}

// TradeResult is the outcome of a submission. A revert surfaces as
// Success=false with the hash of the reverted transaction when known.
type TradeResult struct {
	Success bool    `json:"success"`
	TxHash  string  `json:"tx_hash"`
	Price   float64 `json:"price"`
	GasUsed uint64  `json:"gas_used"`
}

// TradeExecutor submits trades. Submissions are never retried automatically:
// retrying a submitted transaction risks duplicate execution, so failures
// surface as failed-trade results.
type TradeExecutor interface {
	Submit(ctx context.Context, order TradeOrder) (TradeResult, error)
}
