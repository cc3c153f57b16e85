package providers

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/dexrun/dexrun/internal/scoring"
)

// OfflineProvider is a deterministic fixture implementation of the external
// collaborators, used by the CLI for offline runs and demos. Values are
// seeded from the target string so repeated runs are reproducible.
type OfflineProvider struct {
	mu      sync.Mutex
	block   uint64
	gasBase float64
}

// NewOfflineProvider builds a fixture provider with a plausible gas regime.
func NewOfflineProvider() *OfflineProvider {
	return &OfflineProvider{block: 19_000_000, gasBase: 8e9}
}

func seededRand(parts ...string) *rand.Rand {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

var offlineMetricNames = map[scoring.Category][]string{
	scoring.CategoryPrice:     {"spike_score", "wall_score", "coordination_score"},
	scoring.CategoryVolume:    {"volume_quality", "wash_score", "spike_score"},
	scoring.CategoryLiquidity: {"depth_score", "removal_score", "lock_score"},
	scoring.CategoryHolder:    {"top_holder_share", "holder_count_score", "team_share"},
	scoring.CategoryContract:  {"verification", "honeypot_score", "tax_score"},
	scoring.CategoryTrading:   {"sandwich_score", "frontrun_score", "suspicious_accounts"},
	scoring.CategoryToken:     {"contract_risk", "holder_risk", "liquidity_risk", "age_risk"},
	scoring.CategoryMarket:    {"volatility", "liquidity", "momentum", "correlation"},
	scoring.CategoryPosition:  {"concentration", "timing"},
	scoring.CategoryPortfolio: {"diversification", "correlation", "drawdown", "exposure"},
	scoring.CategoryTechnical: {"trend", "momentum", "volatility", "support_resistance"},
	scoring.CategoryMomentum:  {"price_momentum", "volume_momentum", "breakout", "reversal"},
}

// FetchMetrics returns a seeded metric set in [0,1] per metric.
func (p *OfflineProvider) FetchMetrics(ctx context.Context, category scoring.Category, target string) (scoring.MetricSet, error) {
	names, ok := offlineMetricNames[category]
	if !ok {
		return scoring.MetricSet{}, fmt.Errorf("offline provider has no fixtures for category %q", category)
	}
	rng := seededRand(string(category), target)
	values := make(map[string]float64, len(names))
	for _, name := range names {
		values[name] = rng.Float64()
	}
	return scoring.NewMetricSet(category, values)
}

// CurrentPrice returns a slowly drifting seeded price.
func (p *OfflineProvider) CurrentPrice(ctx context.Context, pair string) (float64, error) {
	rng := seededRand("price", pair)
	base := 0.5 + rng.Float64()*2
	drift := 1 + 0.02*(rand.Float64()-0.5)
	return base * drift, nil
}

func (p *OfflineProvider) LatestBlock(ctx context.Context) (Block, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.block++
	used := uint64(12_000_000 + rand.Intn(18_000_000))
	return Block{
		Number:    p.block,
		BaseFee:   p.gasBase * (0.9 + 0.2*rand.Float64()),
		GasUsed:   used,
		GasLimit:  30_000_000,
		Timestamp: time.Now(),
		TxHashes:  []string{fmt.Sprintf("0x%x", p.block)},
	}, nil
}

func (p *OfflineProvider) RecentBlocks(ctx context.Context, n int) ([]Block, error) {
	blocks := make([]Block, 0, n)
	for i := 0; i < n; i++ {
		b, err := p.LatestBlock(ctx)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func (p *OfflineProvider) Transaction(ctx context.Context, hash string) (Transaction, error) {
	rng := seededRand("tx", hash)
	return Transaction{
		Hash:         hash,
		MaxFeePerGas: p.gasBase * (1.1 + 0.3*rng.Float64()),
		HasMaxFee:    true,
	}, nil
}

func (p *OfflineProvider) GasPrice(ctx context.Context) (float64, error) {
	return p.gasBase * (0.95 + 0.1*rand.Float64()), nil
}

func (p *OfflineProvider) SuggestPriorityFee(ctx context.Context) (float64, error) {
	return 1.5e9, nil
}

// Submit simulates a successful fill at the current fixture price.
func (p *OfflineProvider) Submit(ctx context.Context, order TradeOrder) (TradeResult, error) {
	price, _ := p.CurrentPrice(ctx, order.Pair)
	return TradeResult{
		Success: true,
		TxHash:  fmt.Sprintf("0xsim%s%d", order.Side, time.Now().UnixNano()),
		Price:   price,
		GasUsed: order.GasLimit * 8 / 10,
	}, nil
}
