package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dexrun/dexrun/internal/config"
	"github.com/dexrun/dexrun/internal/providers"
	"github.com/dexrun/dexrun/internal/scoring"
)

// ManipulationReport is the outcome of the manipulation sub-check. Its score
// is an independent axis from general trade risk: a trade can be
// risk-acceptable yet manipulation-unsafe, and entry requires both.
type ManipulationReport struct {
	Score     float64                                    `json:"score"`
	Safe      bool                                       `json:"safe"`
	Checks    map[scoring.Category]scoring.CategoryScore `json:"checks"`
	Warnings  []string                                   `json:"warnings"`
	Timestamp time.Time                                  `json:"timestamp"`
}

// Detector scores sandwich, wash-trading, flash-loan and front-running
// pattern heuristics over five metric categories.
type Detector struct {
	data providers.MarketDataProvider
	cfg  config.ManipulationConfig
}

// NewDetector builds a manipulation detector.
func NewDetector(data providers.MarketDataProvider, cfg config.ManipulationConfig) *Detector {
	return &Detector{data: data, cfg: cfg}
}

// check pairs a metric category with the target it is fetched for.
type manipCheck struct {
	category scoring.Category
	onToken  bool // fetched for the token address rather than the pair
}

var manipChecks = []manipCheck{
	{category: scoring.CategoryPrice},
	{category: scoring.CategoryVolume},
	{category: scoring.CategoryLiquidity},
	{category: scoring.CategoryTrading, onToken: true},
	{category: scoring.CategoryContract, onToken: true},
}

// Check runs all pattern checks concurrently and combines them with the
// configured per-pattern weights. A failed check contributes the worst-case
// sentinel; the call never fails.
func (d *Detector) Check(ctx context.Context, token, pair string) ManipulationReport {
	results := make([]scoring.CategoryScore, len(manipChecks))

	var wg sync.WaitGroup
	wg.Add(len(manipChecks))
	for i, check := range manipChecks {
		go func(i int, check manipCheck) {
			defer wg.Done()
			target := pair
			if check.onToken {
				target = token
			}
			set, err := d.data.FetchMetrics(ctx, check.category, target)
			results[i] = scoring.NormalizeOr(set, err, check.category, scoring.SentinelMaxRisk)
		}(i, check)
	}
	wg.Wait()

	byCategory := make(map[scoring.Category]scoring.CategoryScore, len(results))
	weights := make(map[scoring.Category]float64, len(results))
	for i, check := range manipChecks {
		byCategory[check.category] = results[i]
		weights[check.category] = d.cfg.Weights[string(check.category)]
	}

	score := scoring.AggregateCategories(byCategory, weights)
	report := ManipulationReport{
		Score:     score,
		Safe:      score < d.cfg.MaxScore,
		Checks:    byCategory,
		Warnings:  d.warnings(results),
		Timestamp: time.Now(),
	}

	if !report.Safe {
		log.Warn().Str("token", token).Float64("score", score).
			Msg("manipulation check failed")
	}
	return report
}

func (d *Detector) warnings(results []scoring.CategoryScore) []string {
	var warnings []string
	for i, check := range manipChecks {
		threshold, ok := d.cfg.WarningThresholds[string(check.category)]
		if !ok {
			threshold = 0.8
		}
		if results[i].Score > threshold {
			warnings = append(warnings, fmt.Sprintf("high %s manipulation risk: %.2f", check.category, results[i].Score))
		}
	}
	return warnings
}
