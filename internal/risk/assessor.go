// Package risk scores candidate trades and open positions on a 0-1 scale
// where 1 is maximum risk. Unavailable inputs always bias toward rejection:
// a category that cannot be computed contributes the maximum-risk sentinel
// rather than silently approving the trade.
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

// Assessment is the result of a trade risk evaluation.
type Assessment struct {
	Score      float64                                    `json:"score"`
	Acceptable bool                                       `json:"acceptable"`
	Factors    map[scoring.Category]scoring.CategoryScore `json:"factors"`
	Warnings   []string                                   `json:"warnings"`
	Timestamp  time.Time                                  `json:"timestamp"`
}

// PortfolioView supplies the portfolio-wide inputs for portfolio risk.
// Implementations return fractions in [0,1].
type PortfolioView interface {
	ExposureFraction() float64  // committed capital / capital limit
	DrawdownFraction() float64  // current drawdown / tolerated drawdown
	ConcentrationFraction() float64
}

// Assessor computes composite trade risk from four concurrently gathered
// categories with fixed weights.
type Assessor struct {
	data      providers.MarketDataProvider
	portfolio PortfolioView
	cfg       config.RiskConfig
	trading   config.TradingConfig
}

// NewAssessor builds a risk assessor. portfolio may be nil, in which case the
// portfolio category falls back to its worst-case sentinel.
func NewAssessor(data providers.MarketDataProvider, portfolio PortfolioView, cfg config.RiskConfig, trading config.TradingConfig) *Assessor {
	return &Assessor{data: data, portfolio: portfolio, cfg: cfg, trading: trading}
}

var riskCategories = []scoring.Category{
	scoring.CategoryToken,
	scoring.CategoryMarket,
	scoring.CategoryPosition,
	scoring.CategoryPortfolio,
}

// AssessTradeRisk gathers token, market, position, and portfolio risk
// concurrently and combines them with the configured weights. A failed branch
// falls back to the maximum-risk sentinel without cancelling its siblings,
// and the call itself never fails.
func (a *Assessor) AssessTradeRisk(ctx context.Context, token, pair string, amountUSD float64) Assessment {
	factors := make([]scoring.CategoryScore, len(riskCategories))

	var wg sync.WaitGroup
	wg.Add(len(riskCategories))
	go func() { defer wg.Done(); factors[0] = a.tokenRisk(ctx, token) }()
	go func() { defer wg.Done(); factors[1] = a.marketRisk(ctx, pair) }()
	go func() { defer wg.Done(); factors[2] = a.positionRisk(ctx, pair, amountUSD) }()
	go func() { defer wg.Done(); factors[3] = a.portfolioRisk() }()
	wg.Wait()

	byCategory := make(map[scoring.Category]scoring.CategoryScore, len(factors))
	weights := make(map[scoring.Category]float64, len(factors))
	for i, category := range riskCategories {
		byCategory[category] = factors[i]
		weights[category] = a.cfg.Weights[string(category)]
	}

	score := scoring.AggregateCategories(byCategory, weights)
	assessment := Assessment{
		Score:      score,
		Acceptable: score <= a.cfg.MaxRiskScore,
		Factors:    byCategory,
		Warnings:   a.factorWarnings(factors),
		Timestamp:  time.Now(),
	}

	log.Debug().Str("token", token).Float64("score", score).
		Bool("acceptable", assessment.Acceptable).
		Msg("trade risk assessed")
	return assessment
}

// TokenSafety converts token risk into the 0-100 safety score the
// opportunity scorer consumes as its fourth weighted term.
func (a *Assessor) TokenSafety(ctx context.Context, token string) float64 {
	risk := a.tokenRisk(ctx, token)
	return (1 - risk.Score) * 100
}

func (a *Assessor) tokenRisk(ctx context.Context, token string) scoring.CategoryScore {
	set, err := a.data.FetchMetrics(ctx, scoring.CategoryToken, token)
	return scoring.NormalizeOr(set, err, scoring.CategoryToken, scoring.SentinelMaxRisk)
}

func (a *Assessor) marketRisk(ctx context.Context, pair string) scoring.CategoryScore {
	set, err := a.data.FetchMetrics(ctx, scoring.CategoryMarket, pair)
	return scoring.NormalizeOr(set, err, scoring.CategoryMarket, scoring.SentinelMaxRisk)
}

// positionRisk blends the provider's timing/concentration metrics with the
// locally computed size ratio, so an oversized order raises risk even when
// the provider is healthy.
func (a *Assessor) positionRisk(ctx context.Context, pair string, amountUSD float64) scoring.CategoryScore {
	sizeRisk := 0.0
	if a.trading.MaxInvestmentUSD > 0 {
		sizeRisk = scoring.Clamp01(amountUSD / a.trading.MaxInvestmentUSD)
	}

	set, err := a.data.FetchMetrics(ctx, scoring.CategoryPosition, pair)
	if err != nil {
		log.Warn().Err(err).Str("pair", pair).Msg("position metrics unavailable, using size risk with sentinel blend")
		return scoring.CategoryScore{
			Category: scoring.CategoryPosition,
			Score:    scoring.Clamp01((sizeRisk + scoring.SentinelMaxRisk) / 2),
			Sentinel: true,
		}
	}

	merged := set.Raw()
	merged["size_risk"] = sizeRisk
	withSize, err := scoring.NewMetricSet(scoring.CategoryPosition, merged)
	if err != nil {
		return scoring.Sentinel(scoring.CategoryPosition, scoring.SentinelMaxRisk)
	}
	return scoring.Normalize(withSize, scoring.SentinelMaxRisk)
}

func (a *Assessor) portfolioRisk() scoring.CategoryScore {
	if a.portfolio == nil {
		return scoring.Sentinel(scoring.CategoryPortfolio, scoring.SentinelMaxRisk)
	}
	values := []float64{
		scoring.Clamp01(a.portfolio.ExposureFraction()),
		scoring.Clamp01(a.portfolio.DrawdownFraction()),
		scoring.Clamp01(a.portfolio.ConcentrationFraction()),
	}
	return scoring.CategoryScore{
		Category: scoring.CategoryPortfolio,
		Score:    scoring.Mean(values),
	}
}

// factorWarnings emits one warning per factor above its configured threshold,
// in fixed category order so output is deterministic.
func (a *Assessor) factorWarnings(factors []scoring.CategoryScore) []string {
	var warnings []string
	for i, category := range riskCategories {
		threshold, ok := a.cfg.FactorWarnings[string(category)]
		if !ok {
			continue
		}
		if factors[i].Score >= threshold {
			warnings = append(warnings, fmt.Sprintf("high %s risk: %.2f", category, factors[i].Score))
		}
	}
	return warnings
}
