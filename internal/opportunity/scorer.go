// Package opportunity scores trade candidates on a 0-100 scale and turns
// scores into buy/sell/hold recommendations and position sizes.
package opportunity

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dexrun/dexrun/internal/config"
	"github.com/dexrun/dexrun/internal/providers"
	"github.com/dexrun/dexrun/internal/scoring"
)

// Action is the trade recommendation.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Recommendation combines the opportunity score with the resulting action.
type Recommendation struct {
	Score       float64                                    `json:"score"` // 0-100
	Action      Action                                     `json:"action"`
	Confidence  float64                                    `json:"confidence"` // 0-1
	SafetyScore float64                                    `json:"safety_score"`
	Parts       map[scoring.Category]scoring.CategoryScore `json:"parts"`
	Timestamp   time.Time                                  `json:"timestamp"`
}

// SafetyScorer supplies the 0-100 token safety score. It is injected from the
// risk assessor rather than recomputed here.
type SafetyScorer interface {
	TokenSafety(ctx context.Context, token string) float64
}

// PositionView is the slice of the position lifecycle the scorer needs: an
// existing open position suppresses new buys, and a due exit overrides the
// recommendation to sell.
type PositionView interface {
	HasOpen(token string) bool
	ExitDue(token string) bool
}

// Scorer computes market, technical, and momentum sub-scores concurrently
// and blends them with the injected safety term.
type Scorer struct {
	data      providers.MarketDataProvider
	safety    SafetyScorer
	positions PositionView
	cfg       config.OpportunityConfig
}

// NewScorer builds an opportunity scorer. positions may be nil when no
// lifecycle exists yet (pure scoring runs).
func NewScorer(data providers.MarketDataProvider, safety SafetyScorer, positions PositionView, cfg config.OpportunityConfig) *Scorer {
	return &Scorer{data: data, safety: safety, positions: positions, cfg: cfg}
}

var opportunityCategories = []scoring.Category{
	scoring.CategoryMarket,
	scoring.CategoryTechnical,
	scoring.CategoryMomentum,
}

// Evaluate scores a token/pair. Sub-score fetch failures fall back to the
// zero-opportunity sentinel without cancelling the other branches, so the
// call always returns a complete recommendation.
func (s *Scorer) Evaluate(ctx context.Context, token, pair string) Recommendation {
	parts := make([]scoring.CategoryScore, len(opportunityCategories))
	var safetyScore float64

	var wg sync.WaitGroup
	wg.Add(len(opportunityCategories) + 1)
	for i, category := range opportunityCategories {
		go func(i int, category scoring.Category) {
			defer wg.Done()
			set, err := s.data.FetchMetrics(ctx, category, pair)
			parts[i] = scoring.NormalizeOr(set, err, category, scoring.SentinelNoOpportunity)
		}(i, category)
	}
	go func() {
		defer wg.Done()
		safetyScore = s.safety.TokenSafety(ctx, token)
	}()
	wg.Wait()

	byCategory := make(map[scoring.Category]scoring.CategoryScore, len(parts)+1)
	weights := make(map[scoring.Category]float64, len(parts)+1)
	for i, category := range opportunityCategories {
		byCategory[category] = parts[i]
		weights[category] = s.cfg.Weights[string(category)]
	}
	byCategory[scoring.CategorySafety] = scoring.CategoryScore{
		Category: scoring.CategorySafety,
		Score:    scoring.Clamp01(safetyScore / 100),
	}
	weights[scoring.CategorySafety] = s.cfg.Weights[string(scoring.CategorySafety)]

	score := math.Round(scoring.AggregateCategories(byCategory, weights)*100*100) / 100

	rec := Recommendation{
		Score:       score,
		Action:      s.action(token, score),
		Confidence:  scoring.Clamp01(score / 100),
		SafetyScore: safetyScore,
		Parts:       byCategory,
		Timestamp:   time.Now(),
	}

	log.Debug().Str("token", token).Float64("score", score).
		Str("action", string(rec.Action)).Msg("opportunity evaluated")
	return rec
}

// action applies the entry threshold and the open-position overrides: an open
// position suppresses buy, and a due exit forces sell regardless of score.
func (s *Scorer) action(token string, score float64) Action {
	hasOpen := s.positions != nil && s.positions.HasOpen(token)
	if hasOpen && s.positions.ExitDue(token) {
		return ActionSell
	}
	if !hasOpen && score >= s.cfg.MinWeightedScore {
		return ActionBuy
	}
	return ActionHold
}
