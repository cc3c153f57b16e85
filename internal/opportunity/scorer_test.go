package opportunity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexrun/dexrun/internal/config"
	"github.com/dexrun/dexrun/internal/scoring"
)

type fakeData struct {
	metrics map[scoring.Category]map[string]float64
	fail    map[scoring.Category]bool
}

func (f *fakeData) FetchMetrics(ctx context.Context, category scoring.Category, target string) (scoring.MetricSet, error) {
	if f.fail[category] {
		return scoring.MetricSet{}, errors.New("provider unavailable")
	}
	return scoring.NewMetricSet(category, f.metrics[category])
}

type fakeSafety struct{ score float64 }

func (f *fakeSafety) TokenSafety(ctx context.Context, token string) float64 { return f.score }

type fakePositions struct {
	hasOpen bool
	exitDue bool
}

func (f *fakePositions) HasOpen(token string) bool { return f.hasOpen }
func (f *fakePositions) ExitDue(token string) bool { return f.exitDue }

// Identical measurements bypass min-max spreading and score at the raw value.
func allStrong() map[scoring.Category]map[string]float64 {
	strong := map[string]float64{"a": 0.95, "b": 0.95}
	return map[scoring.Category]map[string]float64{
		scoring.CategoryMarket:    strong,
		scoring.CategoryTechnical: strong,
		scoring.CategoryMomentum:  strong,
	}
}

func TestEvaluateBuyAboveThreshold(t *testing.T) {
	scorer := NewScorer(
		&fakeData{metrics: allStrong()},
		&fakeSafety{score: 95},
		&fakePositions{},
		config.Default().Opportunity,
	)

	rec := scorer.Evaluate(context.Background(), "0xT", "0xP")

	assert.GreaterOrEqual(t, rec.Score, 75.0)
	assert.Equal(t, ActionBuy, rec.Action)
	assert.Equal(t, 95.0, rec.SafetyScore)
	require.Len(t, rec.Parts, 4)
	assert.InDelta(t, rec.Score/100, rec.Confidence, 1e-9)
}

func TestEvaluateHoldBelowThreshold(t *testing.T) {
	weak := map[string]float64{"a": 0.2, "b": 0.2}
	scorer := NewScorer(
		&fakeData{metrics: map[scoring.Category]map[string]float64{
			scoring.CategoryMarket:    weak,
			scoring.CategoryTechnical: weak,
			scoring.CategoryMomentum:  weak,
		}},
		&fakeSafety{score: 95},
		&fakePositions{},
		config.Default().Opportunity,
	)

	rec := scorer.Evaluate(context.Background(), "0xT", "0xP")
	assert.Less(t, rec.Score, 75.0)
	assert.Equal(t, ActionHold, rec.Action)
}

func TestEvaluateFailedBranchFallsToSentinel(t *testing.T) {
	scorer := NewScorer(
		&fakeData{
			metrics: allStrong(),
			fail:    map[scoring.Category]bool{scoring.CategoryMomentum: true},
		},
		&fakeSafety{score: 95},
		&fakePositions{},
		config.Default().Opportunity,
	)

	rec := scorer.Evaluate(context.Background(), "0xT", "0xP")

	momentum := rec.Parts[scoring.CategoryMomentum]
	assert.True(t, momentum.Sentinel)
	assert.Equal(t, 0.0, momentum.Score)
	// Other branches completed despite the failure.
	assert.False(t, rec.Parts[scoring.CategoryMarket].Sentinel)
	assert.False(t, rec.Parts[scoring.CategoryTechnical].Sentinel)
}

func TestActionOpenPositionSuppressesBuy(t *testing.T) {
	scorer := NewScorer(
		&fakeData{metrics: allStrong()},
		&fakeSafety{score: 95},
		&fakePositions{hasOpen: true},
		config.Default().Opportunity,
	)

	rec := scorer.Evaluate(context.Background(), "0xT", "0xP")
	assert.GreaterOrEqual(t, rec.Score, 75.0)
	assert.Equal(t, ActionHold, rec.Action)
}

func TestActionDueExitForcesSell(t *testing.T) {
	// A due exit overrides even a strong score.
	scorer := NewScorer(
		&fakeData{metrics: allStrong()},
		&fakeSafety{score: 95},
		&fakePositions{hasOpen: true, exitDue: true},
		config.Default().Opportunity,
	)

	rec := scorer.Evaluate(context.Background(), "0xT", "0xP")
	assert.Equal(t, ActionSell, rec.Action)
}

func TestEvaluateNilPositionsScoresOnly(t *testing.T) {
	scorer := NewScorer(
		&fakeData{metrics: allStrong()},
		&fakeSafety{score: 95},
		nil,
		config.Default().Opportunity,
	)

	rec := scorer.Evaluate(context.Background(), "0xT", "0xP")
	assert.Equal(t, ActionBuy, rec.Action)
}
