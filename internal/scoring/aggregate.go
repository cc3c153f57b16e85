package scoring

import (
	"math"

	"github.com/rs/zerolog/log"
)

// Sentinel values substituted when a category's data is wholly unavailable.
// Risk axes bias toward rejection, opportunity axes toward no-trade.
const (
	SentinelMaxRisk       = 1.0
	SentinelNoOpportunity = 0.0
)

// CategoryScore is a bounded [0,1] score for one category. Sentinel marks a
// score that was substituted because real data was unavailable.
type CategoryScore struct {
	Category Category `json:"category"`
	Score    float64  `json:"score"`
	Sentinel bool     `json:"sentinel"`
}

// Sentinel builds the defined fallback score for a category.
func Sentinel(category Category, value float64) CategoryScore {
	return CategoryScore{Category: category, Score: clamp01(value), Sentinel: true}
}

// Normalize maps a metric set to a single [0,1] score: each metric is min-max
// normalized over the set's own values and the normalized values are averaged.
// With fewer than two values normalization is an identity pass over the raw
// values (clamped), not an error. An empty set yields the sentinel.
func Normalize(m MetricSet, sentinel float64) CategoryScore {
	values := m.Values()
	if len(values) == 0 {
		log.Warn().Str("category", string(m.Category())).
			Float64("sentinel", sentinel).
			Msg("empty metric set, substituting sentinel score")
		return Sentinel(m.Category(), sentinel)
	}
	if len(values) < 2 {
		return CategoryScore{Category: m.Category(), Score: clamp01(values[0])}
	}

	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi == lo {
		// All measurements identical; min-max is undefined, fall back to
		// the clamped raw value.
		return CategoryScore{Category: m.Category(), Score: clamp01(values[0])}
	}

	total := 0.0
	for _, v := range values {
		total += (v - lo) / (hi - lo)
	}
	return CategoryScore{Category: m.Category(), Score: total / float64(len(values))}
}

// NormalizeOr applies the sentinel policy for a fetch result: a fetch error
// yields the sentinel score (logged, never propagated), otherwise the set is
// normalized.
func NormalizeOr(m MetricSet, fetchErr error, category Category, sentinel float64) CategoryScore {
	if fetchErr != nil {
		log.Warn().Err(fetchErr).Str("category", string(category)).
			Float64("sentinel", sentinel).
			Msg("metric fetch failed, substituting sentinel score")
		return Sentinel(category, sentinel)
	}
	return Normalize(m, sentinel)
}

// AggregateCategories combines category scores into one composite via a
// weighted mean. A category present in weights but absent from scores is
// excluded from both numerator and denominator; it does not silently drag the
// composite toward zero. All-zero weights yield 0, not a division fault.
func AggregateCategories(scores map[Category]CategoryScore, weights map[Category]float64) float64 {
	num, den := 0.0, 0.0
	for category, weight := range weights {
		if weight <= 0 {
			continue
		}
		score, ok := scores[category]
		if !ok {
			continue
		}
		num += score.Score * weight
		den += weight
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// Mean averages a slice, returning 0 for empty input.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Clamp01 bounds a value to [0,1].
func Clamp01(v float64) float64 { return clamp01(v) }
