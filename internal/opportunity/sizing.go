package opportunity

import "github.com/dexrun/dexrun/internal/config"

// floorMultiplier is the conservative fallback when no step rule matches or
// the table is malformed; it must always be reachable.
const floorMultiplier = 0.4

// SafetyMultiplier selects from a descending step table the value for the
// largest threshold not exceeding the score. Below every threshold it returns
// the floor.
func SafetyMultiplier(rules []config.StepRule, score float64) float64 {
	best := -1.0
	value := floorMultiplier
	for _, rule := range rules {
		if score >= rule.MinScore && rule.MinScore > best {
			best = rule.MinScore
			value = rule.Value
		}
	}
	return value
}

// StepValue is SafetyMultiplier's lookup with a caller-chosen fallback, used
// for the profit-target scaling table.
func StepValue(rules []config.StepRule, score, fallback float64) float64 {
	best := -1.0
	value := fallback
	for _, rule := range rules {
		if score >= rule.MinScore && rule.MinScore > best {
			best = rule.MinScore
			value = rule.Value
		}
	}
	return value
}

// PositionSize computes base x safetyMultiplier x min(opportunity/100, 1),
// in USD.
func PositionSize(cfg config.TradingConfig, opportunityScore, safetyScore float64) float64 {
	mult := SafetyMultiplier(cfg.SafetyMultipliers, safetyScore)
	quality := opportunityScore / 100
	if quality > 1 {
		quality = 1
	}
	if quality < 0 {
		quality = 0
	}
	return cfg.BaseSizeUSD * mult * quality
}

// ProfitTargetPct picks the take-profit percentage for a new position from
// the opportunity score: stronger setups hold out for larger gains.
func ProfitTargetPct(cfg config.TradingConfig, opportunityScore float64) float64 {
	return StepValue(cfg.ProfitTargets, opportunityScore, 15)
}
