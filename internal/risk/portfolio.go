package risk

import (
	"github.com/dexrun/dexrun/internal/position"
)

// PortfolioTracker derives portfolio risk inputs from the live position book.
type PortfolioTracker struct {
	positions    *position.Manager
	capitalLimit float64 // total capital the strategy may commit, USD
	drawdownTol  float64 // tolerated aggregate drawdown, USD
}

// NewPortfolioTracker builds a tracker over the position manager.
func NewPortfolioTracker(positions *position.Manager, capitalLimit, drawdownTolerance float64) *PortfolioTracker {
	return &PortfolioTracker{
		positions:    positions,
		capitalLimit: capitalLimit,
		drawdownTol:  drawdownTolerance,
	}
}

// ExposureFraction is committed capital over the capital limit.
func (t *PortfolioTracker) ExposureFraction() float64 {
	if t.capitalLimit <= 0 {
		return 1
	}
	total := 0.0
	for _, snap := range t.positions.OpenSnapshots() {
		total += snap.Amount * snap.CurrentPrice
	}
	return clampFraction(total / t.capitalLimit)
}

// DrawdownFraction is the aggregate unrealized loss over the tolerance.
func (t *PortfolioTracker) DrawdownFraction() float64 {
	if t.drawdownTol <= 0 {
		return 1
	}
	loss := 0.0
	for _, snap := range t.positions.OpenSnapshots() {
		if snap.UnrealizedPnL < 0 {
			loss -= snap.UnrealizedPnL
		}
	}
	return clampFraction(loss / t.drawdownTol)
}

// ConcentrationFraction is the largest single exposure over the total. An
// empty book concentrates nothing.
func (t *PortfolioTracker) ConcentrationFraction() float64 {
	total, largest := 0.0, 0.0
	for _, snap := range t.positions.OpenSnapshots() {
		value := snap.Amount * snap.CurrentPrice
		total += value
		if value > largest {
			largest = value
		}
	}
	if total == 0 {
		return 0
	}
	return clampFraction(largest / total)
}

func clampFraction(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
