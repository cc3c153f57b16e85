package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dexrun/dexrun/internal/config"
	"github.com/dexrun/dexrun/internal/position"
	"github.com/dexrun/dexrun/internal/providers"
	"github.com/dexrun/dexrun/internal/scoring"
)

// HistoryPoint is one sampled risk level for a monitored position.
type HistoryPoint struct {
	At   time.Time `json:"at"`
	Risk float64   `json:"risk"`
}

// MonitorSnapshot is the live risk picture for one position.
type MonitorSnapshot struct {
	PositionID string         `json:"position_id"`
	Risk       float64        `json:"risk"`
	Warnings   []string       `json:"warnings"`
	History    []HistoryPoint `json:"history"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Monitor tracks per-position risk over time in a bounded ring, raising
// threshold warnings independently at the medium, high, and critical levels.
type Monitor struct {
	data providers.MarketDataProvider
	cfg  config.RiskConfig

	mu        sync.Mutex
	histories map[string][]HistoryPoint
	now       func() time.Time
}

// NewMonitor builds a position risk monitor.
func NewMonitor(data providers.MarketDataProvider, cfg config.RiskConfig) *Monitor {
	return &Monitor{
		data:      data,
		cfg:       cfg,
		histories: make(map[string][]HistoryPoint),
		now:       time.Now,
	}
}

// MonitorPositionRisk samples the position's current risk, appends it to the
// retention-bounded history, and returns the snapshot with any threshold
// warnings. Multiple warnings may fire on the same sample.
func (m *Monitor) MonitorPositionRisk(ctx context.Context, pos position.Snapshot) MonitorSnapshot {
	risk := m.currentRisk(ctx, pos)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	history := append(m.histories[pos.ID], HistoryPoint{At: now, Risk: risk})
	cutoff := now.Add(-m.cfg.HistoryRetention)
	kept := history[:0]
	for _, point := range history {
		if point.At.After(cutoff) {
			kept = append(kept, point)
		}
	}
	m.histories[pos.ID] = kept

	snapshot := MonitorSnapshot{
		PositionID: pos.ID,
		Risk:       risk,
		Warnings:   m.thresholdWarnings(risk),
		History:    append([]HistoryPoint(nil), kept...),
		UpdatedAt:  now,
	}
	return snapshot
}

// Forget drops the history for a closed position.
func (m *Monitor) Forget(positionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.histories, positionID)
}

// currentRisk blends locally derived PnL and duration risk with fetched
// market and exit-liquidity risk. Fetch failures degrade to worst case.
func (m *Monitor) currentRisk(ctx context.Context, pos position.Snapshot) float64 {
	pnlRisk := scoring.Clamp01(-pos.PnLPct / 10) // a 10% loss is maximum PnL risk
	durationRisk := scoring.Clamp01(m.now().Sub(pos.OpenedAt).Hours() / 24)

	marketSet, marketErr := m.data.FetchMetrics(ctx, scoring.CategoryMarket, pos.Pair)
	market := scoring.NormalizeOr(marketSet, marketErr, scoring.CategoryMarket, scoring.SentinelMaxRisk)

	liqSet, liqErr := m.data.FetchMetrics(ctx, scoring.CategoryLiquidity, pos.Token)
	liquidity := scoring.NormalizeOr(liqSet, liqErr, scoring.CategoryLiquidity, scoring.SentinelMaxRisk)

	if marketErr != nil || liqErr != nil {
		log.Debug().Str("position", pos.ID).Msg("position risk sampled with degraded inputs")
	}
	return scoring.Mean([]float64{pnlRisk, durationRisk, market.Score, liquidity.Score})
}

// thresholdWarnings checks each level independently so a critical sample
// reports medium and high as well.
func (m *Monitor) thresholdWarnings(risk float64) []string {
	var warnings []string
	levels := []struct {
		name      string
		threshold float64
	}{
		{"medium", m.cfg.MonitorMedium},
		{"high", m.cfg.MonitorHigh},
		{"critical", m.cfg.MonitorCritical},
	}
	for _, level := range levels {
		if level.threshold > 0 && risk >= level.threshold {
			warnings = append(warnings, fmt.Sprintf("%s risk level detected: %.2f", level.name, risk))
		}
	}
	return warnings
}
