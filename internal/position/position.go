// Package position owns the mutable state of every open position and drives
// it through the opening -> open -> closing -> closed lifecycle. Other
// components only ever see copied snapshots.
package position

import (
	"time"

	"github.com/dexrun/dexrun/internal/config"
)

// Status is the lifecycle state of a position. Opening and closing are
// transient around transaction submission; open is the steady monitored
// state; closed is terminal.
type Status string

const (
	StatusOpening Status = "opening"
	StatusOpen    Status = "open"
	StatusClosing Status = "closing"
	StatusClosed  Status = "closed"
)

// CloseReason explains what triggered a close or partial close.
type CloseReason int

const (
	NoClose CloseReason = iota
	StopLoss
	TrailingStop
	ProfitLock
	ScaleOut
	TakeProfit
	Manual
)

func (r CloseReason) String() string {
	switch r {
	case NoClose:
		return "no_close"
	case StopLoss:
		return "stop_loss"
	case TrailingStop:
		return "trailing_stop"
	case ProfitLock:
		return "profit_lock"
	case ScaleOut:
		return "scale_out"
	case TakeProfit:
		return "take_profit"
	case Manual:
		return "manual"
	default:
		return "unknown"
	}
}

// rung is a ladder rung with its fired flag. Each rung triggers at most once
// over the life of a position.
type rung struct {
	gainPct    float64
	portionPct float64
	fired      bool
}

func newRungs(ladder []config.LadderRung) []rung {
	out := make([]rung, len(ladder))
	for i, r := range ladder {
		out[i] = rung{gainPct: r.GainPct, portionPct: r.PortionPct}
	}
	return out
}

// position is the mutable record, owned exclusively by the Manager.
type position struct {
	id     string
	token  string
	pair   string
	wallet string

	amount         float64 // remaining token amount
	originalAmount float64
	entryPrice     float64
	currentPrice   float64
	peakPrice      float64

	status              Status
	stopPrice           float64 // 0 = no stop loss
	trailingEnabled     bool
	trailingDistancePct float64
	takeProfitPct       float64 // full close at this gain; 0 disables
	profitLock          []rung  // portions of remaining amount
	scaleOut            []rung  // portions of original amount

	realizedPnL float64
	openedAt    time.Time
	updatedAt   time.Time

	cancelMonitor func()
}

func (p *position) pnlPct() float64 {
	if p.entryPrice == 0 {
		return 0
	}
	return (p.currentPrice - p.entryPrice) / p.entryPrice * 100
}

func (p *position) unrealizedPnL() float64 {
	return (p.currentPrice - p.entryPrice) * p.amount
}

// Snapshot is an immutable copy of a position's state.
type Snapshot struct {
	ID             string    `json:"id"`
	Token          string    `json:"token"`
	Pair           string    `json:"pair"`
	Wallet         string    `json:"wallet"`
	Amount         float64   `json:"amount"`
	OriginalAmount float64   `json:"original_amount"`
	EntryPrice     float64   `json:"entry_price"`
	CurrentPrice   float64   `json:"current_price"`
	PeakPrice      float64   `json:"peak_price"`
	Status         Status    `json:"status"`
	StopPrice      float64   `json:"stop_price"`
	PnLPct         float64   `json:"pnl_pct"`
	UnrealizedPnL  float64   `json:"unrealized_pnl"`
	RealizedPnL    float64   `json:"realized_pnl"`
	OpenedAt       time.Time `json:"opened_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (p *position) snapshot() Snapshot {
	return Snapshot{
		ID:             p.id,
		Token:          p.token,
		Pair:           p.pair,
		Wallet:         p.wallet,
		Amount:         p.amount,
		OriginalAmount: p.originalAmount,
		EntryPrice:     p.entryPrice,
		CurrentPrice:   p.currentPrice,
		PeakPrice:      p.peakPrice,
		Status:         p.status,
		StopPrice:      p.stopPrice,
		PnLPct:         p.pnlPct(),
		UnrealizedPnL:  p.unrealizedPnL(),
		RealizedPnL:    p.realizedPnL,
		OpenedAt:       p.openedAt,
		UpdatedAt:      p.updatedAt,
	}
}

// HistoryRecord is the immutable terminal record of a closed position.
// FinalPnL includes both the realized ladder exits and the final close.
type HistoryRecord struct {
	Snapshot
	ExitPrice float64     `json:"exit_price"`
	ExitTime  time.Time   `json:"exit_time"`
	FinalPnL  float64     `json:"final_pnl"`
	Reason    CloseReason `json:"reason"`
}

// PartialClose describes one ladder-triggered partial exit within a tick.
type PartialClose struct {
	Trigger    CloseReason `json:"trigger"`
	GainPct    float64     `json:"gain_pct"`
	PortionPct float64     `json:"portion_pct"`
	Amount     float64     `json:"amount"`
}

// TickOutcome reports what a single tick did to a position.
type TickOutcome struct {
	PositionID    string         `json:"position_id"`
	Price         float64        `json:"price"`
	PnLPct        float64        `json:"pnl_pct"`
	Closed        bool           `json:"closed"`
	Reason        CloseReason    `json:"reason"`
	PartialCloses []PartialClose `json:"partial_closes,omitempty"`
}
