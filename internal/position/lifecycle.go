package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dexrun/dexrun/internal/config"
	"github.com/dexrun/dexrun/internal/errs"
	"github.com/dexrun/dexrun/internal/providers"
)

// closeEpsilon treats a remainder below this fraction of the original amount
// as fully consumed by staged exits.
const closeEpsilon = 1e-9

// OpenParams describes a confirmed entry. Positions enter the open state only
// after the entry transaction confirmed; the transient opening phase lives in
// the orchestrator's submission path.
type OpenParams struct {
	Token  string
	Pair   string
	Wallet string

	Amount     float64 // token amount bought
	EntryPrice float64

	StopLossPct         float64 // measured down from entry; 0 disables
	StopLossPrice       float64 // absolute; overrides StopLossPct when set
	Trailing            bool
	TrailingDistancePct float64
	TakeProfitPct       float64 // full close at this gain; 0 disables

	ProfitLock []config.LadderRung
	ScaleOut   []config.LadderRung
}

// Manager owns all open positions and their immutable history. Every mutation
// happens under the manager's lock; callers receive snapshots.
type Manager struct {
	cfg    config.PositionConfig
	prices providers.PriceSource

	mu      sync.Mutex
	open    map[string]*position
	byOwner map[string]string // token|wallet -> position id
	history []HistoryRecord

	now func() time.Time
}

// NewManager builds a position manager. prices may be nil when ticks always
// arrive with explicit prices.
func NewManager(cfg config.PositionConfig, prices providers.PriceSource) *Manager {
	return &Manager{
		cfg:     cfg,
		prices:  prices,
		open:    make(map[string]*position),
		byOwner: make(map[string]string),
		now:     time.Now,
	}
}

func ownerKey(token, wallet string) string { return token + "|" + wallet }

// Open registers a confirmed entry and returns the new position id. Ladder
// configurations exceeding a whole position are rejected here, not at trigger
// time, and a second open for the same (token, wallet) is a state violation.
func (m *Manager) Open(params OpenParams) (string, error) {
	if params.Amount <= 0 || params.EntryPrice <= 0 {
		return "", fmt.Errorf("%w: amount and entry price must be positive", errs.ErrInvalidConfig)
	}
	if err := config.ValidateLadder(params.ScaleOut); err != nil {
		return "", err
	}

	stopPrice := params.StopLossPrice
	if stopPrice == 0 && params.StopLossPct > 0 {
		stopPrice = params.EntryPrice * (1 - params.StopLossPct/100)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := ownerKey(params.Token, params.Wallet)
	if existing, ok := m.byOwner[key]; ok {
		return "", fmt.Errorf("%w: position %s already open for %s", errs.ErrStateViolation, existing, params.Token)
	}

	now := m.now()
	p := &position{
		id:                  uuid.NewString(),
		token:               params.Token,
		pair:                params.Pair,
		wallet:              params.Wallet,
		amount:              params.Amount,
		originalAmount:      params.Amount,
		entryPrice:          params.EntryPrice,
		currentPrice:        params.EntryPrice,
		peakPrice:           params.EntryPrice,
		status:              StatusOpen,
		stopPrice:           stopPrice,
		trailingEnabled:     params.Trailing,
		trailingDistancePct: params.TrailingDistancePct,
		takeProfitPct:       params.TakeProfitPct,
		profitLock:          newRungs(params.ProfitLock),
		scaleOut:            newRungs(params.ScaleOut),
		openedAt:            now,
		updatedAt:           now,
	}
	m.open[p.id] = p
	m.byOwner[key] = p.id

	log.Info().Str("position", p.id).Str("token", p.token).
		Float64("amount", p.amount).Float64("entry", p.entryPrice).
		Msg("position opened")
	return p.id, nil
}

// StartMonitor runs a per-position tick loop until the position closes or ctx
// is cancelled. The loop is tied to the position: Close cancels it
// synchronously, so no tick can run against terminal state.
func (m *Manager) StartMonitor(ctx context.Context, id string) error {
	m.mu.Lock()
	p, ok := m.open[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: position %s not open", errs.ErrStateViolation, id)
	}
	if p.cancelMonitor != nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: position %s already monitored", errs.ErrStateViolation, id)
	}
	monitorCtx, cancel := context.WithCancel(ctx)
	p.cancelMonitor = cancel
	m.mu.Unlock()

	go m.monitor(monitorCtx, id)
	return nil
}

func (m *Manager) monitor(ctx context.Context, id string) {
	ticker := time.NewTicker(m.cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			outcome, err := m.Tick(ctx, id)
			if err != nil {
				// Closed or removed elsewhere; the loop must not outlive it.
				log.Debug().Err(err).Str("position", id).Msg("monitor stopping")
				return
			}
			if outcome.Closed {
				log.Info().Str("position", id).Str("reason", outcome.Reason.String()).
					Msg("monitor observed close")
				return
			}
		}
	}
}

// Tick refreshes the price from the price source and evaluates exits.
func (m *Manager) Tick(ctx context.Context, id string) (TickOutcome, error) {
	m.mu.Lock()
	p, ok := m.open[id]
	if !ok {
		m.mu.Unlock()
		return TickOutcome{}, m.notOpenErrLocked(id)
	}
	pair := p.pair
	m.mu.Unlock()

	if m.prices == nil {
		return TickOutcome{}, fmt.Errorf("%w: no price source configured", errs.ErrInvalidConfig)
	}
	price, err := m.prices.CurrentPrice(ctx, pair)
	if err != nil {
		// A missed quote skips the tick; the next interval retries.
		log.Warn().Err(err).Str("position", id).Msg("price refresh failed, skipping tick")
		return TickOutcome{PositionID: id}, nil
	}
	return m.TickWithPrice(id, price)
}

// TickWithPrice evaluates exit conditions against an explicit price, in
// priority order: stop loss, trailing stop, profit-lock ladder, scale-out
// ladder. Ladder rungs each fire once; reaching a higher rung does not skip a
// lower one.
func (m *Manager) TickWithPrice(id string, price float64) (TickOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.open[id]
	if !ok {
		return TickOutcome{}, m.notOpenErrLocked(id)
	}

	p.currentPrice = price
	if price > p.peakPrice {
		p.peakPrice = price
	}
	p.updatedAt = m.now()
	pnl := p.pnlPct()

	outcome := TickOutcome{PositionID: id, Price: price, PnLPct: pnl}

	// 1. Stop loss: full close.
	if p.stopPrice > 0 && price <= p.stopPrice {
		outcome.Closed = true
		outcome.Reason = StopLoss
		m.closeLocked(p, price, StopLoss)
		return outcome, nil
	}

	// 2. Trailing stop against the peak since entry. Before any gain the
	// peak equals the entry, so this degenerates to a plain distance stop.
	if p.trailingEnabled && p.trailingDistancePct > 0 {
		trailBase := p.peakPrice
		if trailBase < p.entryPrice {
			trailBase = p.entryPrice
		}
		if price <= trailBase*(1-p.trailingDistancePct/100) {
			outcome.Closed = true
			outcome.Reason = TrailingStop
			m.closeLocked(p, price, TrailingStop)
			return outcome, nil
		}
	}

	// 3. Profit-lock ladder: each rung exits a portion of the remaining
	// amount exactly once.
	for i := range p.profitLock {
		r := &p.profitLock[i]
		if r.fired || pnl < r.gainPct {
			continue
		}
		r.fired = true
		exit := p.amount * r.portionPct / 100
		m.partialExitLocked(p, exit, price)
		outcome.PartialCloses = append(outcome.PartialCloses, PartialClose{
			Trigger: ProfitLock, GainPct: r.gainPct, PortionPct: r.portionPct, Amount: exit,
		})
	}

	// 4. Scale-out ladder: portions of the original size, consuming the
	// remainder until exhausted.
	for i := range p.scaleOut {
		r := &p.scaleOut[i]
		if r.fired || pnl < r.gainPct {
			continue
		}
		r.fired = true
		exit := p.originalAmount * r.portionPct / 100
		if exit > p.amount {
			exit = p.amount
		}
		if exit <= 0 {
			continue
		}
		m.partialExitLocked(p, exit, price)
		outcome.PartialCloses = append(outcome.PartialCloses, PartialClose{
			Trigger: ScaleOut, GainPct: r.gainPct, PortionPct: r.portionPct, Amount: exit,
		})
	}

	if p.amount <= p.originalAmount*closeEpsilon {
		outcome.Closed = true
		outcome.Reason = ScaleOut
		m.closeLocked(p, price, ScaleOut)
		return outcome, nil
	}

	// 5. Take profit: full close of whatever the ladders left once the
	// overall target is reached.
	if p.takeProfitPct > 0 && pnl >= p.takeProfitPct {
		outcome.Closed = true
		outcome.Reason = TakeProfit
		m.closeLocked(p, price, TakeProfit)
	}
	return outcome, nil
}

// Close exits portionPct of the position at its last known price. A portion
// of 100 is a full close; anything else reduces the amount in place and
// leaves the position open.
func (m *Manager) Close(id string, portionPct float64) (Snapshot, error) {
	if portionPct <= 0 || portionPct > 100 {
		return Snapshot{}, fmt.Errorf("%w: close portion %.1f%% out of range", errs.ErrInvalidConfig, portionPct)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.open[id]
	if !ok {
		return Snapshot{}, m.notOpenErrLocked(id)
	}

	if portionPct == 100 {
		m.closeLocked(p, p.currentPrice, Manual)
		return m.history[len(m.history)-1].Snapshot, nil
	}

	exit := p.amount * portionPct / 100
	m.partialExitLocked(p, exit, p.currentPrice)
	p.updatedAt = m.now()
	return p.snapshot(), nil
}

// SetStopLoss sets an absolute or entry-relative stop and returns the stop
// price in effect.
func (m *Manager) SetStopLoss(id string, price, percent float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.open[id]
	if !ok {
		return 0, m.notOpenErrLocked(id)
	}
	switch {
	case price > 0:
		p.stopPrice = price
	case percent > 0:
		p.stopPrice = p.entryPrice * (1 - percent/100)
	default:
		return 0, fmt.Errorf("%w: stop loss needs a price or a percent", errs.ErrInvalidConfig)
	}
	return p.stopPrice, nil
}

// Snapshot returns a copy of an open position's state.
func (m *Manager) Snapshot(id string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.open[id]
	if !ok {
		return Snapshot{}, m.notOpenErrLocked(id)
	}
	return p.snapshot(), nil
}

// HasOpen reports whether any position is open for the token.
func (m *Manager) HasOpen(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.open {
		if p.token == token {
			return true
		}
	}
	return false
}

// OpenByToken returns the open position for a token, if any.
func (m *Manager) OpenByToken(token string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.open {
		if p.token == token {
			return p.snapshot(), true
		}
	}
	return Snapshot{}, false
}

// ExitDue reports whether the open position for a token currently meets a
// full-close condition at its last known price. Read-only; used to override a
// hold/buy recommendation to sell.
func (m *Manager) ExitDue(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.open {
		if p.token != token {
			continue
		}
		if p.stopPrice > 0 && p.currentPrice <= p.stopPrice {
			return true
		}
		if p.trailingEnabled && p.trailingDistancePct > 0 {
			trailBase := p.peakPrice
			if trailBase < p.entryPrice {
				trailBase = p.entryPrice
			}
			if p.currentPrice <= trailBase*(1-p.trailingDistancePct/100) {
				return true
			}
		}
	}
	return false
}

// OpenSnapshots returns copies of every open position.
func (m *Manager) OpenSnapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.open))
	for _, p := range m.open {
		out = append(out, p.snapshot())
	}
	return out
}

// OpenCount returns the number of open positions.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// HistoryFilter narrows history queries. Zero values match everything.
type HistoryFilter struct {
	Wallet string
	Since  time.Time
	Until  time.Time
}

// History returns closed positions, newest first.
func (m *Manager) History(filter HistoryFilter) []HistoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]HistoryRecord, 0, len(m.history))
	for i := len(m.history) - 1; i >= 0; i-- {
		rec := m.history[i]
		if filter.Wallet != "" && rec.Wallet != filter.Wallet {
			continue
		}
		if !filter.Since.IsZero() && rec.OpenedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && rec.ExitTime.After(filter.Until) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// partialExitLocked reduces the amount in place and realizes the exited PnL.
// Status stays open.
func (m *Manager) partialExitLocked(p *position, exitAmount, price float64) {
	if exitAmount > p.amount {
		exitAmount = p.amount
	}
	p.realizedPnL += (price - p.entryPrice) * exitAmount
	p.amount -= exitAmount
	log.Info().Str("position", p.id).Float64("exit_amount", exitAmount).
		Float64("remaining", p.amount).Float64("price", price).
		Msg("partial close")
}

// closeLocked finalizes a position: realize the remainder, cancel its monitor
// synchronously, and move it to immutable history.
func (m *Manager) closeLocked(p *position, exitPrice float64, reason CloseReason) {
	p.status = StatusClosing
	if p.amount > 0 {
		p.realizedPnL += (exitPrice - p.entryPrice) * p.amount
		p.amount = 0
	}
	p.currentPrice = exitPrice
	p.status = StatusClosed
	p.updatedAt = m.now()

	if p.cancelMonitor != nil {
		p.cancelMonitor()
		p.cancelMonitor = nil
	}

	m.history = append(m.history, HistoryRecord{
		Snapshot:  p.snapshot(),
		ExitPrice: exitPrice,
		ExitTime:  p.updatedAt,
		FinalPnL:  p.realizedPnL,
		Reason:    reason,
	})
	delete(m.open, p.id)
	delete(m.byOwner, ownerKey(p.token, p.wallet))

	log.Info().Str("position", p.id).Str("reason", reason.String()).
		Float64("exit", exitPrice).Float64("pnl", p.realizedPnL).
		Msg("position closed")
}

// notOpenErrLocked distinguishes already-closed ids from unknown ones; both
// are state violations, never silent no-ops.
func (m *Manager) notOpenErrLocked(id string) error {
	for _, rec := range m.history {
		if rec.ID == id {
			return fmt.Errorf("%w: position %s is closed", errs.ErrStateViolation, id)
		}
	}
	return fmt.Errorf("%w: position %s not found", errs.ErrStateViolation, id)
}
