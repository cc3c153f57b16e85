package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dexrun/dexrun/internal/errs"
	"github.com/dexrun/dexrun/internal/position"
)

// SessionStatus is the lifecycle of a running strategy.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionStopped SessionStatus = "stopped"
)

// Performance aggregates a session's closed-trade outcomes.
type Performance struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	TotalProfit   float64 `json:"total_profit"`
}

// Session is one running strategy bound to a token/pair. Stopped sessions
// move to an immutable results record.
type Session struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Token       string        `json:"token"`
	Pair        string        `json:"pair"`
	Status      SessionStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	StoppedAt   time.Time     `json:"stopped_at,omitempty"`
	PositionIDs []string      `json:"position_ids"`
	Performance Performance   `json:"performance"`
}

// knownStrategies are the strategy names StartSession accepts.
var knownStrategies = map[string]bool{
	"hybrid": true,
}

// StartSession registers a strategy session. Unknown names are configuration
// errors surfaced immediately.
func (o *Orchestrator) StartSession(name, token, pair string) (string, error) {
	if !knownStrategies[name] {
		return "", fmt.Errorf("%w: unknown strategy %q", errs.ErrInvalidConfig, name)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	session := &Session{
		ID:        uuid.NewString(),
		Name:      name,
		Token:     token,
		Pair:      pair,
		Status:    SessionActive,
		StartedAt: time.Now(),
	}
	o.sessions[session.ID] = session

	log.Info().Str("session", session.ID).Str("strategy", name).
		Str("token", token).Msg("strategy session started")
	return session.ID, nil
}

// RunCycle evaluates one cycle under a session, attributing any opened
// position to it.
func (o *Orchestrator) RunCycle(ctx context.Context, sessionID string) (CycleResult, error) {
	o.mu.Lock()
	session, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return CycleResult{}, fmt.Errorf("%w: session %s not active", errs.ErrStateViolation, sessionID)
	}
	token, pair := session.Token, session.Pair
	o.mu.Unlock()

	result, err := o.EvaluateCycle(ctx, token, pair)
	if err != nil {
		return result, err
	}

	if result.Entered {
		o.mu.Lock()
		if session, ok := o.sessions[sessionID]; ok {
			session.PositionIDs = append(session.PositionIDs, result.PositionID)
			session.Performance.TotalTrades++
		}
		o.mu.Unlock()
	}
	return result, nil
}

// StopSession closes the session's remaining open positions, finalizes its
// performance from position history, and moves it to results. Stopping twice
// is a state violation.
func (o *Orchestrator) StopSession(ctx context.Context, sessionID string) (*Session, error) {
	o.mu.Lock()
	session, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		if _, done := o.results[sessionID]; done {
			return nil, fmt.Errorf("%w: session %s already stopped", errs.ErrStateViolation, sessionID)
		}
		return nil, fmt.Errorf("%w: session %s not found", errs.ErrStateViolation, sessionID)
	}
	positionIDs := append([]string(nil), session.PositionIDs...)
	o.mu.Unlock()

	for _, id := range positionIDs {
		if _, err := o.positions.Snapshot(id); err != nil {
			continue // already closed by its own exits
		}
		if _, err := o.ClosePosition(ctx, id, 100); err != nil {
			log.Warn().Err(err).Str("position", id).Msg("session stop could not close position")
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	session.Status = SessionStopped
	session.StoppedAt = time.Now()
	session.Performance = o.sessionPerformanceLocked(session)
	delete(o.sessions, sessionID)
	o.results[sessionID] = session

	log.Info().Str("session", sessionID).
		Int("trades", session.Performance.TotalTrades).
		Float64("profit", session.Performance.TotalProfit).
		Msg("strategy session stopped")
	return session, nil
}

// SessionResult returns an active or stopped session by id.
func (o *Orchestrator) SessionResult(sessionID string) (*Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if session, ok := o.sessions[sessionID]; ok {
		return session, true
	}
	session, ok := o.results[sessionID]
	return session, ok
}

func (o *Orchestrator) sessionPerformanceLocked(session *Session) Performance {
	perf := Performance{}
	owned := make(map[string]bool, len(session.PositionIDs))
	for _, id := range session.PositionIDs {
		owned[id] = true
	}
	for _, rec := range o.positions.History(position.HistoryFilter{}) {
		if !owned[rec.ID] {
			continue
		}
		perf.TotalTrades++
		perf.TotalProfit += rec.FinalPnL
		if rec.FinalPnL > 0 {
			perf.WinningTrades++
		}
	}
	return perf
}
