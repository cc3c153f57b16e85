// Package strategy ties scoring, risk, gas, and the position lifecycle into
// the per-cycle trade decision flow.
package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dexrun/dexrun/internal/config"
	"github.com/dexrun/dexrun/internal/errs"
	"github.com/dexrun/dexrun/internal/gas"
	"github.com/dexrun/dexrun/internal/opportunity"
	"github.com/dexrun/dexrun/internal/position"
	"github.com/dexrun/dexrun/internal/providers"
	"github.com/dexrun/dexrun/internal/risk"
	"github.com/dexrun/dexrun/internal/telemetry/metrics"
)

// gasWaitMax bounds how long an entry waits for cheaper gas before trading at
// the quoted price anyway.
const gasWaitMax = 5 * time.Minute

// CycleResult reports one full evaluation cycle for a token/pair.
type CycleResult struct {
	Token          string                     `json:"token"`
	Pair           string                     `json:"pair"`
	Recommendation opportunity.Recommendation `json:"recommendation"`
	Risk           risk.Assessment            `json:"risk"`
	Manipulation   risk.ManipulationReport    `json:"manipulation"`
	Entered        bool                       `json:"entered"`
	Exited         bool                       `json:"exited"`
	PositionID     string                     `json:"position_id,omitempty"`
	SizeUSD        float64                    `json:"size_usd,omitempty"`
	Skips          []string                   `json:"skips,omitempty"`
}

// Orchestrator drives evaluation cycles and owns strategy sessions.
type Orchestrator struct {
	cfg       *config.Config
	scorer    *opportunity.Scorer
	assessor  *risk.Assessor
	detector  *risk.Detector
	gasQuotes *gas.Strategy
	positions *position.Manager
	executor  providers.TradeExecutor
	telemetry *metrics.Registry
	wallet    string

	mu       sync.Mutex
	sessions map[string]*Session
	results  map[string]*Session
}

// New builds an orchestrator. telemetry may be nil.
func New(
	cfg *config.Config,
	scorer *opportunity.Scorer,
	assessor *risk.Assessor,
	detector *risk.Detector,
	gasQuotes *gas.Strategy,
	positions *position.Manager,
	executor providers.TradeExecutor,
	telemetry *metrics.Registry,
	wallet string,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		scorer:    scorer,
		assessor:  assessor,
		detector:  detector,
		gasQuotes: gasQuotes,
		positions: positions,
		executor:  executor,
		telemetry: telemetry,
		wallet:    wallet,
		sessions:  make(map[string]*Session),
		results:   make(map[string]*Session),
	}
}

// EvaluateOpportunity exposes the scorer to the orchestrating caller.
func (o *Orchestrator) EvaluateOpportunity(ctx context.Context, token, pair string) opportunity.Recommendation {
	return o.scorer.Evaluate(ctx, token, pair)
}

// AssessRisk exposes the risk assessor to the orchestrating caller.
func (o *Orchestrator) AssessRisk(ctx context.Context, token, pair string, amountUSD float64) risk.Assessment {
	return o.assessor.AssessTradeRisk(ctx, token, pair, amountUSD)
}

// Tick advances one position through its exit checks.
func (o *Orchestrator) Tick(ctx context.Context, positionID string) (position.TickOutcome, error) {
	return o.positions.Tick(ctx, positionID)
}

// EvaluateCycle runs one decision cycle: opportunity, trade risk, and
// manipulation checks concurrently, then entry or exit when every gate
// agrees. Scoring branches never fail the cycle; only execution can.
func (o *Orchestrator) EvaluateCycle(ctx context.Context, token, pair string) (CycleResult, error) {
	result := CycleResult{Token: token, Pair: pair}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		result.Recommendation = o.scorer.Evaluate(ctx, token, pair)
	}()
	go func() {
		defer wg.Done()
		result.Risk = o.assessor.AssessTradeRisk(ctx, token, pair, o.cfg.Trading.BaseSizeUSD)
	}()
	go func() {
		defer wg.Done()
		result.Manipulation = o.detector.Check(ctx, token, pair)
	}()
	wg.Wait()

	o.observeScores(result)

	switch result.Recommendation.Action {
	case opportunity.ActionBuy:
		if !result.Risk.Acceptable {
			result.Skips = append(result.Skips, fmt.Sprintf("risk score %.2f above limit", result.Risk.Score))
		}
		if !result.Manipulation.Safe {
			result.Skips = append(result.Skips, fmt.Sprintf("manipulation score %.2f above limit", result.Manipulation.Score))
		}
		if len(result.Skips) > 0 {
			return result, nil
		}
		id, size, err := o.executeEntry(ctx, token, pair, result.Recommendation)
		if err != nil {
			return result, err
		}
		result.Entered = true
		result.PositionID = id
		result.SizeUSD = size

	case opportunity.ActionSell:
		id, err := o.executeExit(ctx, token)
		if err != nil {
			return result, err
		}
		result.Exited = true
		result.PositionID = id
	}

	return result, nil
}

// OpenPosition registers a confirmed external entry and starts its monitor.
func (o *Orchestrator) OpenPosition(ctx context.Context, params position.OpenParams) (string, error) {
	id, err := o.positions.Open(params)
	if err != nil {
		return "", err
	}
	if err := o.positions.StartMonitor(ctx, id); err != nil {
		return "", err
	}
	o.gaugePositions()
	return id, nil
}

// ClosePosition submits the exit trade for a portion of a position and then
// applies the close. The submission is never retried; a failed trade leaves
// the position untouched.
func (o *Orchestrator) ClosePosition(ctx context.Context, positionID string, portionPct float64) (position.Snapshot, error) {
	snap, err := o.positions.Snapshot(positionID)
	if err != nil {
		return position.Snapshot{}, err
	}

	order := providers.TradeOrder{
		Side:           providers.SideSell,
		Token:          snap.Token,
		Pair:           snap.Pair,
		AmountUSD:      snap.Amount * snap.CurrentPrice * portionPct / 100,
		MaxSlippagePct: o.cfg.Trading.MaxSlippagePct,
	}
	if _, err := o.submitWithGas(ctx, &order, gas.OpSwap); err != nil {
		return position.Snapshot{}, err
	}

	closed, err := o.positions.Close(positionID, portionPct)
	if err != nil {
		return position.Snapshot{}, err
	}
	o.gaugePositions()
	return closed, nil
}

func (o *Orchestrator) executeEntry(ctx context.Context, token, pair string, rec opportunity.Recommendation) (string, float64, error) {
	size := opportunity.PositionSize(o.cfg.Trading, rec.Score, rec.SafetyScore)
	if size <= 0 {
		return "", 0, fmt.Errorf("%w: computed position size is zero", errs.ErrInvalidConfig)
	}

	order := providers.TradeOrder{
		Side:           providers.SideBuy,
		Token:          token,
		Pair:           pair,
		AmountUSD:      size,
		MaxSlippagePct: o.cfg.Trading.MaxSlippagePct,
	}
	fill, err := o.submitWithGas(ctx, &order, gas.OpSwap)
	if err != nil {
		return "", 0, err
	}

	entryPrice := fill.Price
	if entryPrice <= 0 {
		return "", 0, fmt.Errorf("%w: entry fill reported no price", errs.ErrExternalFailure)
	}

	id, err := o.positions.Open(position.OpenParams{
		Token:               token,
		Pair:                pair,
		Wallet:              o.wallet,
		Amount:              size / entryPrice,
		EntryPrice:          entryPrice,
		StopLossPct:         o.cfg.Position.StopLossPct,
		Trailing:            o.cfg.Position.TrailingStop,
		TrailingDistancePct: o.cfg.Position.TrailingDistancePct,
		TakeProfitPct:       opportunity.ProfitTargetPct(o.cfg.Trading, rec.Score),
		ProfitLock:          o.cfg.Position.ProfitLock,
		ScaleOut:            o.cfg.Position.ScaleOut,
	})
	if err != nil {
		return "", 0, err
	}
	if err := o.positions.StartMonitor(ctx, id); err != nil {
		return "", 0, err
	}
	o.gaugePositions()

	log.Info().Str("token", token).Str("position", id).
		Float64("size_usd", size).Float64("entry", entryPrice).
		Msg("entered position")
	return id, size, nil
}

func (o *Orchestrator) executeExit(ctx context.Context, token string) (string, error) {
	snap, ok := o.positions.OpenByToken(token)
	if !ok {
		return "", fmt.Errorf("%w: no open position for %s", errs.ErrStateViolation, token)
	}
	if _, err := o.ClosePosition(ctx, snap.ID, 100); err != nil {
		return "", err
	}
	return snap.ID, nil
}

// submitWithGas attaches a gas quote to the order (waiting, bounded, for
// better gas when the quote is high) and submits it exactly once.
func (o *Orchestrator) submitWithGas(ctx context.Context, order *providers.TradeOrder, op gas.OpType) (providers.TradeResult, error) {
	quote, err := o.gasQuotes.Quote(ctx, op)
	if err != nil {
		return providers.TradeResult{}, fmt.Errorf("%w: gas quote: %v", errs.ErrExternalFailure, err)
	}
	if quote.High {
		outcome, waitErr := o.gasQuotes.WaitForBetterGas(ctx, gasWaitMax)
		if waitErr == nil && outcome == gas.WaitImproved {
			if requote, qErr := o.gasQuotes.Quote(ctx, op); qErr == nil {
				quote = requote
			}
		}
	}
	if o.telemetry != nil {
		o.telemetry.GasPrice.Set(quote.GasPrice)
	}

	order.GasPrice = quote.GasPrice
	order.GasLimit = quote.GasLimit

	result, err := o.executor.Submit(ctx, *order)
	outcome := "success"
	if err != nil || !result.Success {
		outcome = "failed"
	}
	if o.telemetry != nil {
		o.telemetry.Trades.WithLabelValues(string(order.Side), outcome).Inc()
	}
	if err != nil {
		return providers.TradeResult{}, fmt.Errorf("%w: submit %s: %v", errs.ErrExternalFailure, order.Side, err)
	}
	if !result.Success {
		return providers.TradeResult{}, fmt.Errorf("%w: %s trade reverted (tx %s)", errs.ErrExternalFailure, order.Side, result.TxHash)
	}
	return result, nil
}

func (o *Orchestrator) observeScores(result CycleResult) {
	if o.telemetry == nil {
		return
	}
	o.telemetry.Evaluations.WithLabelValues(string(result.Recommendation.Action)).Inc()
	o.telemetry.RiskScore.Observe(result.Risk.Score)
	o.telemetry.OpportunityScore.Observe(result.Recommendation.Score)
}

func (o *Orchestrator) gaugePositions() {
	if o.telemetry != nil {
		o.telemetry.OpenPositions.Set(float64(o.positions.OpenCount()))
	}
}
