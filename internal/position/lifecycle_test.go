package position

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexrun/dexrun/internal/config"
	"github.com/dexrun/dexrun/internal/errs"
)

type fakePrices struct {
	mu    sync.Mutex
	price float64
	err   error
}

func (f *fakePrices) CurrentPrice(ctx context.Context, pair string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, f.err
}

func (f *fakePrices) set(price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = price
}

func testManager() *Manager {
	return NewManager(config.Default().Position, &fakePrices{price: 100})
}

func baseParams() OpenParams {
	return OpenParams{
		Token:      "0xT",
		Pair:       "0xP",
		Wallet:     "0xW",
		Amount:     100,
		EntryPrice: 100,
	}
}

func mustOpen(t *testing.T, m *Manager, params OpenParams) string {
	t.Helper()
	id, err := m.Open(params)
	require.NoError(t, err)
	return id
}

func TestOpenValidation(t *testing.T) {
	m := testManager()

	_, err := m.Open(OpenParams{Token: "0xT", Amount: 0, EntryPrice: 100})
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)

	_, err = m.Open(OpenParams{Token: "0xT", Amount: 100, EntryPrice: -1})
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
}

func TestOpenRejectsOversizedLadder(t *testing.T) {
	m := testManager()
	params := baseParams()
	params.ScaleOut = []config.LadderRung{
		{GainPct: 10, PortionPct: 60},
		{GainPct: 20, PortionPct: 60},
	}

	_, err := m.Open(params)
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
	assert.Equal(t, 0, m.OpenCount())
}

func TestOpenDuplicateOwnerRejected(t *testing.T) {
	m := testManager()
	mustOpen(t, m, baseParams())

	_, err := m.Open(baseParams())
	assert.ErrorIs(t, err, errs.ErrStateViolation)

	// Same token under a different wallet is a distinct position.
	other := baseParams()
	other.Wallet = "0xW2"
	mustOpen(t, m, other)
	assert.Equal(t, 2, m.OpenCount())
}

func TestStopLossBoundary(t *testing.T) {
	m := testManager()
	params := baseParams()
	params.StopLossPct = 10 // stop at 90

	t.Run("above the stop stays open", func(t *testing.T) {
		id := mustOpen(t, m, params)
		outcome, err := m.TickWithPrice(id, 91)
		require.NoError(t, err)
		assert.False(t, outcome.Closed)

		_, err = m.Close(id, 100)
		require.NoError(t, err)
	})

	t.Run("at or below the stop closes", func(t *testing.T) {
		id := mustOpen(t, m, params)
		outcome, err := m.TickWithPrice(id, 89)
		require.NoError(t, err)
		assert.True(t, outcome.Closed)
		assert.Equal(t, StopLoss, outcome.Reason)
		assert.InDelta(t, -11, outcome.PnLPct, 1e-9)
	})
}

func TestTrailingStopFollowsPeak(t *testing.T) {
	m := testManager()
	params := baseParams()
	params.Trailing = true
	params.TrailingDistancePct = 5
	id := mustOpen(t, m, params)

	// +3%, +1%, -2%: peak 103, trail trigger 97.85; all above it.
	for _, price := range []float64{103, 101, 98} {
		outcome, err := m.TickWithPrice(id, price)
		require.NoError(t, err)
		assert.False(t, outcome.Closed, "price %.0f should not close", price)
	}

	// -6% from entry is more than 5% off the 103 peak.
	outcome, err := m.TickWithPrice(id, 94)
	require.NoError(t, err)
	assert.True(t, outcome.Closed)
	assert.Equal(t, TrailingStop, outcome.Reason)
}

func TestTrailingStopFlatActsAsDistanceStop(t *testing.T) {
	m := testManager()
	params := baseParams()
	params.Trailing = true
	params.TrailingDistancePct = 5
	id := mustOpen(t, m, params)

	// No gain yet, so the trail hangs off the entry price.
	outcome, err := m.TickWithPrice(id, 96)
	require.NoError(t, err)
	assert.False(t, outcome.Closed)

	outcome, err = m.TickWithPrice(id, 95)
	require.NoError(t, err)
	assert.True(t, outcome.Closed)
	assert.Equal(t, TrailingStop, outcome.Reason)
}

func TestProfitLockRungsFireOnce(t *testing.T) {
	m := testManager()
	params := baseParams()
	params.ProfitLock = []config.LadderRung{
		{GainPct: 10, PortionPct: 25},
		{GainPct: 20, PortionPct: 50},
	}
	id := mustOpen(t, m, params)

	outcome, err := m.TickWithPrice(id, 110)
	require.NoError(t, err)
	require.Len(t, outcome.PartialCloses, 1)
	assert.Equal(t, ProfitLock, outcome.PartialCloses[0].Trigger)
	assert.InDelta(t, 25.0, outcome.PartialCloses[0].Amount, 1e-9)

	snap, err := m.Snapshot(id)
	require.NoError(t, err)
	assert.InDelta(t, 75.0, snap.Amount, 1e-9)
	assert.InDelta(t, 250.0, snap.RealizedPnL, 1e-9) // 25 tokens x $10

	// Same rung does not fire again on a repeat of the same gain.
	outcome, err = m.TickWithPrice(id, 111)
	require.NoError(t, err)
	assert.Empty(t, outcome.PartialCloses)

	// The 20% rung locks half of what remains.
	outcome, err = m.TickWithPrice(id, 120)
	require.NoError(t, err)
	require.Len(t, outcome.PartialCloses, 1)
	assert.InDelta(t, 37.5, outcome.PartialCloses[0].Amount, 1e-9)
}

func TestProfitLockJumpFiresLowerRungsToo(t *testing.T) {
	m := testManager()
	params := baseParams()
	params.ProfitLock = []config.LadderRung{
		{GainPct: 10, PortionPct: 25},
		{GainPct: 20, PortionPct: 50},
	}
	id := mustOpen(t, m, params)

	// A gap straight to +25% fires both rungs in ascending order.
	outcome, err := m.TickWithPrice(id, 125)
	require.NoError(t, err)
	require.Len(t, outcome.PartialCloses, 2)
	assert.InDelta(t, 25.0, outcome.PartialCloses[0].Amount, 1e-9)
	assert.InDelta(t, 37.5, outcome.PartialCloses[1].Amount, 1e-9)

	snap, err := m.Snapshot(id)
	require.NoError(t, err)
	assert.InDelta(t, 37.5, snap.Amount, 1e-9)
}

func TestScaleOutExhaustionClosesPosition(t *testing.T) {
	m := testManager()
	params := baseParams()
	params.ScaleOut = []config.LadderRung{
		{GainPct: 10, PortionPct: 50},
		{GainPct: 20, PortionPct: 50},
	}
	id := mustOpen(t, m, params)

	outcome, err := m.TickWithPrice(id, 110)
	require.NoError(t, err)
	require.Len(t, outcome.PartialCloses, 1)
	assert.InDelta(t, 50.0, outcome.PartialCloses[0].Amount, 1e-9)
	assert.False(t, outcome.Closed)

	// The second rung consumes the remainder and the position closes.
	outcome, err = m.TickWithPrice(id, 120)
	require.NoError(t, err)
	require.Len(t, outcome.PartialCloses, 1)
	assert.True(t, outcome.Closed)
	assert.Equal(t, ScaleOut, outcome.Reason)
	assert.Equal(t, 0, m.OpenCount())

	records := m.History(HistoryFilter{})
	require.Len(t, records, 1)
	// 50 tokens at +$10 plus 50 tokens at +$20.
	assert.InDelta(t, 1500.0, records[0].FinalPnL, 1e-9)
}

func TestScaleOutPortionCappedAtRemaining(t *testing.T) {
	m := testManager()
	params := baseParams()
	params.ProfitLock = []config.LadderRung{{GainPct: 10, PortionPct: 80}}
	params.ScaleOut = []config.LadderRung{{GainPct: 10, PortionPct: 40}}
	id := mustOpen(t, m, params)

	// Profit lock leaves 20; the 40-of-original scale-out caps at 20 and the
	// position is fully consumed.
	outcome, err := m.TickWithPrice(id, 110)
	require.NoError(t, err)
	require.Len(t, outcome.PartialCloses, 2)
	assert.InDelta(t, 80.0, outcome.PartialCloses[0].Amount, 1e-9)
	assert.InDelta(t, 20.0, outcome.PartialCloses[1].Amount, 1e-9)
	assert.True(t, outcome.Closed)
}

func TestTakeProfitClosesAfterLadders(t *testing.T) {
	m := testManager()
	params := baseParams()
	params.TakeProfitPct = 20
	id := mustOpen(t, m, params)

	outcome, err := m.TickWithPrice(id, 119)
	require.NoError(t, err)
	assert.False(t, outcome.Closed)

	outcome, err = m.TickWithPrice(id, 120)
	require.NoError(t, err)
	assert.True(t, outcome.Closed)
	assert.Equal(t, TakeProfit, outcome.Reason)
}

func TestCloseIsTerminal(t *testing.T) {
	m := testManager()
	id := mustOpen(t, m, baseParams())

	_, err := m.Close(id, 100)
	require.NoError(t, err)
	require.Len(t, m.History(HistoryFilter{}), 1)

	// Every further operation is a state violation and history is untouched.
	_, err = m.Close(id, 100)
	assert.ErrorIs(t, err, errs.ErrStateViolation)
	_, err = m.TickWithPrice(id, 50)
	assert.ErrorIs(t, err, errs.ErrStateViolation)
	_, err = m.SetStopLoss(id, 90, 0)
	assert.ErrorIs(t, err, errs.ErrStateViolation)
	assert.Len(t, m.History(HistoryFilter{}), 1)

	// A token/wallet slot frees up after close.
	mustOpen(t, m, baseParams())
}

func TestClosePartialLeavesOpen(t *testing.T) {
	m := testManager()
	id := mustOpen(t, m, baseParams())

	_, err := m.TickWithPrice(id, 110)
	require.NoError(t, err)

	snap, err := m.Close(id, 50)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, snap.Status)
	assert.InDelta(t, 50.0, snap.Amount, 1e-9)
	assert.InDelta(t, 500.0, snap.RealizedPnL, 1e-9)
	assert.Equal(t, 1, m.OpenCount())
}

func TestClosePortionValidation(t *testing.T) {
	m := testManager()
	id := mustOpen(t, m, baseParams())

	_, err := m.Close(id, 0)
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
	_, err = m.Close(id, 101)
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
}

func TestSetStopLoss(t *testing.T) {
	m := testManager()
	id := mustOpen(t, m, baseParams())

	stop, err := m.SetStopLoss(id, 85, 0)
	require.NoError(t, err)
	assert.Equal(t, 85.0, stop)

	stop, err = m.SetStopLoss(id, 0, 20)
	require.NoError(t, err)
	assert.Equal(t, 80.0, stop)

	_, err = m.SetStopLoss(id, 0, 0)
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
}

func TestExitDue(t *testing.T) {
	m := testManager()
	params := baseParams()
	params.StopLossPct = 10
	id := mustOpen(t, m, params)

	assert.False(t, m.ExitDue("0xT"))

	// Drive the price to the stop through a partial close path: ExitDue is
	// read-only, so probe with a snapshot-updating tick above the stop first.
	_, err := m.TickWithPrice(id, 95)
	require.NoError(t, err)
	assert.False(t, m.ExitDue("0xT"))
	assert.False(t, m.ExitDue("0xOTHER"))
}

func TestTickSkipsOnMissedQuote(t *testing.T) {
	prices := &fakePrices{err: errors.New("feed down")}
	m := NewManager(config.Default().Position, prices)
	id := mustOpen(t, m, baseParams())

	outcome, err := m.Tick(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, outcome.Closed)
	assert.Equal(t, 1, m.OpenCount())
}

func TestHistoryFilter(t *testing.T) {
	m := testManager()

	first := baseParams()
	id1 := mustOpen(t, m, first)
	_, err := m.Close(id1, 100)
	require.NoError(t, err)

	second := baseParams()
	second.Wallet = "0xW2"
	id2 := mustOpen(t, m, second)
	_, err = m.Close(id2, 100)
	require.NoError(t, err)

	all := m.History(HistoryFilter{})
	require.Len(t, all, 2)
	// Newest first.
	assert.Equal(t, id2, all[0].ID)

	byWallet := m.History(HistoryFilter{Wallet: "0xW2"})
	require.Len(t, byWallet, 1)
	assert.Equal(t, id2, byWallet[0].ID)
}

func TestMonitorStopsWhenPositionCloses(t *testing.T) {
	cfg := config.Default().Position
	cfg.UpdateInterval = 5 * time.Millisecond
	prices := &fakePrices{price: 100}
	m := NewManager(cfg, prices)

	params := baseParams()
	params.StopLossPct = 10
	id := mustOpen(t, m, params)
	require.NoError(t, m.StartMonitor(context.Background(), id))

	// Starting a second monitor for the same position is rejected.
	assert.ErrorIs(t, m.StartMonitor(context.Background(), id), errs.ErrStateViolation)

	prices.set(80)

	assert.Eventually(t, func() bool {
		return m.OpenCount() == 0
	}, 2*time.Second, 5*time.Millisecond)

	records := m.History(HistoryFilter{})
	require.Len(t, records, 1)
	assert.Equal(t, StopLoss, records[0].Reason)
}

func TestStartMonitorUnknownPosition(t *testing.T) {
	m := testManager()
	err := m.StartMonitor(context.Background(), "missing")
	assert.ErrorIs(t, err, errs.ErrStateViolation)
}
