package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexrun/dexrun/internal/errs"
)

func TestStartSessionUnknownStrategy(t *testing.T) {
	rig := newTestRig(t, buyableMetrics())

	_, err := rig.orch.StartSession("martingale", "0xT", "0xP")
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
}

func TestSessionLifecycle(t *testing.T) {
	rig := newTestRig(t, buyableMetrics())

	id, err := rig.orch.StartSession("hybrid", "0xT", "0xP")
	require.NoError(t, err)

	session, ok := rig.orch.SessionResult(id)
	require.True(t, ok)
	assert.Equal(t, SessionActive, session.Status)

	result, err := rig.orch.RunCycle(context.Background(), id)
	require.NoError(t, err)
	require.True(t, result.Entered)

	session, ok = rig.orch.SessionResult(id)
	require.True(t, ok)
	require.Len(t, session.PositionIDs, 1)
	assert.Equal(t, result.PositionID, session.PositionIDs[0])

	// Stopping closes the remaining position and finalizes performance.
	stopped, err := rig.orch.StopSession(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, SessionStopped, stopped.Status)
	assert.Equal(t, 1, stopped.Performance.TotalTrades)
	assert.Equal(t, 0, rig.orch.positions.OpenCount())

	// The result stays queryable after the session ends.
	session, ok = rig.orch.SessionResult(id)
	require.True(t, ok)
	assert.Equal(t, SessionStopped, session.Status)
}

func TestStopSessionTwice(t *testing.T) {
	rig := newTestRig(t, buyableMetrics())

	id, err := rig.orch.StartSession("hybrid", "0xT", "0xP")
	require.NoError(t, err)

	_, err = rig.orch.StopSession(context.Background(), id)
	require.NoError(t, err)

	_, err = rig.orch.StopSession(context.Background(), id)
	assert.ErrorIs(t, err, errs.ErrStateViolation)
}

func TestRunCycleUnknownSession(t *testing.T) {
	rig := newTestRig(t, buyableMetrics())

	_, err := rig.orch.RunCycle(context.Background(), "missing")
	assert.ErrorIs(t, err, errs.ErrStateViolation)
}
