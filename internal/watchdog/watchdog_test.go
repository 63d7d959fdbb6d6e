package watchdog

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchdogFiresAfterDeadline(t *testing.T) {
	t.Parallel()

	var fired atomic.Int32
	w := ArmWithTick(30*time.Millisecond, 5*time.Millisecond, func() { fired.Add(1) })

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, Fired, w.State())
	require.True(t, w.Disarm())
	require.Equal(t, int32(1), fired.Load())
}

func TestWatchdogDisarmBeforeDeadline(t *testing.T) {
	t.Parallel()

	var fired atomic.Int32
	w := ArmWithTick(time.Hour, 5*time.Millisecond, func() { fired.Add(1) })
	require.Equal(t, Armed, w.State())

	require.False(t, w.Disarm())
	require.Equal(t, Disarmed, w.State())
	// Idempotent.
	require.False(t, w.Disarm())
	require.Zero(t, fired.Load())
}

func TestWatchdogZeroTimeoutNeverFires(t *testing.T) {
	t.Parallel()

	w := Arm(0, func() { t.Error("fired") })
	require.False(t, w.Disarm())
	require.Equal(t, Disarmed, w.State())
}

func TestNilWatchdog(t *testing.T) {
	t.Parallel()

	var w *Watchdog
	require.False(t, w.Disarm())
	require.False(t, w.Fired())
}

func TestStateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "armed", Armed.String())
	require.Equal(t, "disarmed", Disarmed.String())
	require.Equal(t, "fired", Fired.String())
	require.Equal(t, "unknown", State(9).String())
}
