package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestBreaker reads the clock through now, so a test advances the
// breaker's clock by assigning to its own variable.
func newTestBreaker(cfg Config, now *time.Time) *Breaker {
	b := New(cfg)
	b.now = func() time.Time { return *now }
	return b
}

func TestBreaker_TripsAfterFailureThreshold(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(Config{FailureThreshold: 5, RecoverySeconds: 30, HalfOpenProbes: 3}, &now)

	for i := 0; i < 5; i++ {
		require.True(t, b.CanExecute())
		b.RecordFailure()
	}

	assert.False(t, b.CanExecute())
	assert.Equal(t, Open, b.Stats().State)
}

func TestBreaker_RecoversAfterHalfOpenProbes(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(Config{FailureThreshold: 2, RecoverySeconds: 30, HalfOpenProbes: 3}, &now)

	b.CanExecute()
	b.RecordFailure()
	b.CanExecute()
	b.RecordFailure()
	require.Equal(t, Open, b.Stats().State)

	now = now.Add(31 * time.Second)

	for i := 0; i < 3; i++ {
		require.True(t, b.CanExecute())
		b.RecordSuccess()
	}

	assert.Equal(t, Closed, b.Stats().State)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(Config{FailureThreshold: 1, RecoverySeconds: 10, HalfOpenProbes: 2}, &now)

	b.CanExecute()
	b.RecordFailure()
	require.Equal(t, Open, b.Stats().State)

	now = now.Add(11 * time.Second)
	require.True(t, b.CanExecute())
	b.RecordFailure()

	assert.Equal(t, Open, b.Stats().State)
	assert.False(t, b.CanExecute())
}

func TestBreaker_OpenRejectsBeforeRecovery(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(Config{FailureThreshold: 1, RecoverySeconds: 30, HalfOpenProbes: 1}, &now)

	b.CanExecute()
	b.RecordFailure()
	require.Equal(t, Open, b.Stats().State)

	now = now.Add(5 * time.Second)
	assert.False(t, b.CanExecute())
}

func TestBreaker_HalfOpenCapsConcurrentProbes(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(Config{FailureThreshold: 1, RecoverySeconds: 10, HalfOpenProbes: 2}, &now)

	b.CanExecute()
	b.RecordFailure()
	now = now.Add(11 * time.Second)

	assert.True(t, b.CanExecute())
	assert.True(t, b.CanExecute())
	assert.False(t, b.CanExecute())
}

// TestBreaker_HalfOpenDoesNotCloseOnFirstOfConcurrentProbes reproduces P
// concurrently admitted probes where only one has actually completed: the
// breaker must stay HALF_OPEN, not close on the strength of a single
// success, since the other admitted probes could still fail.
func TestBreaker_HalfOpenDoesNotCloseOnFirstOfConcurrentProbes(t *testing.T) {
	now := time.Now()
	b := newTestBreaker(Config{FailureThreshold: 1, RecoverySeconds: 10, HalfOpenProbes: 3}, &now)

	b.CanExecute()
	b.RecordFailure()
	now = now.Add(11 * time.Second)

	require.True(t, b.CanExecute())
	require.True(t, b.CanExecute())
	require.True(t, b.CanExecute())
	require.False(t, b.CanExecute())

	b.RecordSuccess()
	assert.Equal(t, HalfOpen, b.Stats().State)

	b.RecordSuccess()
	assert.Equal(t, HalfOpen, b.Stats().State)

	b.RecordSuccess()
	assert.Equal(t, Closed, b.Stats().State)
}
