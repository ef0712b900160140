package coalesce

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoalescer_ConcurrentCallsShareOneExecution(t *testing.T) {
	c := New()

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})

	leaderFn := func() (any, error) {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		return "payload", nil
	}

	var wg sync.WaitGroup
	results := make([]any, 10)
	coalescedFlags := make([]bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			val, coalesced, err := c.Execute(context.Background(), "same-key", leaderFn)
			require.NoError(t, err)
			results[idx] = val
			coalescedFlags[idx] = coalesced
		}(i)
	}

	<-started
	time.Sleep(20 * time.Millisecond) // let followers queue up behind the leader
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, "payload", r)
	}

	// Exactly one of the ten callers led the call; the other nine joined it.
	var coalescedCount int
	for _, c := range coalescedFlags {
		if c {
			coalescedCount++
		}
	}
	assert.Equal(t, 9, coalescedCount)
}

func TestCoalescer_DistinctKeysRunIndependently(t *testing.T) {
	c := New()
	var calls int32

	fn := func() (any, error) {
		atomic.AddInt32(&calls, 1)
		return "ok", nil
	}

	_, _, err1 := c.Execute(context.Background(), "key-a", fn)
	_, _, err2 := c.Execute(context.Background(), "key-b", fn)

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.EqualValues(t, 2, calls)
}

func TestCoalescer_AbandonedFollowerDoesNotAffectLeader(t *testing.T) {
	c := New()

	leaderDone := make(chan struct{})
	leaderFn := func() (any, error) {
		time.Sleep(50 * time.Millisecond)
		close(leaderDone)
		return "leader-result", nil
	}

	go func() {
		_, _, _ = c.Execute(context.Background(), "key", leaderFn)
	}()
	time.Sleep(5 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, _, err := c.Execute(ctx, "key", leaderFn)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	<-leaderDone // leader must still complete despite the follower giving up
}
