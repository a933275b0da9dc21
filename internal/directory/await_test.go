package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type awaitResult struct {
	snap    Snapshot
	err     error
	elapsed time.Duration
}

// startAwait runs AwaitReady in the background and returns once the first
// attempt has subscribed.
func startAwait(t *testing.T, s *Synchronizer, d *Directory, expected int, timeout time.Duration, retries int) (<-chan awaitResult, time.Time) {
	t.Helper()
	out := make(chan awaitResult, 1)
	start := time.Now()
	go func() {
		snap, err := s.AwaitReady(context.Background(), expected, timeout, retries)
		out <- awaitResult{snap: snap, err: err, elapsed: time.Since(start)}
	}()
	require.Eventually(t, func() bool { return d.Subscribers() == 1 }, time.Second, time.Millisecond)
	return out, start
}

func TestNext(t *testing.T) {
	assert.Equal(t, StateWaiting, next(StateWaiting, eventSnapshot))
	assert.Equal(t, StateReady, next(StateWaiting, eventMatch))
	assert.Equal(t, StateTimedOut, next(StateWaiting, eventExpired))
	assert.Equal(t, StateReady, next(StateReady, eventExpired))
	assert.Equal(t, StateTimedOut, next(StateTimedOut, eventMatch))
}

func TestAwaitReady_ResolvesOnFirstMatchingSnapshot(t *testing.T) {
	d := New(testLogger())
	s := NewSynchronizer(d, testLogger())

	results, _ := startAwait(t, s, d, 4, 500*time.Millisecond, 0)
	published := time.Now()
	for n := 1; n <= 4; n++ {
		d.Publish(devices(n))
		if n < 4 {
			time.Sleep(100 * time.Millisecond)
		}
	}
	d.Publish(devices(5))

	r := <-results
	require.NoError(t, r.err)
	assert.Len(t, r.snap, 4)
	assert.GreaterOrEqual(t, time.Since(published), 300*time.Millisecond)
	assert.Less(t, r.elapsed, 500*time.Millisecond)
	assert.Equal(t, 0, d.Subscribers())
}

func TestAwaitReady_IgnoresLargerAndSmallerSnapshots(t *testing.T) {
	d := New(testLogger())
	s := NewSynchronizer(d, testLogger())

	results, _ := startAwait(t, s, d, 2, time.Second, 0)
	d.Publish(devices(3))
	d.Publish(devices(1))
	d.Publish(devices(2))

	r := <-results
	require.NoError(t, r.err)
	assert.Len(t, r.snap, 2)
}

func TestAwaitReady_TimesOutAfterEveryAttempt(t *testing.T) {
	d := New(testLogger())
	s := NewSynchronizer(d, testLogger())

	var mu sync.Mutex
	timedOut := 0
	var final State
	s.OnTransition = func(_ int, _, to State) {
		mu.Lock()
		defer mu.Unlock()
		if to == StateTimedOut {
			timedOut++
		}
		final = to
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		n := 1
		for {
			select {
			case <-stop:
				return
			case <-time.After(100 * time.Millisecond):
				d.Publish(devices(n))
				n = n%2 + 1
			}
		}
	}()

	start := time.Now()
	_, err := s.AwaitReady(context.Background(), 4, 500*time.Millisecond, 1)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDiscoveryTimeout)
	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 2, te.Attempts)
	assert.Equal(t, 4, te.Expected)
	assert.Contains(t, []int{1, 2}, te.LastSeen)

	assert.GreaterOrEqual(t, elapsed, 1000*time.Millisecond)
	assert.Less(t, elapsed, 1500*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 2, timedOut)
	assert.Equal(t, StateExhausted, final)
	mu.Unlock()
	assert.Equal(t, 0, d.Subscribers())
}

func TestAwaitReady_AttemptCountIsRetriesPlusOne(t *testing.T) {
	d := New(testLogger())
	s := NewSynchronizer(d, testLogger())

	subscribed := 0
	s.OnTransition = func(attempt int, from, to State) {
		if to == StateWaiting {
			subscribed++
		}
	}

	_, err := s.AwaitReady(context.Background(), 1, 20*time.Millisecond, 3)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 4, te.Attempts)
	assert.Equal(t, -1, te.LastSeen)
	assert.Equal(t, 3, subscribed, "every retry re-enters waiting")
	assert.Contains(t, te.Error(), "no snapshot received")
}

func TestAwaitReady_RetryCatchesLaterSnapshot(t *testing.T) {
	d := New(testLogger())
	s := NewSynchronizer(d, testLogger())

	go func() {
		// Wait for the second attempt's subscription.
		time.Sleep(150 * time.Millisecond)
		d.Publish(devices(2))
	}()

	snap, err := s.AwaitReady(context.Background(), 2, 100*time.Millisecond, 2)
	require.NoError(t, err)
	assert.Len(t, snap, 2)
	assert.Equal(t, 0, d.Subscribers())
}

func TestAwaitReady_ZeroExpectedResolvesOnFirstSnapshot(t *testing.T) {
	d := New(testLogger())
	s := NewSynchronizer(d, testLogger())

	results, _ := startAwait(t, s, d, 0, time.Second, 0)
	d.Publish(nil)

	r := <-results
	require.NoError(t, r.err)
	assert.Empty(t, r.snap)
}

func TestAwaitReady_CancellationUnsubscribes(t *testing.T) {
	d := New(testLogger())
	s := NewSynchronizer(d, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.AwaitReady(ctx, 3, time.Minute, 5)
		done <- err
	}()
	require.Eventually(t, func() bool { return d.Subscribers() == 1 }, time.Second, time.Millisecond)

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, d.Subscribers())
}

func TestAwaitReady_RejectsBadArguments(t *testing.T) {
	s := NewSynchronizer(New(testLogger()), testLogger())

	_, err := s.AwaitReady(context.Background(), -1, time.Second, 0)
	assert.Error(t, err)
	_, err = s.AwaitReady(context.Background(), 1, 0, 0)
	assert.Error(t, err)
}
