package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrDiscoveryTimeout is returned (wrapped in *TimeoutError) when no snapshot
// of the expected size arrived within the whole attempt budget.
var ErrDiscoveryTimeout = errors.New("discovery timeout")

// State is the readiness state of one await.
type State int

const (
	// StateWaiting: subscribed, timer running.
	StateWaiting State = iota
	// StateReady: a snapshot of the expected size arrived.
	StateReady
	// StateTimedOut: the attempt's timer fired first.
	StateTimedOut
	// StateExhausted: every attempt timed out.
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateReady:
		return "ready"
	case StateTimedOut:
		return "timed-out"
	case StateExhausted:
		return "exhausted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type event int

const (
	eventSnapshot event = iota
	eventMatch
	eventExpired
)

// next is the per-attempt transition function. Ready and TimedOut are
// terminal for the attempt.
func next(s State, e event) State {
	if s != StateWaiting {
		return s
	}
	switch e {
	case eventMatch:
		return StateReady
	case eventExpired:
		return StateTimedOut
	}
	return StateWaiting
}

type TimeoutError struct {
	Expected int
	Attempts int
	Timeout  time.Duration
	// LastSeen is the size of the last snapshot observed, or -1 if none arrived.
	LastSeen int
}

func (e *TimeoutError) Error() string {
	seen := "no snapshot received"
	if e.LastSeen >= 0 {
		seen = fmt.Sprintf("last snapshot had %d", e.LastSeen)
	}
	return fmt.Sprintf("%v: expected %d device(s), %s after %d attempt(s) of %v",
		ErrDiscoveryTimeout, e.Expected, seen, e.Attempts, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return ErrDiscoveryTimeout
}

// Synchronizer waits for a Directory to publish a snapshot of a known size.
type Synchronizer struct {
	dir    *Directory
	logger *slog.Logger

	// OnTransition, when set, observes every state change. attempt is 1-based.
	OnTransition func(attempt int, from, to State)
}

func NewSynchronizer(dir *Directory, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{dir: dir, logger: logger.With("component", "directory")}
}

// AwaitReady blocks until the directory publishes a snapshot holding exactly
// expected devices and returns it. Each attempt subscribes afresh and lasts at
// most timeout; up to maxRetries further attempts follow a timed-out one.
// The subscription is released on every return path.
func (s *Synchronizer) AwaitReady(ctx context.Context, expected int, timeout time.Duration, maxRetries int) (Snapshot, error) {
	if expected < 0 {
		return nil, fmt.Errorf("expected device count must not be negative, got %d", expected)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("attempt timeout must be positive, got %v", timeout)
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	lastSeen := -1
	attempts := maxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			s.transition(attempt, StateTimedOut, StateWaiting)
		}
		snap, state, err := s.attempt(ctx, attempt, expected, timeout, &lastSeen)
		if err != nil {
			return nil, err
		}
		if state == StateReady {
			return snap, nil
		}
	}

	s.transition(attempts, StateTimedOut, StateExhausted)
	return nil, &TimeoutError{Expected: expected, Attempts: attempts, Timeout: timeout, LastSeen: lastSeen}
}

func (s *Synchronizer) attempt(ctx context.Context, attempt, expected int, timeout time.Duration, lastSeen *int) (Snapshot, State, error) {
	sub := s.dir.Subscribe()
	defer sub.Unsubscribe()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	state := StateWaiting
	for {
		var ev event
		var snap Snapshot

		select {
		case <-ctx.Done():
			return nil, state, ctx.Err()
		case <-timer.C:
			ev = eventExpired
		case got, ok := <-sub.C():
			if !ok {
				return nil, state, errors.New("directory subscription closed")
			}
			snap = got
			*lastSeen = len(got)
			ev = eventSnapshot
			if len(got) == expected {
				ev = eventMatch
			}
		}

		to := next(state, ev)
		if to != state {
			s.transition(attempt, state, to)
			state = to
		}
		switch state {
		case StateReady:
			return snap, state, nil
		case StateTimedOut:
			return nil, state, nil
		}
	}
}

func (s *Synchronizer) transition(attempt int, from, to State) {
	s.logger.Debug("readiness transition", "attempt", attempt, "from", from, "to", to)
	if s.OnTransition != nil {
		s.OnTransition(attempt, from, to)
	}
}
