package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"yee/internal/lights"
)

// RetryPolicy bounds how the Invoker retries transient failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of calls, first included. Zero means
	// retry until the context ends.
	MaxAttempts int
	Delay       time.Duration
	MaxDelay    time.Duration
	// Multiplier grows the delay after every retry. 1 keeps it fixed.
	Multiplier float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 10,
		Delay:       time.Second,
		MaxDelay:    5 * time.Second,
		Multiplier:  1.0,
	}
}

func (p RetryPolicy) nextDelay(d time.Duration) time.Duration {
	if p.Multiplier > 1 {
		d = time.Duration(float64(d) * p.Multiplier)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Invoker runs a thunk and re-runs it while the device reports itself
// unavailable. A 410 never leaves Invoke.
type Invoker struct {
	policy RetryPolicy
	logger *slog.Logger
}

func NewInvoker(policy RetryPolicy, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts < 0 {
		policy.MaxAttempts = 0
	}
	return &Invoker{policy: policy, logger: logger.With("component", "command")}
}

func (i *Invoker) Policy() RetryPolicy {
	return i.policy
}

// Invoke returns the first non-transient response. It gives up with
// StatusExhausted once MaxAttempts calls were all transient, and with
// StatusCanceled when ctx ends while waiting to retry.
func (i *Invoker) Invoke(ctx context.Context, thunk Thunk) lights.Response {
	delay := i.policy.Delay
	for attempt := 1; ; attempt++ {
		resp := thunk(ctx)
		if !resp.Transient() {
			return resp
		}

		if i.policy.MaxAttempts > 0 && attempt >= i.policy.MaxAttempts {
			i.logger.Warn("giving up on unavailable device", "device", resp.DeviceID, "attempts", attempt)
			return lights.Response{
				DeviceID: resp.DeviceID,
				Status:   lights.StatusExhausted,
				Message:  fmt.Sprintf("device unavailable after %d attempts", attempt),
			}
		}

		i.logger.Debug("device unavailable, retrying", "device", resp.DeviceID, "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return lights.Response{
				DeviceID: resp.DeviceID,
				Status:   lights.StatusCanceled,
				Message:  ctx.Err().Error(),
			}
		case <-time.After(delay):
		}
		delay = i.policy.nextDelay(delay)
	}
}
