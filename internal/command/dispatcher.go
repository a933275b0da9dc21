package command

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"yee/internal/lights"
)

// Dispatcher fans thunks out across devices and collects every response.
type Dispatcher struct {
	invoker *Invoker
	logger  *slog.Logger

	// Limit caps concurrent device calls. Zero runs all at once.
	Limit int
}

func NewDispatcher(invoker *Invoker, limit int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{invoker: invoker, Limit: limit, logger: logger.With("component", "command")}
}

// Run builds the thunks for each device and invokes them all concurrently.
// It waits for every one: a failure never cancels its siblings. Responses are
// in device order, then builder order.
func (d *Dispatcher) Run(ctx context.Context, devices []lights.Device, build Builder) []lights.Response {
	var thunks []Thunk
	for _, dev := range devices {
		thunks = append(thunks, build(dev)...)
	}

	responses := make([]lights.Response, len(thunks))
	var g errgroup.Group
	if d.Limit > 0 {
		g.SetLimit(d.Limit)
	}
	for i, thunk := range thunks {
		g.Go(func() error {
			responses[i] = d.invoker.Invoke(ctx, thunk)
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Debug("dispatch complete", "devices", len(devices), "calls", len(thunks))
	return responses
}
