package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"yee/internal/lights"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, Delay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

// sequence answers with statuses in order, repeating the last one.
func sequence(id string, calls *atomic.Int32, statuses ...int) Thunk {
	return func(context.Context) lights.Response {
		n := int(calls.Add(1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		st := statuses[n]
		resp := lights.Response{DeviceID: id, Status: st}
		if st != lights.StatusOK {
			resp.Message = fmt.Sprintf("status %d", st)
		}
		return resp
	}
}

func TestInvoke_RetriesTransientUntilSuccess(t *testing.T) {
	for k := 0; k <= 4; k++ {
		var calls atomic.Int32
		statuses := make([]int, 0, k+1)
		for range k {
			statuses = append(statuses, lights.StatusUnavailable)
		}
		statuses = append(statuses, lights.StatusOK)

		inv := NewInvoker(fastPolicy(10), testLogger())
		resp := inv.Invoke(context.Background(), sequence("yeelight:a", &calls, statuses...))

		assert.Equal(t, lights.StatusOK, resp.Status)
		assert.Equal(t, int32(k+1), calls.Load(), "k=%d", k)
	}
}

func TestInvoke_PermanentFailureReturnedVerbatim(t *testing.T) {
	var calls atomic.Int32
	inv := NewInvoker(fastPolicy(10), testLogger())
	resp := inv.Invoke(context.Background(), func(context.Context) lights.Response {
		calls.Add(1)
		return lights.Response{DeviceID: "lifx:b", Status: lights.StatusFailed, Message: "overheat"}
	})

	assert.Equal(t, lights.Response{DeviceID: "lifx:b", Status: lights.StatusFailed, Message: "overheat"}, resp)
	assert.Equal(t, int32(1), calls.Load())
}

func TestInvoke_ExhaustedAttempts(t *testing.T) {
	var calls atomic.Int32
	inv := NewInvoker(fastPolicy(3), testLogger())
	resp := inv.Invoke(context.Background(), sequence("hue:c", &calls, lights.StatusUnavailable))

	assert.Equal(t, lights.StatusExhausted, resp.Status)
	assert.Equal(t, "hue:c", resp.DeviceID)
	assert.Equal(t, "device unavailable after 3 attempts", resp.Message)
	assert.Equal(t, int32(3), calls.Load())
}

func TestInvoke_UnboundedStopsOnCancel(t *testing.T) {
	var calls atomic.Int32
	inv := NewInvoker(RetryPolicy{Delay: 5 * time.Millisecond}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	resp := inv.Invoke(ctx, sequence("govee:d", &calls, lights.StatusUnavailable))

	assert.Equal(t, lights.StatusCanceled, resp.Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), resp.Message)
	assert.Greater(t, calls.Load(), int32(1))
}

func TestRetryPolicy_NextDelay(t *testing.T) {
	p := RetryPolicy{Delay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}
	assert.Equal(t, 2*time.Second, p.nextDelay(time.Second))
	assert.Equal(t, 5*time.Second, p.nextDelay(4*time.Second))

	fixed := DefaultRetryPolicy()
	assert.Equal(t, time.Second, fixed.nextDelay(time.Second))
}

func TestDispatcher_PreservesSubmissionOrder(t *testing.T) {
	devs := []lights.Device{{ID: "yeelight:1"}, {ID: "yeelight:2"}, {ID: "yeelight:3"}}
	delays := map[string]time.Duration{"yeelight:1": 30 * time.Millisecond, "yeelight:2": 0, "yeelight:3": 15 * time.Millisecond}

	build := func(d lights.Device) []Thunk {
		mk := func(msg string) Thunk {
			return func(context.Context) lights.Response {
				time.Sleep(delays[d.ID])
				return lights.Response{DeviceID: d.ID, Status: lights.StatusFailed, Message: d.ID + "/" + msg}
			}
		}
		return []Thunk{mk("first"), mk("second")}
	}

	disp := NewDispatcher(NewInvoker(fastPolicy(1), testLogger()), 0, testLogger())
	res := Summarize(disp.Run(context.Background(), devs, build))

	assert.Equal(t, []string{
		"yeelight:1/first", "yeelight:1/second",
		"yeelight:2/first", "yeelight:2/second",
		"yeelight:3/first", "yeelight:3/second",
	}, res.Errors)
}

func TestDispatcher_RunsConcurrently(t *testing.T) {
	const n = 5
	var started sync.WaitGroup
	started.Add(n)
	allStarted := make(chan struct{})
	go func() {
		started.Wait()
		close(allStarted)
	}()

	devs := make([]lights.Device, n)
	for i := range devs {
		devs[i] = lights.Device{ID: "lifx:" + string(rune('a'+i))}
	}
	build := func(d lights.Device) []Thunk {
		return []Thunk{func(context.Context) lights.Response {
			started.Done()
			select {
			case <-allStarted:
				return lights.Response{DeviceID: d.ID, Status: lights.StatusOK}
			case <-time.After(2 * time.Second):
				return lights.Response{DeviceID: d.ID, Status: lights.StatusFailed, Message: "ran serially"}
			}
		}}
	}

	disp := NewDispatcher(NewInvoker(fastPolicy(1), testLogger()), 0, testLogger())
	res := Summarize(disp.Run(context.Background(), devs, build))
	assert.True(t, res.AllSucceeded, res.Errors)
}

func TestDispatcher_RespectsLimit(t *testing.T) {
	var running, peak atomic.Int32
	build := func(d lights.Device) []Thunk {
		return []Thunk{func(context.Context) lights.Response {
			cur := running.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return lights.Response{DeviceID: d.ID, Status: lights.StatusOK}
		}}
	}
	devs := make([]lights.Device, 8)
	for i := range devs {
		devs[i] = lights.Device{ID: "hue:" + string(rune('a'+i))}
	}

	disp := NewDispatcher(NewInvoker(fastPolicy(1), testLogger()), 2, testLogger())
	resps := disp.Run(context.Background(), devs, build)

	assert.Len(t, resps, 8)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDispatcher_FailureDoesNotShortCircuit(t *testing.T) {
	devs := []lights.Device{{ID: "yeelight:a"}, {ID: "yeelight:b"}, {ID: "yeelight:c"}}
	var calls atomic.Int32
	build := func(d lights.Device) []Thunk {
		return []Thunk{func(context.Context) lights.Response {
			calls.Add(1)
			if d.ID == "yeelight:b" {
				return lights.Response{DeviceID: d.ID, Status: lights.StatusFailed, Message: "overheat"}
			}
			return lights.Response{DeviceID: d.ID, Status: lights.StatusOK}
		}}
	}

	disp := NewDispatcher(NewInvoker(fastPolicy(3), testLogger()), 0, testLogger())
	res := Summarize(disp.Run(context.Background(), devs, build))

	assert.False(t, res.AllSucceeded)
	assert.Equal(t, []string{"overheat"}, res.Errors)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, lights.StatusOK, res.Responses[0].Status)
	assert.Equal(t, lights.StatusOK, res.Responses[2].Status)
	assert.Equal(t, []lights.Response{{DeviceID: "yeelight:b", Status: lights.StatusFailed, Message: "overheat"}}, res.Failed())
}

func TestDispatcher_TransientNeverEscapes(t *testing.T) {
	devs := []lights.Device{{ID: "yeelight:a"}, {ID: "yeelight:b"}, {ID: "yeelight:c"}}
	counters := map[string]*atomic.Int32{}
	for _, d := range devs {
		counters[d.ID] = &atomic.Int32{}
	}
	build := func(d lights.Device) []Thunk {
		switch d.ID {
		case "yeelight:a":
			return []Thunk{sequence(d.ID, counters[d.ID], lights.StatusUnavailable, lights.StatusUnavailable, lights.StatusOK)}
		case "yeelight:b":
			return []Thunk{sequence(d.ID, counters[d.ID], lights.StatusUnavailable)}
		}
		return []Thunk{sequence(d.ID, counters[d.ID], lights.StatusOK)}
	}

	disp := NewDispatcher(NewInvoker(fastPolicy(4), testLogger()), 0, testLogger())
	resps := disp.Run(context.Background(), devs, build)

	for _, r := range resps {
		assert.NotEqual(t, lights.StatusUnavailable, r.Status, r.DeviceID)
	}
	assert.Equal(t, lights.StatusOK, resps[0].Status)
	assert.Equal(t, lights.StatusExhausted, resps[1].Status)
	assert.Equal(t, int32(3), counters["yeelight:a"].Load())
	assert.Equal(t, int32(4), counters["yeelight:b"].Load())
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name      string
		in        []lights.Response
		succeeded bool
		errors    []string
	}{
		{name: "empty", in: nil, succeeded: true, errors: []string{}},
		{
			name:      "all ok",
			in:        []lights.Response{{Status: 200}, {Status: 200}, {Status: 200}},
			succeeded: true,
			errors:    []string{},
		},
		{
			name:      "one failure",
			in:        []lights.Response{{Status: 200}, {Status: 500, Message: "overheat"}, {Status: 200}},
			succeeded: false,
			errors:    []string{"overheat"},
		},
		{
			name:      "failure without message",
			in:        []lights.Response{{Status: 404}, {Status: 501, Message: "no color"}},
			succeeded: false,
			errors:    []string{"no color"},
		},
		{
			name:      "ok message ignored",
			in:        []lights.Response{{Status: 200, Message: "fine"}},
			succeeded: true,
			errors:    []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Summarize(tt.in)
			assert.Equal(t, tt.succeeded, res.AllSucceeded)
			assert.Equal(t, tt.errors, res.Errors)
		})
	}
}

type mockCommander struct {
	mock.Mock
}

func (m *mockCommander) SetPower(ctx context.Context, id string, on bool, mode lights.PowerMode) lights.Response {
	return m.Called(id, on, mode).Get(0).(lights.Response)
}

func (m *mockCommander) SetColorTemperature(ctx context.Context, id string, kelvin int) lights.Response {
	return m.Called(id, kelvin).Get(0).(lights.Response)
}

func (m *mockCommander) SetRGB(ctx context.Context, id string, c lights.RGB) lights.Response {
	return m.Called(id, c).Get(0).(lights.Response)
}

func (m *mockCommander) SetBrightness(ctx context.Context, id string, percent int) lights.Response {
	return m.Called(id, percent).Get(0).(lights.Response)
}

func TestPlan_AppliesOperationsPerDevice(t *testing.T) {
	c := &mockCommander{}
	ok := func(id string) lights.Response { return lights.Response{DeviceID: id, Status: lights.StatusOK} }
	c.On("SetPower", "yeelight:a", true, lights.Sudden).Return(ok("yeelight:a"))
	c.On("SetBrightness", "yeelight:a", 40).Return(ok("yeelight:a"))
	c.On("SetColorTemperature", "yeelight:a", 2700).Return(ok("yeelight:a"))
	c.On("SetRGB", "yeelight:a", lights.RGB{R: 1, G: 2, B: 3}).Return(ok("yeelight:a"))

	build := Plan(c, Power(true, lights.Sudden), Brightness(40), ColorTemperature(2700), Color(lights.RGB{R: 1, G: 2, B: 3}))
	thunks := build(lights.Device{ID: "yeelight:a"})
	require.Len(t, thunks, 4)
	for _, th := range thunks {
		assert.True(t, th(context.Background()).OK())
	}
	c.AssertExpectations(t)
}

func TestOperation_Validate(t *testing.T) {
	assert.NoError(t, Power(false, lights.Sudden).Validate())
	assert.NoError(t, Brightness(1).Validate())
	assert.Error(t, Brightness(0).Validate())
	assert.Error(t, Brightness(101).Validate())
	assert.NoError(t, ColorTemperature(6500).Validate())
	assert.Error(t, ColorTemperature(200).Validate())
	assert.Error(t, Operation{Kind: Kind(42)}.Validate())
}

func TestOperation_String(t *testing.T) {
	assert.Equal(t, "temp 2700K", ColorTemperature(2700).String())
	assert.Equal(t, "brightness 40%", Brightness(40).String())
	assert.Equal(t, "rgb ff6a00", Color(lights.RGB{R: 0xff, G: 0x6a}).String())
}
