// Package command turns operations into per-device calls, retries the
// transient ones and collects the outcome.
package command

import (
	"context"
	"fmt"

	"yee/internal/lights"
)

// Kind enumerates the operations a device can be sent.
type Kind int

const (
	KindPower Kind = iota
	KindColorTemperature
	KindRGB
	KindBrightness
)

func (k Kind) String() string {
	switch k {
	case KindPower:
		return "power"
	case KindColorTemperature:
		return "temp"
	case KindRGB:
		return "rgb"
	case KindBrightness:
		return "brightness"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Commander is the device command interface. lights.Manager implements it.
type Commander interface {
	SetPower(ctx context.Context, deviceID string, on bool, mode lights.PowerMode) lights.Response
	SetColorTemperature(ctx context.Context, deviceID string, kelvin int) lights.Response
	SetRGB(ctx context.Context, deviceID string, color lights.RGB) lights.Response
	SetBrightness(ctx context.Context, deviceID string, percent int) lights.Response
}

// Operation is one action, not yet bound to a device. Only the fields
// relevant to Kind are read.
type Operation struct {
	Kind       Kind
	On         bool
	Mode       lights.PowerMode
	Kelvin     int
	Color      lights.RGB
	Brightness int
}

func Power(on bool, mode lights.PowerMode) Operation {
	return Operation{Kind: KindPower, On: on, Mode: mode}
}

func ColorTemperature(kelvin int) Operation {
	return Operation{Kind: KindColorTemperature, Kelvin: kelvin}
}

func Color(c lights.RGB) Operation {
	return Operation{Kind: KindRGB, Color: c}
}

func Brightness(percent int) Operation {
	return Operation{Kind: KindBrightness, Brightness: percent}
}

func (op Operation) String() string {
	switch op.Kind {
	case KindPower:
		state := "off"
		if op.On {
			state = "on"
		}
		return fmt.Sprintf("power %s (%s)", state, op.Mode)
	case KindColorTemperature:
		return fmt.Sprintf("temp %dK", op.Kelvin)
	case KindRGB:
		return "rgb " + op.Color.String()
	case KindBrightness:
		return fmt.Sprintf("brightness %d%%", op.Brightness)
	}
	return op.Kind.String()
}

// Validate checks operation arguments before anything is sent.
func (op Operation) Validate() error {
	switch op.Kind {
	case KindPower, KindRGB:
		return nil
	case KindColorTemperature:
		if op.Kelvin < 1000 || op.Kelvin > 10000 {
			return fmt.Errorf("color temperature %dK out of range 1000-10000", op.Kelvin)
		}
		return nil
	case KindBrightness:
		if op.Brightness < 1 || op.Brightness > 100 {
			return fmt.Errorf("brightness %d out of range 1-100", op.Brightness)
		}
		return nil
	}
	return fmt.Errorf("unknown operation kind %d", int(op.Kind))
}

// Apply sends the operation to one device.
func (op Operation) Apply(ctx context.Context, c Commander, deviceID string) lights.Response {
	switch op.Kind {
	case KindPower:
		return c.SetPower(ctx, deviceID, op.On, op.Mode)
	case KindColorTemperature:
		return c.SetColorTemperature(ctx, deviceID, op.Kelvin)
	case KindRGB:
		return c.SetRGB(ctx, deviceID, op.Color)
	case KindBrightness:
		return c.SetBrightness(ctx, deviceID, op.Brightness)
	}
	return lights.Response{DeviceID: deviceID, Status: lights.StatusUnsupported, Message: "unknown operation " + op.Kind.String()}
}

// Thunk is a deferred device call. Every call re-sends the command.
type Thunk func(ctx context.Context) lights.Response

// Builder returns the calls to make against one device, in order.
type Builder func(lights.Device) []Thunk

// Plan builds every operation against every device through c.
func Plan(c Commander, ops ...Operation) Builder {
	return func(d lights.Device) []Thunk {
		thunks := make([]Thunk, len(ops))
		for i, op := range ops {
			thunks[i] = func(ctx context.Context) lights.Response {
				return op.Apply(ctx, c, d.ID)
			}
		}
		return thunks
	}
}
