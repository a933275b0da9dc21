package lights

import "context"

// Controller drives every device of one brand. Errors wrapping ErrUnavailable
// are reported to callers as transient.
type Controller interface {
	Brand() Brand
	Discover(ctx context.Context) ([]Device, error)
	SetPower(ctx context.Context, deviceID string, on bool, mode PowerMode) error
	SetColorTemperature(ctx context.Context, deviceID string, kelvin int) error
	SetRGB(ctx context.Context, deviceID string, color RGB) error
	SetBrightness(ctx context.Context, deviceID string, percent int) error
	Close() error
}
