package lights

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync"
	"time"

	"go.yhsif.com/lifxlan"
	"go.yhsif.com/lifxlan/light"
)

type LIFXController struct {
	mu      sync.RWMutex
	devices map[string]lifxlan.Device
	lights  map[string]light.Device
	timeout time.Duration
	logger  *slog.Logger
}

func NewLIFXController(discoverTimeout time.Duration, logger *slog.Logger) *LIFXController {
	if discoverTimeout <= 0 {
		discoverTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LIFXController{
		devices: make(map[string]lifxlan.Device),
		lights:  make(map[string]light.Device),
		timeout: discoverTimeout,
		logger:  logger.With("component", "lifx"),
	}
}

func (c *LIFXController) Brand() Brand {
	return BrandLIFX
}

func (c *LIFXController) Discover(ctx context.Context) ([]Device, error) {
	discoverCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ch := make(chan lifxlan.Device)
	go func() {
		if err := lifxlan.Discover(discoverCtx, ch, ""); err != nil && discoverCtx.Err() == nil {
			c.logger.Warn("discover", "error", err)
		}
	}()

	seen := make(map[string]bool)
	var result []Device

	for raw := range ch {
		target := raw.Target().String()
		if seen[target] {
			continue
		}
		seen[target] = true

		labelCtx, labelCancel := context.WithTimeout(ctx, 2*time.Second)
		ld, err := light.Wrap(labelCtx, raw, false)
		labelCancel()
		if err != nil {
			c.logger.Debug("wrap failed", "target", target, "error", err)
			continue
		}

		// Hardware and firmware lookups are best-effort.
		versionCtx, versionCancel := context.WithTimeout(ctx, 2*time.Second)
		_ = raw.GetHardwareVersion(versionCtx, nil)
		versionCancel()

		firmwareCtx, firmwareCancel := context.WithTimeout(ctx, 2*time.Second)
		_ = raw.GetFirmware(firmwareCtx, nil)
		firmwareCancel()

		supportsColor := true
		var minKelvin, maxKelvin int
		var productName string
		if product := raw.HardwareVersion().Parse(); product != nil {
			supportsColor = product.Features.Color.Get()
			productName = product.ProductName
			if tr := product.Features.TemperatureRange; tr.Valid() {
				minKelvin = int(tr.Min())
				maxKelvin = int(tr.Max())
			}
		}

		var firmwareVersion string
		if fw := raw.Firmware(); fw.String() != lifxlan.EmptyFirmware {
			firmwareVersion = fmt.Sprintf("%d.%d", fw.Major, fw.Minor)
		}

		deviceID := fmt.Sprintf("lifx:%s", target)
		host, _, _ := net.SplitHostPort(raw.Target().String())
		if host == "" {
			host = target
		}

		c.mu.Lock()
		c.devices[deviceID] = raw
		c.lights[deviceID] = ld
		c.mu.Unlock()

		name := ld.Label().String()
		if name == lifxlan.EmptyLabel {
			name = fmt.Sprintf("LIFX %s", target)
		}

		result = append(result, Device{
			ID:              deviceID,
			Brand:           BrandLIFX,
			Name:            name,
			Model:           productName,
			LastIP:          host,
			LastSeen:        time.Now(),
			SupportsColor:   supportsColor,
			SupportsKelvin:  true,
			MinKelvin:       minKelvin,
			MaxKelvin:       maxKelvin,
			FirmwareVersion: firmwareVersion,
		})
	}

	return result, nil
}

func (c *LIFXController) SetPower(ctx context.Context, deviceID string, on bool, mode PowerMode) error {
	power := lifxlan.PowerOff
	if on {
		power = lifxlan.PowerOn
	}
	return c.withConn(ctx, deviceID, func(ld light.Device, conn net.Conn) error {
		return ld.SetLightPower(ctx, conn, power, mode.transition(), false)
	})
}

func (c *LIFXController) SetColorTemperature(ctx context.Context, deviceID string, kelvin int) error {
	return c.updateColor(ctx, deviceID, func(color *lifxlan.Color) {
		color.Saturation = 0
		color.Kelvin = uint16(clamp(kelvin, 1500, 9000))
	})
}

func (c *LIFXController) SetRGB(ctx context.Context, deviceID string, rgb RGB) error {
	h, s, b := rgb.HSB()
	return c.updateColor(ctx, deviceID, func(color *lifxlan.Color) {
		color.Hue = uint16(h / 360.0 * math.MaxUint16)
		color.Saturation = uint16(s * math.MaxUint16)
		color.Brightness = uint16(b * math.MaxUint16)
	})
}

func (c *LIFXController) SetBrightness(ctx context.Context, deviceID string, percent int) error {
	return c.updateColor(ctx, deviceID, func(color *lifxlan.Color) {
		color.Brightness = uint16(float64(clamp(percent, 0, 100)) / 100 * math.MaxUint16)
	})
}

// updateColor reads the light's current HSBK, applies fn and writes it back so
// unrelated components are preserved.
func (c *LIFXController) updateColor(ctx context.Context, deviceID string, fn func(*lifxlan.Color)) error {
	return c.withConn(ctx, deviceID, func(ld light.Device, conn net.Conn) error {
		color, err := ld.GetColor(ctx, conn)
		if err != nil {
			return fmt.Errorf("%w: get color: %v", ErrUnavailable, err)
		}
		if color.Kelvin == 0 {
			color.Kelvin = DefaultKelvin
		}
		fn(color)
		return ld.SetColor(ctx, conn, color, 200*time.Millisecond, false)
	})
}

func (c *LIFXController) withConn(ctx context.Context, deviceID string, fn func(light.Device, net.Conn) error) error {
	ld, err := c.getLight(ctx, deviceID)
	if err != nil {
		return err
	}

	conn, err := ld.Dial()
	if err != nil {
		c.logger.Info("dial failed, re-discovering", "device", deviceID, "error", err)
		ld, err = c.rediscoverDevice(ctx, deviceID)
		if err != nil {
			return err
		}
		conn, err = ld.Dial()
		if err != nil {
			return fmt.Errorf("%w: dial %s after re-discovery: %v", ErrUnavailable, deviceID, err)
		}
	}
	defer conn.Close()

	if err := fn(ld, conn); err != nil {
		c.logger.Debug("command failed", "device", deviceID, "error", err)
		return err
	}
	return nil
}

// getLight retrieves a known light, or re-discovers if missing.
func (c *LIFXController) getLight(ctx context.Context, deviceID string) (light.Device, error) {
	c.mu.RLock()
	ld, ok := c.lights[deviceID]
	c.mu.RUnlock()
	if ok {
		return ld, nil
	}
	c.logger.Info("device not in cache, running discovery", "device", deviceID)
	return c.rediscoverDevice(ctx, deviceID)
}

func (c *LIFXController) rediscoverDevice(ctx context.Context, deviceID string) (light.Device, error) {
	_, _ = c.Discover(ctx)

	c.mu.RLock()
	ld, ok := c.lights[deviceID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s not found after re-discovery", ErrNotFound, deviceID)
	}
	return ld, nil
}

func (c *LIFXController) Close() error {
	return nil
}
