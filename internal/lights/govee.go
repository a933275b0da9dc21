package lights

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	govee "github.com/swrm-io/go-vee"
)

type GoveeController struct {
	mu         sync.RWMutex
	controller *govee.Controller
	deviceMap  map[string]*govee.Device
	started    bool
	settle     time.Duration
	logger     *slog.Logger
}

// NewGoveeController creates a controller for the Govee LAN API. settle is how
// long Discover waits for devices to answer the controller's scan.
func NewGoveeController(settle time.Duration, logger *slog.Logger) *GoveeController {
	if settle <= 0 {
		settle = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	libLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	return &GoveeController{
		controller: govee.NewController(libLogger),
		deviceMap:  make(map[string]*govee.Device),
		settle:     settle,
		logger:     logger.With("component", "govee"),
	}
}

func (c *GoveeController) Brand() Brand {
	return BrandGovee
}

func (c *GoveeController) ensureStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	go func() {
		if err := c.controller.Start(); err != nil {
			c.logger.Warn("controller stopped", "error", err)
		}
	}()
	c.started = true
}

func (c *GoveeController) Discover(ctx context.Context) ([]Device, error) {
	c.ensureStarted()

	select {
	case <-ctx.Done():
	case <-time.After(c.settle):
	}

	var result []Device

	c.mu.Lock()
	for _, d := range c.controller.Devices() {
		ip := d.IP()
		sku := d.SKU()
		deviceID := fmt.Sprintf("govee:%s", ip)
		c.deviceMap[deviceID] = d
		result = append(result, Device{
			ID:             deviceID,
			Brand:          BrandGovee,
			Name:           fmt.Sprintf("Govee %s (%s)", sku, ip),
			Model:          sku,
			LastIP:         ip,
			LastSeen:       time.Now(),
			SupportsColor:  true,
			SupportsKelvin: true,
		})
	}
	c.mu.Unlock()

	return result, nil
}

func (c *GoveeController) device(deviceID string) (*govee.Device, error) {
	c.mu.RLock()
	dev, ok := c.deviceMap[deviceID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s, run discovery first", ErrNotFound, deviceID)
	}
	return dev, nil
}

// The LAN API is fire-and-forget UDP; a send error means the socket is not
// usable right now, so it is reported as transient.
func goveeErr(deviceID string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, deviceID, err)
}

func (c *GoveeController) SetPower(_ context.Context, deviceID string, on bool, _ PowerMode) error {
	dev, err := c.device(deviceID)
	if err != nil {
		return err
	}
	if on {
		return goveeErr(deviceID, dev.TurnOn())
	}
	return goveeErr(deviceID, dev.TurnOff())
}

func (c *GoveeController) SetColorTemperature(_ context.Context, deviceID string, kelvin int) error {
	dev, err := c.device(deviceID)
	if err != nil {
		return err
	}
	return goveeErr(deviceID, dev.SetColorKelvin(govee.NewColorKelvin(uint(clamp(kelvin, 2000, 9000)))))
}

func (c *GoveeController) SetRGB(_ context.Context, deviceID string, color RGB) error {
	dev, err := c.device(deviceID)
	if err != nil {
		return err
	}
	return goveeErr(deviceID, dev.SetColor(govee.Color{R: uint(color.R), G: uint(color.G), B: uint(color.B)}))
}

func (c *GoveeController) SetBrightness(_ context.Context, deviceID string, percent int) error {
	dev, err := c.device(deviceID)
	if err != nil {
		return err
	}
	return goveeErr(deviceID, dev.SetBrightness(govee.NewBrightness(uint(clamp(percent, 1, 100)))))
}

func (c *GoveeController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		c.controller.Shutdown()
		c.started = false
	}
	return nil
}
