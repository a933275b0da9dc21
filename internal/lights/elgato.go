package lights

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mdlayher/keylight"
)

const (
	elgatoPort      = 9123
	elgatoMinKelvin = 2900
	elgatoMaxKelvin = 7000
)

type ElgatoController struct {
	mu      sync.RWMutex
	clients map[string]*keylight.Client
	addrs   map[string]string
	logger  *slog.Logger
}

func NewElgatoController(logger *slog.Logger) *ElgatoController {
	if logger == nil {
		logger = slog.Default()
	}
	return &ElgatoController{
		clients: make(map[string]*keylight.Client),
		addrs:   make(map[string]string),
		logger:  logger.With("component", "elgato"),
	}
}

func (c *ElgatoController) Brand() Brand {
	return BrandElgato
}

// Discover probes every address registered through AddDevice; finding the
// addresses is left to mDNS or the subnet probe in the discovery package.
func (c *ElgatoController) Discover(ctx context.Context) ([]Device, error) {
	c.mu.RLock()
	existing := make(map[string]string, len(c.addrs))
	for k, v := range c.addrs {
		existing[k] = v
	}
	c.mu.RUnlock()

	var result []Device
	for id, addr := range existing {
		client, err := keylight.NewClient(addr, nil)
		if err != nil {
			c.logger.Warn("create client", "device", id, "error", err)
			continue
		}
		d, err := client.AccessoryInfo(ctx)
		if err != nil {
			c.logger.Debug("accessory info", "device", id, "error", err)
			continue
		}

		c.mu.Lock()
		c.clients[id] = client
		c.mu.Unlock()

		result = append(result, Device{
			ID:              id,
			Brand:           BrandElgato,
			Name:            d.DisplayName,
			Model:           d.ProductName,
			LastIP:          addrFromDeviceID(id),
			LastSeen:        time.Now(),
			SupportsKelvin:  true,
			MinKelvin:       elgatoMinKelvin,
			MaxKelvin:       elgatoMaxKelvin,
			FirmwareVersion: d.FirmwareVersion,
		})
	}

	return result, nil
}

// AddDevice registers a Key Light by IP (or host) and returns its device ID.
func (c *ElgatoController) AddDevice(host string) string {
	deviceID := fmt.Sprintf("elgato:%s", host)
	fullAddr := fmt.Sprintf("http://%s:%d", host, elgatoPort)
	client, err := keylight.NewClient(fullAddr, nil)
	if err != nil {
		c.logger.Warn("create client", "addr", fullAddr, "error", err)
		return deviceID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[deviceID] = client
	c.addrs[deviceID] = fullAddr
	return deviceID
}

func (c *ElgatoController) SetPower(ctx context.Context, deviceID string, on bool, _ PowerMode) error {
	return c.update(ctx, deviceID, func(l *keylight.Light) {
		l.On = on
	})
}

func (c *ElgatoController) SetColorTemperature(ctx context.Context, deviceID string, kelvin int) error {
	return c.update(ctx, deviceID, func(l *keylight.Light) {
		l.Temperature = clamp(kelvin, elgatoMinKelvin, elgatoMaxKelvin)
	})
}

func (c *ElgatoController) SetRGB(_ context.Context, deviceID string, _ RGB) error {
	return fmt.Errorf("%w: %s has no color channel", ErrUnsupported, deviceID)
}

func (c *ElgatoController) SetBrightness(ctx context.Context, deviceID string, percent int) error {
	// The Key Light accepts brightness in [3, 100].
	return c.update(ctx, deviceID, func(l *keylight.Light) {
		l.Brightness = clamp(percent, 3, 100)
	})
}

// update reads the current light state, applies fn and writes it back,
// reconnecting once when the first exchange fails.
func (c *ElgatoController) update(ctx context.Context, deviceID string, fn func(*keylight.Light)) error {
	client, err := c.getClient(deviceID)
	if err != nil {
		return err
	}

	ll, err := client.Lights(ctx)
	if err != nil {
		c.logger.Info("lights request failed, reconnecting", "device", deviceID, "error", err)
		client, err = c.reconnect(deviceID)
		if err != nil {
			return err
		}
		ll, err = client.Lights(ctx)
		if err != nil {
			return fmt.Errorf("%w: lights %s after reconnect: %v", ErrUnavailable, deviceID, err)
		}
	}
	if len(ll) == 0 {
		return fmt.Errorf("no lights found on device %s", deviceID)
	}

	fn(ll[0])
	if err := client.SetLights(ctx, ll); err != nil {
		return fmt.Errorf("%w: set lights %s: %v", ErrUnavailable, deviceID, err)
	}
	return nil
}

// getClient returns an existing client or creates one from the device ID's embedded IP.
func (c *ElgatoController) getClient(deviceID string) (*keylight.Client, error) {
	c.mu.RLock()
	client, ok := c.clients[deviceID]
	c.mu.RUnlock()
	if ok {
		return client, nil
	}
	return c.reconnect(deviceID)
}

func (c *ElgatoController) reconnect(deviceID string) (*keylight.Client, error) {
	ip := addrFromDeviceID(deviceID)
	if ip == "" {
		return nil, fmt.Errorf("%w: cannot extract IP from device ID %q", ErrNotFound, deviceID)
	}

	fullAddr := fmt.Sprintf("http://%s:%d", ip, elgatoPort)
	client, err := keylight.NewClient(fullAddr, nil)
	if err != nil {
		return nil, fmt.Errorf("reconnect %s: %w", deviceID, err)
	}

	c.mu.Lock()
	c.clients[deviceID] = client
	c.addrs[deviceID] = fullAddr
	c.mu.Unlock()
	return client, nil
}

func (c *ElgatoController) Close() error {
	return nil
}
