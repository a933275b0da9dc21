package lights

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Manager owns the brand controllers and routes per-device commands to them
// by the "brand:" prefix of the device ID.
type Manager struct {
	mu          sync.RWMutex
	controllers map[Brand]Controller
	devices     map[string]Device
	logger      *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		controllers: make(map[Brand]Controller),
		devices:     make(map[string]Device),
		logger:      logger.With("component", "lights"),
	}
}

func (m *Manager) RegisterController(c Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controllers[c.Brand()] = c
}

func (m *Manager) GetController(brand Brand) (Controller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.controllers[brand]
	return c, ok
}

func (m *Manager) DiscoverAll(ctx context.Context) ([]Device, error) {
	return m.DiscoverAllWithProgress(ctx, nil)
}

// DiscoverAllWithProgress runs discovery across all controllers concurrently.
// onDevices is called (under an internal lock, so serially) each time a
// controller finishes, with only the devices that controller returned.
func (m *Manager) DiscoverAllWithProgress(ctx context.Context, onDevices func([]Device)) ([]Device, error) {
	m.mu.RLock()
	controllers := make([]Controller, 0, len(m.controllers))
	for _, c := range m.controllers {
		controllers = append(controllers, c)
	}
	m.mu.RUnlock()

	var (
		allDevices []Device
		mu         sync.Mutex
		errs       []error
		g          errgroup.Group
	)

	for _, c := range controllers {
		g.Go(func() error {
			devices, err := c.Discover(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				m.logger.Warn("discovery failed", "brand", c.Brand(), "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", c.Brand(), err))
				return nil
			}
			allDevices = append(allDevices, devices...)
			if onDevices != nil && len(devices) > 0 {
				onDevices(devices)
			}
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	for _, d := range allDevices {
		m.devices[d.ID] = d
	}
	m.mu.Unlock()

	if len(errs) > 0 && len(allDevices) == 0 {
		return nil, fmt.Errorf("discovery failed: %w", errors.Join(errs...))
	}

	SortDevices(allDevices)
	return allDevices, nil
}

func (m *Manager) SetPower(ctx context.Context, deviceID string, on bool, mode PowerMode) Response {
	return m.run(deviceID, "set power", func(c Controller) error {
		return c.SetPower(ctx, deviceID, on, mode)
	})
}

func (m *Manager) SetColorTemperature(ctx context.Context, deviceID string, kelvin int) Response {
	return m.run(deviceID, "set color temperature", func(c Controller) error {
		return c.SetColorTemperature(ctx, deviceID, kelvin)
	})
}

func (m *Manager) SetRGB(ctx context.Context, deviceID string, color RGB) Response {
	return m.run(deviceID, "set rgb", func(c Controller) error {
		return c.SetRGB(ctx, deviceID, color)
	})
}

func (m *Manager) SetBrightness(ctx context.Context, deviceID string, percent int) Response {
	return m.run(deviceID, "set brightness", func(c Controller) error {
		return c.SetBrightness(ctx, deviceID, percent)
	})
}

func (m *Manager) run(deviceID, op string, fn func(Controller) error) Response {
	brand := brandFromDeviceID(deviceID)
	ctrl, ok := m.GetController(brand)
	if !ok {
		return ResponseFromError(deviceID, fmt.Errorf("%w: no controller for brand %q", ErrNotFound, brand))
	}
	m.logger.Debug(op, "device", deviceID)
	resp := ResponseFromError(deviceID, fn(ctrl))
	if !resp.OK() {
		m.logger.Debug(op+" failed", "device", deviceID, "status", resp.Status, "error", resp.Message)
	}
	return resp
}

func (m *Manager) GetDevices() []Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	devices := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, d)
	}
	SortDevices(devices)
	return devices
}

func (m *Manager) SetDevices(devices []Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range devices {
		m.devices[d.ID] = d
	}
}

func (m *Manager) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var errs []error
	for _, c := range m.controllers {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Brand(), err))
		}
	}
	return errors.Join(errs...)
}

// SortDevices orders devices by brand, then name, then ID.
func SortDevices(devices []Device) {
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Brand != devices[j].Brand {
			return devices[i].Brand < devices[j].Brand
		}
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].ID < devices[j].ID
	})
}

func brandFromDeviceID(id string) Brand {
	parts := strings.SplitN(id, ":", 2)
	if len(parts) < 2 {
		return ""
	}
	return Brand(parts[0])
}

// addrFromDeviceID returns the part of a "brand:addr" ID after the brand.
func addrFromDeviceID(id string) string {
	parts := strings.SplitN(id, ":", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}
