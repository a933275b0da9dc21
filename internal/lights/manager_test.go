package lights

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockController struct {
	mock.Mock
	brand Brand
}

func (m *mockController) Brand() Brand { return m.brand }

func (m *mockController) Discover(ctx context.Context) ([]Device, error) {
	args := m.Called(ctx)
	devices, _ := args.Get(0).([]Device)
	return devices, args.Error(1)
}

func (m *mockController) SetPower(ctx context.Context, deviceID string, on bool, mode PowerMode) error {
	return m.Called(ctx, deviceID, on, mode).Error(0)
}

func (m *mockController) SetColorTemperature(ctx context.Context, deviceID string, kelvin int) error {
	return m.Called(ctx, deviceID, kelvin).Error(0)
}

func (m *mockController) SetRGB(ctx context.Context, deviceID string, color RGB) error {
	return m.Called(ctx, deviceID, color).Error(0)
}

func (m *mockController) SetBrightness(ctx context.Context, deviceID string, percent int) error {
	return m.Called(ctx, deviceID, percent).Error(0)
}

func (m *mockController) Close() error {
	return m.Called().Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManager_RoutesByBrandPrefix(t *testing.T) {
	yee := &mockController{brand: BrandYeelight}
	lifx := &mockController{brand: BrandLIFX}
	yee.On("SetBrightness", mock.Anything, "yeelight:10.0.0.2:55443", 40).Return(nil)
	lifx.On("SetRGB", mock.Anything, "lifx:10.0.0.3:56700", RGB{R: 1}).Return(nil)

	m := NewManager(testLogger())
	m.RegisterController(yee)
	m.RegisterController(lifx)

	resp := m.SetBrightness(context.Background(), "yeelight:10.0.0.2:55443", 40)
	assert.Equal(t, Response{DeviceID: "yeelight:10.0.0.2:55443", Status: StatusOK}, resp)

	resp = m.SetRGB(context.Background(), "lifx:10.0.0.3:56700", RGB{R: 1})
	assert.True(t, resp.OK())

	yee.AssertExpectations(t)
	lifx.AssertExpectations(t)
}

func TestManager_MapsControllerErrors(t *testing.T) {
	yee := &mockController{brand: BrandYeelight}
	yee.On("SetPower", mock.Anything, "yeelight:a", true, Smooth).
		Return(fmt.Errorf("%w: client quota exceeded", ErrUnavailable))
	yee.On("SetColorTemperature", mock.Anything, "yeelight:a", 2700).
		Return(errors.New("overheat"))

	m := NewManager(testLogger())
	m.RegisterController(yee)

	resp := m.SetPower(context.Background(), "yeelight:a", true, Smooth)
	assert.Equal(t, StatusUnavailable, resp.Status)

	resp = m.SetColorTemperature(context.Background(), "yeelight:a", 2700)
	assert.Equal(t, StatusFailed, resp.Status)
	assert.Equal(t, "overheat", resp.Message)
}

func TestManager_UnknownBrand(t *testing.T) {
	m := NewManager(testLogger())

	resp := m.SetPower(context.Background(), "nanoleaf:1", true, Sudden)
	assert.Equal(t, StatusNotFound, resp.Status)
	assert.Contains(t, resp.Message, "nanoleaf")

	resp = m.SetPower(context.Background(), "no-prefix", true, Sudden)
	assert.Equal(t, StatusNotFound, resp.Status)
}

func TestManager_DiscoverAllWithProgress(t *testing.T) {
	yee := &mockController{brand: BrandYeelight}
	hue := &mockController{brand: BrandHue}
	govee := &mockController{brand: BrandGovee}
	yee.On("Discover", mock.Anything).Return([]Device{
		{ID: "yeelight:b", Brand: BrandYeelight, Name: "B"},
		{ID: "yeelight:a", Brand: BrandYeelight, Name: "A"},
	}, nil)
	hue.On("Discover", mock.Anything).Return([]Device{{ID: "hue:1", Brand: BrandHue, Name: "Hall"}}, nil)
	govee.On("Discover", mock.Anything).Return(nil, errors.New("socket closed"))

	m := NewManager(testLogger())
	m.RegisterController(yee)
	m.RegisterController(hue)
	m.RegisterController(govee)

	var mu sync.Mutex
	var batches [][]Device
	devices, err := m.DiscoverAllWithProgress(context.Background(), func(ds []Device) {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, ds)
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"hue:1", "yeelight:a", "yeelight:b"}, ids)
	assert.Len(t, batches, 2)
	assert.Len(t, m.GetDevices(), 3)
}

func TestManager_DiscoverAllFailsWhenNothingFound(t *testing.T) {
	yee := &mockController{brand: BrandYeelight}
	yee.On("Discover", mock.Anything).Return(nil, errors.New("no route"))

	m := NewManager(testLogger())
	m.RegisterController(yee)

	_, err := m.DiscoverAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no route")
}

func TestManager_CloseJoinsErrors(t *testing.T) {
	yee := &mockController{brand: BrandYeelight}
	lifx := &mockController{brand: BrandLIFX}
	yee.On("Close").Return(nil)
	lifx.On("Close").Return(errors.New("busy"))

	m := NewManager(testLogger())
	m.RegisterController(yee)
	m.RegisterController(lifx)

	err := m.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lifx: busy")
}
