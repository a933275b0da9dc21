package lights

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/openhue/openhue-go"
)

// ErrLinkButton is returned by Pair while the bridge's link button has not been pressed.
var ErrLinkButton = errors.New("link button not pressed")

type HueBridge struct {
	IP       string
	Username string
}

type HueController struct {
	mu      sync.RWMutex
	bridges map[string]*hueConnection
	logger  *slog.Logger
	// baseURL builds the API root for a bridge IP; overridden in tests.
	baseURL func(ip string) string
}

type hueConnection struct {
	bridge  HueBridge
	client  *openhue.ClientWithResponses
	devices map[string]string // device ID -> light resource ID
}

func NewHueController(logger *slog.Logger) *HueController {
	if logger == nil {
		logger = slog.Default()
	}
	return &HueController{
		bridges: make(map[string]*hueConnection),
		logger:  logger.With("component", "hue"),
		baseURL: func(ip string) string { return fmt.Sprintf("https://%s", ip) },
	}
}

// NewHueHTTPClient returns a client that accepts the bridge's self-signed certificate.
func NewHueHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
}

func (c *HueController) Brand() Brand {
	return BrandHue
}

func (c *HueController) AddBridge(ip, username string) error {
	client, err := openhue.NewClientWithResponses(
		c.baseURL(ip),
		openhue.WithHTTPClient(NewHueHTTPClient(10*time.Second)),
		openhue.WithRequestEditorFn(func(ctx context.Context, req *http.Request) error {
			req.Header.Set("hue-application-key", username)
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("create Hue client for %s: %w", ip, err)
	}

	c.mu.Lock()
	c.bridges[ip] = &hueConnection{
		bridge:  HueBridge{IP: ip, Username: username},
		client:  client,
		devices: make(map[string]string),
	}
	c.mu.Unlock()
	return nil
}

// Bridges returns the registered bridge IPs.
func (c *HueController) Bridges() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ips := make([]string, 0, len(c.bridges))
	for ip := range c.bridges {
		ips = append(ips, ip)
	}
	return ips
}

// Pair asks the bridge for an application key. The link button on the bridge
// must have been pressed shortly before.
func (c *HueController) Pair(ctx context.Context, ip, deviceType string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"devicetype":        deviceType,
		"generateclientkey": true,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL(ip)+"/api", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := NewHueHTTPClient(5 * time.Second).Do(req)
	if err != nil {
		return "", fmt.Errorf("cannot reach bridge: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read pairing response: %w", err)
	}

	var results []struct {
		Success *struct {
			Username string `json:"username"`
		} `json:"success,omitempty"`
		Error *struct {
			Type        int    `json:"type"`
			Description string `json:"description"`
		} `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &results); err != nil || len(results) == 0 {
		return "", errors.New("unexpected response from bridge")
	}
	if e := results[0].Error; e != nil {
		if e.Type == 101 {
			return "", ErrLinkButton
		}
		return "", errors.New(e.Description)
	}
	if s := results[0].Success; s != nil && s.Username != "" {
		return s.Username, nil
	}
	return "", errors.New("unexpected response from bridge")
}

func (c *HueController) Discover(ctx context.Context) ([]Device, error) {
	c.mu.RLock()
	bridges := make([]*hueConnection, 0, len(c.bridges))
	for _, b := range c.bridges {
		bridges = append(bridges, b)
	}
	c.mu.RUnlock()

	var result []Device

	for _, conn := range bridges {
		resp, err := conn.client.GetLightsWithResponse(ctx)
		if err != nil {
			c.logger.Warn("get lights", "bridge", conn.bridge.IP, "error", err)
			continue
		}
		if resp.JSON200 == nil || resp.JSON200.Data == nil {
			c.logger.Warn("bridge returned no light data", "bridge", conn.bridge.IP)
			continue
		}

		// Model and firmware live on the owning device resource (best-effort).
		type hueDeviceMeta struct {
			modelName       string
			firmwareVersion string
		}
		deviceMeta := make(map[string]hueDeviceMeta)
		if devResp, err := conn.client.GetDevicesWithResponse(ctx); err == nil &&
			devResp.JSON200 != nil && devResp.JSON200.Data != nil {
			for _, hd := range *devResp.JSON200.Data {
				if hd.Id == nil || hd.ProductData == nil {
					continue
				}
				meta := hueDeviceMeta{}
				if v := hd.ProductData.ProductName; v != nil {
					meta.modelName = *v
				} else if v := hd.ProductData.ModelId; v != nil {
					meta.modelName = *v
				}
				if v := hd.ProductData.SoftwareVersion; v != nil {
					meta.firmwareVersion = *v
				}
				deviceMeta[*hd.Id] = meta
			}
		}

		for _, l := range *resp.JSON200.Data {
			if l.Id == nil {
				continue
			}
			deviceID := fmt.Sprintf("hue:%s", *l.Id)
			name := "Hue Light"
			if l.Metadata != nil && l.Metadata.Name != nil {
				name = *l.Metadata.Name
			}

			c.mu.Lock()
			conn.devices[deviceID] = *l.Id
			c.mu.Unlock()

			// Kelvin = 1 000 000 / mirek.
			var minKelvin, maxKelvin int
			if l.ColorTemperature != nil && l.ColorTemperature.MirekSchema != nil {
				if v := l.ColorTemperature.MirekSchema.MirekMaximum; v != nil && *v > 0 {
					minKelvin = 1_000_000 / *v
				}
				if v := l.ColorTemperature.MirekSchema.MirekMinimum; v != nil && *v > 0 {
					maxKelvin = 1_000_000 / *v
				}
			}

			props := make(map[string]string)
			if l.On != nil && l.On.On != nil {
				props["power"] = onOff(*l.On.On)
			}
			if l.Dimming != nil && l.Dimming.Brightness != nil {
				props["bright"] = fmt.Sprintf("%.0f", float64(*l.Dimming.Brightness))
			}

			var modelName, firmwareVersion string
			if l.Owner != nil && l.Owner.Rid != nil {
				if meta, ok := deviceMeta[*l.Owner.Rid]; ok {
					modelName = meta.modelName
					firmwareVersion = meta.firmwareVersion
				}
			}

			result = append(result, Device{
				ID:              deviceID,
				Brand:           BrandHue,
				Name:            name,
				Model:           modelName,
				LastIP:          conn.bridge.IP,
				LastSeen:        time.Now(),
				SupportsColor:   l.Color != nil,
				SupportsKelvin:  l.ColorTemperature != nil,
				MinKelvin:       minKelvin,
				MaxKelvin:       maxKelvin,
				FirmwareVersion: firmwareVersion,
				Props:           props,
			})
		}
		c.logger.Debug("bridge queried", "bridge", conn.bridge.IP, "lights", len(result))
	}

	return result, nil
}

func (c *HueController) findDevice(deviceID string) (*hueConnection, string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, conn := range c.bridges {
		if lightID, ok := conn.devices[deviceID]; ok {
			return conn, lightID, true
		}
	}
	return nil, "", false
}

func (c *HueController) SetPower(ctx context.Context, deviceID string, on bool, _ PowerMode) error {
	return c.update(ctx, deviceID, openhue.UpdateLightJSONRequestBody{
		On: &openhue.On{On: &on},
	})
}

func (c *HueController) SetColorTemperature(ctx context.Context, deviceID string, kelvin int) error {
	mirek := kelvinToMirek(kelvin)
	return c.update(ctx, deviceID, openhue.UpdateLightJSONRequestBody{
		ColorTemperature: &openhue.ColorTemperature{Mirek: &mirek},
	})
}

func (c *HueController) SetRGB(ctx context.Context, deviceID string, color RGB) error {
	xy := rgbToXY(color)
	x := float32(xy[0])
	y := float32(xy[1])
	return c.update(ctx, deviceID, openhue.UpdateLightJSONRequestBody{
		Color: &openhue.Color{Xy: &openhue.GamutPosition{X: &x, Y: &y}},
	})
}

func (c *HueController) SetBrightness(ctx context.Context, deviceID string, percent int) error {
	brightness := openhue.Brightness(clamp(percent, 0, 100))
	return c.update(ctx, deviceID, openhue.UpdateLightJSONRequestBody{
		Dimming: &openhue.Dimming{Brightness: &brightness},
	})
}

func (c *HueController) update(ctx context.Context, deviceID string, body openhue.UpdateLightJSONRequestBody) error {
	conn, lightID, ok := c.findDevice(deviceID)
	if !ok {
		return fmt.Errorf("%w: %s not connected", ErrNotFound, deviceID)
	}

	resp, err := conn.client.UpdateLightWithResponse(ctx, lightID, body)
	if err != nil {
		return fmt.Errorf("%w: update %s: %v", ErrUnavailable, deviceID, err)
	}
	if resp.HTTPResponse != nil && resp.HTTPResponse.StatusCode != http.StatusOK {
		return httpStatusError(resp.HTTPResponse.StatusCode)
	}
	return nil
}

func (c *HueController) Close() error {
	return nil
}

func kelvinToMirek(kelvin int) int {
	return 1_000_000 / clamp(kelvin, 2000, 6535)
}

// rgbToXY converts sRGB to CIE xy using the wide-gamut D65 matrix.
func rgbToXY(color RGB) [2]float64 {
	rf := gammaCorrect(float64(color.R) / 255.0)
	gf := gammaCorrect(float64(color.G) / 255.0)
	bf := gammaCorrect(float64(color.B) / 255.0)

	x := rf*0.664511 + gf*0.154324 + bf*0.162028
	y := rf*0.283881 + gf*0.668433 + bf*0.047685
	z := rf*0.000088 + gf*0.072310 + bf*0.986039

	sum := x + y + z
	if sum == 0 {
		return [2]float64{0.3127, 0.3290}
	}
	return [2]float64{x / sum, y / sum}
}

func gammaCorrect(v float64) float64 {
	if v > 0.04045 {
		return math.Pow((v+0.055)/1.055, 2.4)
	}
	return v / 12.92
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
