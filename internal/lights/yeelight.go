package lights

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	yeelightSearchAddr = "239.255.255.250:1982"
	yeelightMinKelvin  = 1700
	yeelightMaxKelvin  = 6500
)

type YeelightConfig struct {
	// SearchAddr is where M-SEARCH requests are sent. Defaults to the
	// Yeelight multicast group.
	SearchAddr    string
	SearchTimeout time.Duration
	DialTimeout   time.Duration
	// ReplyTimeout bounds one request and its reply on an open connection.
	ReplyTimeout time.Duration
	// Effect is applied to colour and brightness changes.
	Effect PowerMode
}

type YeelightController struct {
	cfg    YeelightConfig
	logger *slog.Logger
	nextID atomic.Int64

	mu      sync.RWMutex
	devices map[string]Device
}

func NewYeelightController(cfg YeelightConfig, logger *slog.Logger) *YeelightController {
	if cfg.SearchAddr == "" {
		cfg.SearchAddr = yeelightSearchAddr
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 2 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &YeelightController{
		cfg:     cfg,
		logger:  logger.With("component", "yeelight"),
		devices: make(map[string]Device),
	}
}

func (c *YeelightController) Brand() Brand {
	return BrandYeelight
}

// AddDevice registers a bulb at a static host:port without discovery.
func (c *YeelightController) AddDevice(addr string) string {
	deviceID := fmt.Sprintf("yeelight:%s", addr)
	host, _, _ := net.SplitHostPort(addr)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.devices[deviceID]; !ok {
		c.devices[deviceID] = Device{
			ID:             deviceID,
			Brand:          BrandYeelight,
			Name:           fmt.Sprintf("Yeelight %s", addr),
			LastIP:         host,
			LastSeen:       time.Now(),
			SupportsColor:  true,
			SupportsKelvin: true,
			MinKelvin:      yeelightMinKelvin,
			MaxKelvin:      yeelightMaxKelvin,
		}
	}
	return deviceID
}

// Discover sends an SSDP M-SEARCH for "wifi_bulb" and collects the replies
// until the search timeout or ctx expires.
func (c *YeelightController) Discover(ctx context.Context) ([]Device, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("open search socket: %w", err)
	}
	defer conn.Close()

	dst, err := net.ResolveUDPAddr("udp4", c.cfg.SearchAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", c.cfg.SearchAddr, err)
	}

	msg := "M-SEARCH * HTTP/1.1\r\n" +
		"HOST: " + yeelightSearchAddr + "\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"ST: wifi_bulb\r\n" +
		"\r\n"
	if _, err := conn.WriteTo([]byte(msg), dst); err != nil {
		return nil, fmt.Errorf("send M-SEARCH: %w", err)
	}

	deadline := time.Now().Add(c.cfg.SearchTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	seen := make(map[string]bool)
	var result []Device
	buf := make([]byte, 4096)
	for ctx.Err() == nil {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				break
			}
			return result, fmt.Errorf("read search reply: %w", err)
		}
		d, ok := parseYeelightReply(string(buf[:n]))
		if !ok || seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		result = append(result, d)
	}

	c.mu.Lock()
	for _, d := range result {
		c.devices[d.ID] = d
	}
	c.mu.Unlock()

	c.logger.Debug("search complete", "found", len(result))
	return result, nil
}

// parseYeelightReply turns an SSDP search reply into a Device.
func parseYeelightReply(reply string) (Device, bool) {
	headers := make(map[string]string)
	for _, line := range strings.Split(reply, "\r\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}

	loc, err := url.Parse(headers["location"])
	if err != nil || loc.Scheme != "yeelight" || loc.Host == "" {
		return Device{}, false
	}

	props := make(map[string]string)
	for _, k := range []string{"id", "power", "bright", "color_mode", "ct", "rgb", "hue", "sat", "support"} {
		if v, ok := headers[k]; ok {
			props[k] = v
		}
	}

	model := headers["model"]
	name := headers["name"]
	if name == "" {
		name = strings.TrimSpace(fmt.Sprintf("Yeelight %s %s", model, loc.Hostname()))
	}
	support := " " + headers["support"] + " "

	return Device{
		ID:              fmt.Sprintf("yeelight:%s", loc.Host),
		Brand:           BrandYeelight,
		Name:            name,
		Model:           model,
		LastIP:          loc.Hostname(),
		LastSeen:        time.Now(),
		SupportsColor:   strings.Contains(support, " set_rgb "),
		SupportsKelvin:  strings.Contains(support, " set_ct_abx "),
		MinKelvin:       yeelightMinKelvin,
		MaxKelvin:       yeelightMaxKelvin,
		FirmwareVersion: headers["fw_ver"],
		Props:           props,
	}, true
}

func (c *YeelightController) SetPower(ctx context.Context, deviceID string, on bool, mode PowerMode) error {
	state := "off"
	if on {
		state = "on"
	}
	return c.call(ctx, deviceID, "set_power", append([]any{state}, effectParams(mode)...))
}

func (c *YeelightController) SetColorTemperature(ctx context.Context, deviceID string, kelvin int) error {
	kelvin = clamp(kelvin, yeelightMinKelvin, yeelightMaxKelvin)
	return c.call(ctx, deviceID, "set_ct_abx", append([]any{kelvin}, effectParams(c.cfg.Effect)...))
}

func (c *YeelightController) SetRGB(ctx context.Context, deviceID string, color RGB) error {
	return c.call(ctx, deviceID, "set_rgb", append([]any{color.Int()}, effectParams(c.cfg.Effect)...))
}

func (c *YeelightController) SetBrightness(ctx context.Context, deviceID string, percent int) error {
	percent = clamp(percent, 1, 100)
	return c.call(ctx, deviceID, "set_bright", append([]any{percent}, effectParams(c.cfg.Effect)...))
}

func (c *YeelightController) Close() error {
	return nil
}

// effectParams renders the trailing [effect, duration] pair. Yeelight
// rejects smooth durations below 30ms.
func effectParams(mode PowerMode) []any {
	if !mode.Smooth {
		return []any{"sudden", 0}
	}
	ms := mode.transition().Milliseconds()
	if ms < 30 {
		ms = 30
	}
	return []any{"smooth", ms}
}

type yeelightRequest struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

type yeelightReply struct {
	ID     int64            `json:"id"`
	Method string           `json:"method,omitempty"`
	Result []any            `json:"result,omitempty"`
	Error  *yeelightFailure `json:"error,omitempty"`
}

type yeelightFailure struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (f *yeelightFailure) err() error {
	msg := strings.ToLower(f.Message)
	switch {
	case strings.Contains(msg, "quota"), strings.Contains(msg, "busy"):
		return fmt.Errorf("%w: %s", ErrUnavailable, f.Message)
	case strings.Contains(msg, "not supported"):
		return fmt.Errorf("%w: %s", ErrUnsupported, f.Message)
	}
	return errors.New(f.Message)
}

// call sends one request over a fresh TCP connection and waits for the reply
// carrying the same id. Property notifications pushed by the bulb are skipped.
func (c *YeelightController) call(ctx context.Context, deviceID, method string, params []any) error {
	addr, err := c.addr(deviceID)
	if err != nil {
		return err
	}

	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Bulbs refuse connections beyond their connection quota.
		return fmt.Errorf("%w: dial %s: %v", ErrUnavailable, addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.cfg.ReplyTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	req := yeelightRequest{ID: c.nextID.Add(1), Method: method, Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	if _, err := conn.Write(append(payload, '\r', '\n')); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrUnavailable, addr, err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var reply yeelightReply
		if err := json.Unmarshal(scanner.Bytes(), &reply); err != nil {
			c.logger.Debug("ignoring malformed line", "device", deviceID, "error", err)
			continue
		}
		if reply.ID != req.ID {
			continue
		}
		if reply.Error != nil {
			return reply.Error.err()
		}
		c.logger.Debug("command applied", "device", deviceID, "method", method)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrUnavailable, addr, err)
	}
	return fmt.Errorf("%w: %s closed the connection", ErrUnavailable, addr)
}

func (c *YeelightController) addr(deviceID string) (string, error) {
	c.mu.RLock()
	_, ok := c.devices[deviceID]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s, run discovery first", ErrNotFound, deviceID)
	}
	return addrFromDeviceID(deviceID), nil
}
