package lights

import (
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
	"time"
)

type Brand string

const (
	BrandYeelight Brand = "yeelight"
	BrandLIFX     Brand = "lifx"
	BrandHue      Brand = "hue"
	BrandElgato   Brand = "elgato"
	BrandGovee    Brand = "govee"
)

// Brands lists every brand a Manager knows how to build a controller for.
var Brands = []Brand{BrandYeelight, BrandLIFX, BrandHue, BrandElgato, BrandGovee}

const DefaultKelvin = 4000

type Device struct {
	ID             string    `json:"id"`
	Brand          Brand     `json:"brand"`
	Name           string    `json:"name"`
	Model          string    `json:"model,omitempty"`
	LastIP         string    `json:"lastIp"`
	LastSeen       time.Time `json:"lastSeen"`
	SupportsColor  bool      `json:"supportsColor"`
	SupportsKelvin bool      `json:"supportsKelvin"`
	// MinKelvin/MaxKelvin are the device's supported colour-temperature range in Kelvin.
	// Zero means the range is not known.
	MinKelvin       int    `json:"minKelvin,omitempty"`
	MaxKelvin       int    `json:"maxKelvin,omitempty"`
	FirmwareVersion string `json:"firmwareVersion,omitempty"`
	// Props holds the named capability values last reported by the device
	// (power, bright, ct, rgb, ...).
	Props map[string]string `json:"props,omitempty"`
}

// Clone returns a copy of d that shares no map with it.
func (d Device) Clone() Device {
	d.Props = maps.Clone(d.Props)
	return d
}

// Prop returns a capability value, or "" when the device did not report it.
func (d Device) Prop(name string) string {
	if d.Props == nil {
		return ""
	}
	return d.Props[name]
}

// PowerMode selects how a power change is applied.
type PowerMode struct {
	Smooth   bool
	Duration time.Duration
}

var (
	Sudden = PowerMode{}
	Smooth = PowerMode{Smooth: true, Duration: 500 * time.Millisecond}
)

// ParsePowerMode accepts "smooth" or "sudden".
func ParsePowerMode(s string, d time.Duration) (PowerMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "smooth":
		if d <= 0 {
			d = Smooth.Duration
		}
		return PowerMode{Smooth: true, Duration: d}, nil
	case "sudden":
		return Sudden, nil
	default:
		return PowerMode{}, fmt.Errorf("unknown power mode %q (want smooth or sudden)", s)
	}
}

func (m PowerMode) String() string {
	if m.Smooth {
		return "smooth"
	}
	return "sudden"
}

// transition returns the fade duration to send to devices that support one.
func (m PowerMode) transition() time.Duration {
	if !m.Smooth {
		return 0
	}
	if m.Duration <= 0 {
		return Smooth.Duration
	}
	return m.Duration
}

type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// ParseRGB parses "rrggbb", "#rrggbb" or "0xrrggbb".
func ParseRGB(s string) (RGB, error) {
	hex := strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "#"), "0x")
	if len(hex) != 6 {
		return RGB{}, fmt.Errorf("invalid color %q: want 6 hex digits", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return RGBFromInt(int(v)), nil
}

// RGBFromInt unpacks the 0xRRGGBB integer form used by Yeelight.
func RGBFromInt(v int) RGB {
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}
}

func (c RGB) Int() int {
	return int(c.R)<<16 | int(c.G)<<8 | int(c.B)
}

func (c RGB) String() string {
	return fmt.Sprintf("%02x%02x%02x", c.R, c.G, c.B)
}

// HSB converts to hue in degrees and saturation/brightness in [0,1].
func (c RGB) HSB() (h, s, b float64) {
	r := float64(c.R) / 255
	g := float64(c.G) / 255
	bl := float64(c.B) / 255

	hi := math.Max(r, math.Max(g, bl))
	lo := math.Min(r, math.Min(g, bl))
	delta := hi - lo

	b = hi
	if hi > 0 {
		s = delta / hi
	}
	if delta == 0 {
		return 0, s, b
	}

	switch hi {
	case r:
		h = 60 * math.Mod((g-bl)/delta, 6)
	case g:
		h = 60 * ((bl-r)/delta + 2)
	default:
		h = 60 * ((r-g)/delta + 4)
	}
	if h < 0 {
		h += 360
	}
	return h, s, b
}

func HSBToRGB(h, s, b float64) (r, g, bl uint8) {
	if s == 0 {
		v := uint8(b * 255)
		return v, v, v
	}

	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	hh := h / 60.0
	i := int(hh)
	ff := hh - float64(i)
	p := b * (1.0 - s)
	q := b * (1.0 - s*ff)
	t := b * (1.0 - s*(1.0-ff))

	var rr, gg, bb float64
	switch i {
	case 0:
		rr, gg, bb = b, t, p
	case 1:
		rr, gg, bb = q, b, p
	case 2:
		rr, gg, bb = p, b, t
	case 3:
		rr, gg, bb = p, q, b
	case 4:
		rr, gg, bb = t, p, b
	default:
		rr, gg, bb = b, p, q
	}

	return uint8(math.Round(rr * 255)), uint8(math.Round(gg * 255)), uint8(math.Round(bb * 255))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
