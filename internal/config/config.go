// Package config loads the yee YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

var knownBrands = []string{"yeelight", "lifx", "hue", "elgato", "govee"}

type Config struct {
	Discovery DiscoveryConfig `yaml:"discovery"`
	Retry     RetryConfig     `yaml:"retry"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Power     PowerConfig     `yaml:"power"`
	Log       LogConfig       `yaml:"log"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	// StateFile overrides where devices, presets and pairings are kept.
	StateFile string `yaml:"state_file"`
}

type DiscoveryConfig struct {
	// ExpectedDevices of 0 means the count remembered from the last scan.
	ExpectedDevices int           `yaml:"expected_devices"`
	Timeout         time.Duration `yaml:"timeout"`
	Retries         int           `yaml:"retries"`
	ScanInterval    time.Duration `yaml:"scan_interval"`
	// SearchTimeout bounds each brand's discovery within a scan round.
	SearchTimeout     time.Duration     `yaml:"search_timeout"`
	Brands            []string          `yaml:"brands"`
	YeelightAddresses []string          `yaml:"yeelight_addresses"`
	ElgatoAddresses   []string          `yaml:"elgato_addresses"`
	ElgatoMDNS        bool              `yaml:"elgato_mdns"`
	ProbeSubnets      bool              `yaml:"probe_subnets"`
	HueBridges        []HueBridgeConfig `yaml:"hue_bridges"`
}

type HueBridgeConfig struct {
	IP       string `yaml:"ip"`
	Username string `yaml:"username"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Multiplier  float64       `yaml:"multiplier"`
}

type DispatchConfig struct {
	Concurrency int `yaml:"concurrency"`
}

type PowerConfig struct {
	Mode     string        `yaml:"mode"`
	Duration time.Duration `yaml:"duration"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos"`
	Retained bool   `yaml:"retained"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Discovery: DiscoveryConfig{
			Timeout:       5 * time.Second,
			Retries:       2,
			ScanInterval:  time.Second,
			SearchTimeout: 2 * time.Second,
			Brands:        slices.Clone(knownBrands),
			ElgatoMDNS:    true,
		},
		Retry: RetryConfig{
			MaxAttempts: 10,
			Delay:       time.Second,
			MaxDelay:    5 * time.Second,
			Multiplier:  1.0,
		},
		Power: PowerConfig{
			Mode:     "smooth",
			Duration: 500 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		MQTT: MQTTConfig{
			Topic:    "yee/report",
			ClientID: "yee",
			QoS:      1,
		},
	}
}

// Load reads path over the defaults, expanding ${VAR} references first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults fills values that an explicit empty entry would zero.
func (c *Config) setDefaults() {
	if c.Discovery.Timeout == 0 {
		c.Discovery.Timeout = 5 * time.Second
	}
	if c.Discovery.ScanInterval == 0 {
		c.Discovery.ScanInterval = time.Second
	}
	if c.Discovery.SearchTimeout == 0 {
		c.Discovery.SearchTimeout = 2 * time.Second
	}
	if len(c.Discovery.Brands) == 0 {
		c.Discovery.Brands = slices.Clone(knownBrands)
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 1.0
	}
	if c.Power.Mode == "" {
		c.Power.Mode = "smooth"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "yee/report"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "yee"
	}
}

func (c *Config) Validate() error {
	var errs []string

	if c.Discovery.ExpectedDevices < 0 {
		errs = append(errs, "discovery.expected_devices must not be negative")
	}
	if c.Discovery.Timeout <= 0 {
		errs = append(errs, "discovery.timeout must be positive")
	}
	if c.Discovery.Retries < 0 {
		errs = append(errs, "discovery.retries must not be negative")
	}
	for _, b := range c.Discovery.Brands {
		if !slices.Contains(knownBrands, strings.ToLower(b)) {
			errs = append(errs, fmt.Sprintf("discovery.brands: unknown brand %q", b))
		}
	}
	for i, b := range c.Discovery.HueBridges {
		if b.IP == "" || b.Username == "" {
			errs = append(errs, fmt.Sprintf("discovery.hue_bridges[%d] needs ip and username", i))
		}
	}

	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, "retry.max_attempts must not be negative (0 retries forever)")
	}
	if c.Retry.Delay < 0 || c.Retry.MaxDelay < 0 {
		errs = append(errs, "retry delays must not be negative")
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, "retry.multiplier must be at least 1")
	}

	if c.Dispatch.Concurrency < 0 {
		errs = append(errs, "dispatch.concurrency must not be negative")
	}

	switch c.Power.Mode {
	case "smooth", "sudden":
	default:
		errs = append(errs, fmt.Sprintf("power.mode must be smooth or sudden, got %q", c.Power.Mode))
	}
	if c.Power.Mode == "smooth" && c.Power.Duration < 30*time.Millisecond {
		errs = append(errs, "power.duration must be at least 30ms for smooth transitions")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not text or json", c.Log.Format))
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// HasBrand reports whether discovery is enabled for brand.
func (c *Config) HasBrand(brand string) bool {
	for _, b := range c.Discovery.Brands {
		if strings.EqualFold(b, brand) {
			return true
		}
	}
	return false
}
