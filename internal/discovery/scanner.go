// Package discovery finds lights on the LAN and feeds them into a
// directory.Directory.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/mdns"

	"yee/internal/directory"
	"yee/internal/lights"
)

// DeviceSource discovers devices across all registered brands, reporting each
// brand's batch as it completes. lights.Manager implements it.
type DeviceSource interface {
	DiscoverAllWithProgress(ctx context.Context, onDevices func([]lights.Device)) ([]lights.Device, error)
}

// AddressRegistrar accepts statically addressed devices found out of band.
type AddressRegistrar interface {
	AddDevice(host string) string
}

type Options struct {
	// ElgatoMDNS browses _elg._tcp before the first round.
	ElgatoMDNS  bool
	MDNSTimeout time.Duration
	// ProbeSubnets sweeps local /24s when mDNS or SSDP find nothing.
	ProbeSubnets bool
}

type Scanner struct {
	source DeviceSource
	elgato AddressRegistrar
	dir    *directory.Directory
	opts   Options
	logger *slog.Logger

	prepare sync.Once

	mu   sync.Mutex
	last []lights.Device
}

// NewScanner wires a device source to a directory. elgato may be nil.
func NewScanner(source DeviceSource, elgato AddressRegistrar, dir *directory.Directory, opts Options, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MDNSTimeout <= 0 {
		opts.MDNSTimeout = 3 * time.Second
	}
	return &Scanner{
		source: source,
		elgato: elgato,
		dir:    dir,
		opts:   opts,
		logger: logger.With("component", "discovery"),
	}
}

type DiscoveryResult struct {
	Devices []lights.Device `json:"devices"`
	Errors  []string        `json:"errors,omitempty"`
}

// Run scans repeatedly, interval apart, until ctx ends. It always returns
// ctx's error.
func (s *Scanner) Run(ctx context.Context, interval time.Duration) error {
	s.logger.Debug("scanner started", "interval", interval)
	for {
		s.Round(ctx)

		select {
		case <-ctx.Done():
			s.logger.Debug("scanner stopped")
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Round performs one full scan. Every brand batch publishes the devices
// gathered so far in this round; the complete result is published last, so
// devices that disappeared since the previous round drop out.
func (s *Scanner) Round(ctx context.Context) DiscoveryResult {
	s.prepare.Do(func() { s.discoverAddresses(ctx) })

	var (
		mu      sync.Mutex
		partial []lights.Device
	)
	devices, err := s.source.DiscoverAllWithProgress(ctx, func(batch []lights.Device) {
		mu.Lock()
		defer mu.Unlock()
		partial = append(partial, batch...)
		snap := append([]lights.Device(nil), partial...)
		lights.SortDevices(snap)
		s.dir.Publish(snap)
	})

	result := DiscoveryResult{Devices: devices}
	if err != nil {
		s.logger.Warn("scan round failed", "error", err)
		result.Errors = append(result.Errors, err.Error())
	}
	if ctx.Err() != nil {
		return result
	}

	s.dir.Publish(devices)
	s.mu.Lock()
	s.last = devices
	s.mu.Unlock()
	s.logger.Debug("scan round complete", "devices", len(devices))
	return result
}

// Last returns the devices of the most recent completed round.
func (s *Scanner) Last() []lights.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]lights.Device(nil), s.last...)
}

func (s *Scanner) discoverAddresses(ctx context.Context) {
	if s.elgato == nil {
		return
	}
	found := 0
	if s.opts.ElgatoMDNS {
		found = s.discoverElgatoViaMDNS(ctx)
		s.logger.Debug("mDNS Elgato lookup finished", "found", found)
	}
	if found == 0 && s.opts.ProbeSubnets {
		s.discoverElgatoViaProbe(ctx)
	}
}

func (s *Scanner) discoverElgatoViaMDNS(ctx context.Context) int {
	entries := make(chan *mdns.ServiceEntry, 10)
	found := 0

	go func() {
		params := &mdns.QueryParam{
			Service:             "_elg._tcp",
			Domain:              "local",
			Timeout:             s.opts.MDNSTimeout,
			Entries:             entries,
			DisableIPv6:         true,
			WantUnicastResponse: true,
		}
		if err := mdns.Query(params); err != nil {
			s.logger.Warn("mDNS Elgato query failed", "error", err)
		}
		close(entries)
	}()

	for entry := range entries {
		if ctx.Err() != nil {
			// Drain so the query goroutine can finish.
			continue
		}
		if entry.AddrV4 == nil {
			continue
		}
		s.logger.Debug("mDNS entry", "name", entry.Name, "addr", entry.AddrV4, "port", entry.Port)
		s.elgato.AddDevice(entry.AddrV4.String())
		found++
	}
	return found
}

func (s *Scanner) discoverElgatoViaProbe(ctx context.Context) int {
	var mu sync.Mutex
	found := 0
	sweep(ctx, localSubnets(), 50, func(ip string) {
		if !probeHTTP(ctx, fmt.Sprintf("http://%s:%d/elgato/accessory-info", ip, elgatoPort), nil) {
			return
		}
		s.logger.Info("found Elgato light by probe", "addr", ip)
		s.elgato.AddDevice(ip)
		mu.Lock()
		found++
		mu.Unlock()
	})
	return found
}
