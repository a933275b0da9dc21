package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amimof/huego"

	"yee/internal/lights"
)

const ssdpAddr = "239.255.255.250:1900"

type DiscoveredHueBridge struct {
	IP   string `json:"ip"`
	Name string `json:"name"`
}

// HueFinder locates unpaired Hue bridges by SSDP and the meethue N-UPnP
// service, falling back to a subnet probe.
type HueFinder struct {
	SSDPAddr     string
	SSDPWindow   time.Duration
	ProbeSubnets bool
	// Cloud defaults to huego.DiscoverAllContext.
	Cloud func(ctx context.Context) ([]huego.Bridge, error)

	logger *slog.Logger
}

func NewHueFinder(probeSubnets bool, logger *slog.Logger) *HueFinder {
	if logger == nil {
		logger = slog.Default()
	}
	return &HueFinder{
		SSDPAddr:     ssdpAddr,
		SSDPWindow:   3 * time.Second,
		ProbeSubnets: probeSubnets,
		Cloud:        huego.DiscoverAllContext,
		logger:       logger.With("component", "discovery"),
	}
}

// Find returns the bridges seen, ordered by IP.
func (f *HueFinder) Find(ctx context.Context) []DiscoveredHueBridge {
	var mu sync.Mutex
	seen := make(map[string]DiscoveredHueBridge)
	add := func(ip, name string) {
		mu.Lock()
		defer mu.Unlock()
		if _, ok := seen[ip]; !ok {
			seen[ip] = DiscoveredHueBridge{IP: ip, Name: name}
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := f.viaSSDP(ctx, add); err != nil {
			f.logger.Warn("SSDP Hue search failed", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		f.viaCloud(ctx, add)
	}()
	wg.Wait()

	if len(seen) == 0 && f.ProbeSubnets {
		f.logger.Info("SSDP and N-UPnP found no Hue bridge, probing subnets")
		client := lights.NewHueHTTPClient(time.Second)
		sweep(ctx, localSubnets(), 80, func(ip string) {
			if probeWith(ctx, client, fmt.Sprintf("https://%s/api/0/config", ip), hasBridgeID) {
				add(ip, "Hue Bridge")
			}
		})
	}

	bridges := make([]DiscoveredHueBridge, 0, len(seen))
	for _, b := range seen {
		bridges = append(bridges, b)
	}
	sort.Slice(bridges, func(i, j int) bool { return bridges[i].IP < bridges[j].IP })
	return bridges
}

func (f *HueFinder) viaCloud(ctx context.Context, add func(ip, name string)) {
	if f.Cloud == nil {
		return
	}
	found, err := f.Cloud(ctx)
	if err != nil {
		f.logger.Debug("N-UPnP Hue lookup failed", "error", err)
		return
	}
	for _, b := range found {
		if b.Host == "" {
			continue
		}
		name := "Hue Bridge"
		if len(b.ID) >= 6 {
			name = "Hue Bridge (" + b.ID[len(b.ID)-6:] + ")"
		}
		add(b.Host, name)
	}
}

func (f *HueFinder) viaSSDP(ctx context.Context, add func(ip, name string)) error {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return fmt.Errorf("open UDP socket: %w", err)
	}
	defer conn.Close()

	dst, err := net.ResolveUDPAddr("udp4", f.SSDPAddr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", f.SSDPAddr, err)
	}

	for _, st := range []string{"ssdp:all", "urn:schemas-upnp-org:device:Basic:1", "upnp:rootdevice"} {
		msg := "M-SEARCH * HTTP/1.1\r\n" +
			"HOST: " + ssdpAddr + "\r\n" +
			"MAN: \"ssdp:discover\"\r\n" +
			"ST: " + st + "\r\n" +
			"MX: 3\r\n" +
			"\r\n"
		if _, err := conn.WriteTo([]byte(msg), dst); err != nil {
			return fmt.Errorf("send M-SEARCH: %w", err)
		}
	}

	deadline := time.Now().Add(f.SSDPWindow)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()
	_ = conn.SetReadDeadline(deadline)

	buf := make([]byte, 4096)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil
			}
			return err
		}
		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok || !isHueResponse(string(buf[:n])) {
			continue
		}
		add(udpAddr.IP.String(), "Hue Bridge")
	}
}

func isHueResponse(resp string) bool {
	upper := strings.ToUpper(resp)
	return strings.Contains(upper, "IPBRIDGE") ||
		strings.Contains(upper, "PHILIPS") ||
		strings.Contains(upper, "HUE-BRIDGEID")
}
