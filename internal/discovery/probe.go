package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

const elgatoPort = 9123

// localSubnets returns the /24 prefixes ("a.b.c") of every up, non-loopback
// IPv4 interface whose network is at least that large.
func localSubnets() []string {
	var subnets []string
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if prefix, ok := subnetPrefix(addr); ok {
				subnets = append(subnets, prefix)
			}
		}
	}
	return subnets
}

func subnetPrefix(addr net.Addr) (string, bool) {
	ipNet, ok := addr.(*net.IPNet)
	if !ok {
		return "", false
	}
	ip := ipNet.IP.To4()
	if ip == nil {
		return "", false
	}
	ones, bits := ipNet.Mask.Size()
	if ones == 0 || bits == 0 || ones > 24 {
		return "", false
	}
	return fmt.Sprintf("%d.%d.%d", ip[0], ip[1], ip[2]), true
}

func expandSubnet(prefix string) []string {
	ips := make([]string, 0, 254)
	for i := 1; i <= 254; i++ {
		ips = append(ips, fmt.Sprintf("%s.%d", prefix, i))
	}
	return ips
}

// sweep calls probe for every host of every subnet with at most limit
// probes in flight.
func sweep(ctx context.Context, subnets []string, limit int, probe func(ip string)) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, limit)
	for _, subnet := range subnets {
		for _, ip := range expandSubnet(subnet) {
			if ctx.Err() != nil {
				break
			}
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				probe(ip)
			}()
		}
	}
	wg.Wait()
}

// probeHTTP reports whether url answers 200. When check is set, the body must
// also satisfy it.
func probeHTTP(ctx context.Context, url string, check func([]byte) bool) bool {
	return probeWith(ctx, &http.Client{Timeout: 800 * time.Millisecond}, url, check)
}

func probeWith(ctx context.Context, client *http.Client, url string, check func([]byte) bool) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if check == nil {
		return true
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return false
	}
	return check(body)
}

// hasBridgeID matches the Hue bridge /api/config document.
func hasBridgeID(body []byte) bool {
	var config struct {
		BridgeID string `json:"bridgeid"`
	}
	if err := json.Unmarshal(body, &config); err != nil {
		return false
	}
	return config.BridgeID != ""
}
