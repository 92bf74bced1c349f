package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/shelly-fleet/control-plane/internal/logging"
	"github.com/shelly-fleet/control-plane/internal/shelly"
)

const (
	// chunkSize bounds simultaneous in-flight probes.
	chunkSize = 16
	// probeTimeout is the short overall timeout (connect through body)
	// for one HTTP probe.
	probeTimeout = 1 * time.Second
)

// ProbeIPs probes every address in ips in fixed-size chunks, each
// chunk completing before the next starts. Results are sent to the
// returned channel, which is closed once every chunk has been probed
// or ctx is cancelled.
func ProbeIPs(ctx context.Context, ips []string, logger *logging.Logger) <-chan *shelly.Device {
	out := make(chan *shelly.Device)
	client := &http.Client{Timeout: probeTimeout}

	go func() {
		defer close(out)
		start := time.Now()
		found := 0
		for i := 0; i < len(ips); i += chunkSize {
			select {
			case <-ctx.Done():
				return
			default:
			}
			chunk := ips[i:min(i+chunkSize, len(ips))]
			results := make(chan *shelly.Device, len(chunk))
			for _, ip := range chunk {
				go func(ip string) {
					device, err := probeOne(ctx, client, ip)
					if err != nil {
						results <- nil
						return
					}
					results <- device
				}(ip)
			}
			for range chunk {
				if device := <-results; device != nil {
					found++
					select {
					case out <- device:
					case <-ctx.Done():
						return
					}
				}
			}
		}
		if logger != nil {
			logger.LogDiscoveryOperation("http_probe", fmt.Sprintf("%d targets", len(ips)), found, time.Since(start).Milliseconds(), nil)
		}
	}()

	return out
}

// probeOne performs a single GET /shelly and classifies the response.
func probeOne(ctx context.Context, client *http.Client, ip string) (*shelly.Device, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://%s/shelly", ip), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil // connection-level failures are silently skipped, not errors
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	var raw map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, nil
	}

	payload := payloadFromRaw(raw)
	device, ok := classify(payload, ip)
	if !ok {
		return nil, nil
	}
	device.RawInfo = raw
	device.LastSeenAt = time.Now().UTC()
	return device, nil
}

func payloadFromRaw(raw map[string]interface{}) shellyInfoPayload {
	var p shellyInfoPayload
	reencode, err := json.Marshal(raw)
	if err != nil {
		return p
	}
	_ = json.Unmarshal(reencode, &p)
	return p
}

// IPsFromCIDR expands a CIDR block into its host addresses (network
// and broadcast addresses included).
func IPsFromCIDR(cidr string) ([]string, error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("discovery: invalid CIDR %q: %w", cidr, err)
	}
	var ips []string
	for cur := ip.Mask(ipnet.Mask); ipnet.Contains(cur); incIP(cur) {
		dup := make(net.IP, len(cur))
		copy(dup, cur)
		ips = append(ips, dup.String())
	}
	return ips, nil
}

func incIP(ip net.IP) {
	for j := len(ip) - 1; j >= 0; j-- {
		ip[j]++
		if ip[j] > 0 {
			break
		}
	}
}
