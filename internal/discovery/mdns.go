package discovery

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/shelly-fleet/control-plane/internal/shelly"
)

// mdnsServiceShelly and mdnsServiceHTTP are the service types the
// mDNS listener queries: _http._tcp only when the query for the
// device-specific service returns an error (an empty answer does not
// trigger the fallback).
const (
	mdnsServiceShelly = "_shelly._tcp"
	mdnsServiceHTTP   = "_http._tcp"
)

// ListenMDNS subscribes to _shelly._tcp.local (falling back to
// _http._tcp) for the given duration and emits one partial Device per
// announcement.
func ListenMDNS(ctx context.Context, timeout time.Duration) <-chan *shelly.Device {
	out := make(chan *shelly.Device)
	entries := make(chan *mdns.ServiceEntry, 16)

	go func() {
		defer close(entries)
		params := mdns.DefaultParams(mdnsServiceShelly)
		params.Entries = entries
		params.Timeout = timeout
		params.DisableIPv6 = true
		if err := mdns.Query(params); err != nil {
			fallback := mdns.DefaultParams(mdnsServiceHTTP)
			fallback.Entries = entries
			fallback.Timeout = timeout
			fallback.DisableIPv6 = true
			mdns.Query(fallback)
		}
	}()

	go func() {
		defer close(out)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				if device, ok := deviceFromMDNSEntry(entry); ok {
					select {
					case out <- device:
					case <-ctx.Done():
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// isShellyEntry reports whether an mDNS entry plausibly announces a
// Shelly device, by service name, hostname, or TXT record content.
func isShellyEntry(entry *mdns.ServiceEntry) bool {
	if strings.Contains(strings.ToLower(entry.Name), "shelly") {
		return true
	}
	if strings.Contains(strings.ToLower(entry.Host), "shelly") {
		return true
	}
	for _, txt := range entry.InfoFields {
		lower := strings.ToLower(txt)
		if strings.Contains(lower, "shelly") || strings.Contains(txt, "gen=") || strings.Contains(txt, "mac=") {
			return true
		}
	}
	return false
}

// bestIP prefers the entry's IPv4 address, falling back to a
// non-link-local IPv6 address.
func bestIP(entry *mdns.ServiceEntry) string {
	if entry.AddrV4 != nil {
		return entry.AddrV4.String()
	}
	if entry.AddrV6 != nil && !entry.AddrV6.IsLinkLocalUnicast() {
		return entry.AddrV6.String()
	}
	return ""
}

// txtField extracts a "key=value" TXT record's value.
func txtField(entry *mdns.ServiceEntry, key string) string {
	prefix := key + "="
	for _, txt := range entry.InfoFields {
		if strings.HasPrefix(txt, prefix) {
			return strings.TrimPrefix(txt, prefix)
		}
	}
	return ""
}

// deviceFromMDNSEntry extracts a partial Device from {mac, model/app,
// version, ip} TXT records.
func deviceFromMDNSEntry(entry *mdns.ServiceEntry) (*shelly.Device, bool) {
	if !isShellyEntry(entry) {
		return nil, false
	}
	ip := bestIP(entry)
	if ip == "" {
		return nil, false
	}

	mac := txtField(entry, "mac")
	model := txtField(entry, "model")
	if model == "" {
		model = txtField(entry, "app")
	}
	gen := genFromPrefix(model)
	if g := txtField(entry, "gen"); g != "" {
		if parsed := genFromField(g); parsed != shelly.GenUnknown {
			gen = parsed
		}
	}

	id := mac
	if id == "" {
		id = entry.Host
	}

	return &shelly.Device{
		ID:              shelly.NormalizeID(id),
		DeviceType:      model,
		Generation:      gen,
		IPAddress:       ip,
		FirmwareVersion: txtField(entry, "ver"),
		DiscoveryMethod: shelly.DiscoveredMDNS,
		LastSeenAt:      time.Now().UTC(),
	}, true
}
