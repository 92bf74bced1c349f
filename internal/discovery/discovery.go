package discovery

import (
	"context"
	"time"

	"github.com/shelly-fleet/control-plane/internal/logging"
	"github.com/shelly-fleet/control-plane/internal/shelly"
)

// Options configures one discovery run. Either strategy may be
// disabled independently.
type Options struct {
	// CIDRs is expanded to a target IP list for the HTTP probe. HTTP
	// probing is disabled only when both CIDRs and Targets are empty.
	CIDRs []string
	// Targets is an explicit list of addresses (host or host:port) to
	// probe in addition to any CIDRs.
	Targets []string
	// MDNSEnabled turns on the mDNS listener.
	MDNSEnabled bool
	// MDNSTimeout bounds how long the mDNS listener stays open.
	MDNSTimeout time.Duration

	Logger *logging.Logger
}

// Run executes both configured strategies concurrently, merges
// results observed for the same MAC, and returns the final device
// set. Cancelling ctx stops all outstanding probes; devices already
// merged in are still returned — the caller is responsible for
// keeping whatever was already delivered in the Registry.
func Run(ctx context.Context, opts Options) ([]*shelly.Device, error) {
	merged := map[string]*shelly.Device{}

	var channels []<-chan *shelly.Device

	var ips []string
	for _, cidr := range opts.CIDRs {
		expanded, err := IPsFromCIDR(cidr)
		if err != nil {
			return nil, err
		}
		ips = append(ips, expanded...)
	}
	ips = append(ips, opts.Targets...)
	if len(ips) > 0 {
		channels = append(channels, ProbeIPs(ctx, ips, opts.Logger))
	}

	if opts.MDNSEnabled {
		timeout := opts.MDNSTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		channels = append(channels, ListenMDNS(ctx, timeout))
	}

	for _, ch := range channels {
		for device := range ch {
			if device.ID == "" {
				continue
			}
			merge(merged, device)
		}
	}

	out := make([]*shelly.Device, 0, len(merged))
	for _, d := range merged {
		out = append(out, d)
	}
	return out, nil
}

// merge folds incoming into the accumulator keyed by MAC: the HTTP
// probe result wins for mutable fields (IP, firmware) because it is
// authoritative at the moment of the query; the mDNS timestamp is
// retained as last_seen_at only if newer. This generalizes the
// CombinedDiscovery "first seen wins" dedup loop into a field-level
// merge.
func merge(acc map[string]*shelly.Device, incoming *shelly.Device) {
	existing, ok := acc[incoming.ID]
	if !ok {
		acc[incoming.ID] = incoming
		return
	}

	if incoming.DiscoveryMethod == shelly.DiscoveredProbe {
		merged := *incoming
		if existing.LastSeenAt.After(merged.LastSeenAt) {
			merged.LastSeenAt = existing.LastSeenAt
		}
		acc[incoming.ID] = &merged
		return
	}

	// incoming is mDNS: it never overwrites an HTTP-sourced record's
	// mutable fields, but it may advance last_seen_at.
	if existing.DiscoveryMethod == shelly.DiscoveredProbe {
		if incoming.LastSeenAt.After(existing.LastSeenAt) {
			existing.LastSeenAt = incoming.LastSeenAt
		}
		return
	}

	if incoming.LastSeenAt.After(existing.LastSeenAt) {
		acc[incoming.ID] = incoming
	}
}
