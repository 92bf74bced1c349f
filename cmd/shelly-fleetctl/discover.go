package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/shelly-fleet/control-plane/internal/discovery"
)

var (
	discoverNetworks []string
	discoverTargets  []string
	discoverMDNS     bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Sweep one or more subnets (and/or mDNS) for Shelly devices and upsert them into the registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCore()
		if err != nil {
			die(err)
		}

		opts := discovery.Options{
			CIDRs:       c.cfg.Discovery.Networks,
			MDNSEnabled: c.cfg.Discovery.EnableMDNS,
			MDNSTimeout: time.Duration(c.cfg.Discovery.Timeout) * time.Second,
			Logger:      c.logger,
		}
		if len(discoverNetworks) > 0 {
			opts.CIDRs = discoverNetworks
		}
		if len(discoverTargets) > 0 {
			opts.Targets = discoverTargets
		}
		if cmd.Flags().Changed("mdns") {
			opts.MDNSEnabled = discoverMDNS
		}

		found, err := discovery.Run(cmd.Context(), opts)
		if err != nil {
			die(err)
		}
		for _, d := range found {
			c.registry.Upsert(d)
			if err := saveDiscoveredDevice(c, d); err != nil {
				die(err)
			}
		}
		printJSONOrDie(found)
		return nil
	},
}

func init() {
	discoverCmd.Flags().StringSliceVar(&discoverNetworks, "network", nil, "CIDR to sweep, may be repeated (overrides configured discovery.networks)")
	discoverCmd.Flags().StringSliceVar(&discoverTargets, "target", nil, "explicit host or host:port to probe, may be repeated")
	discoverCmd.Flags().BoolVar(&discoverMDNS, "mdns", false, "enable the mDNS listener for this run")
}
