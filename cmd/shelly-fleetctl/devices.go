package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shelly-fleet/control-plane/internal/catalogue"
	"github.com/shelly-fleet/control-plane/internal/registry"
	"github.com/shelly-fleet/control-plane/internal/shelly"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Inspect and manage the device registry",
}

var devicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every device currently known to the registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCore()
		if err != nil {
			die(err)
		}
		devices := c.registry.All()
		if jsonOutput {
			printJSONOrDie(devices)
			return nil
		}
		fmt.Printf("%-20s %-12s %-6s %-16s %s\n", "ID", "TYPE", "GEN", "ADDRESS", "NAME")
		for _, d := range devices {
			fmt.Printf("%-20s %-12s %-6s %-16s %s\n", d.ID, d.DeviceType, d.Generation, d.IPAddress, d.Name)
		}
		return nil
	},
}

var devicesShowCmd = &cobra.Command{
	Use:   "show <device-id>",
	Short: "Show one device's full record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCore()
		if err != nil {
			die(err)
		}
		device, ok := c.registry.Get(args[0])
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown device %q\n", args[0])
			os.Exit(exitConfirmationOrArgs)
		}
		printJSONOrDie(device)
		return nil
	},
}

var devicesDeleteCmd = &cobra.Command{
	Use:   "delete <device-id>",
	Short: "Remove a device from the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCore()
		if err != nil {
			die(err)
		}
		if !c.registry.Delete(args[0]) {
			fmt.Fprintf(os.Stderr, "unknown device %q\n", args[0])
			os.Exit(exitConfirmationOrArgs)
		}
		if err := registry.DeletePersisted(c.cfg.Registry.Dir, args[0]); err != nil {
			die(err)
		}
		fmt.Printf("device %s removed\n", args[0])
		return nil
	},
}

// devicesRefreshCmd re-probes one device's capability surface, the
// same leaf DiscoverGen1/DiscoverGen2 operation "capabilities discover"
// uses, scoped to a single device for a quick "did the firmware
// change" re-check.
var devicesRefreshCmd = &cobra.Command{
	Use:   "refresh <device-id>",
	Short: "Re-probe one device's capability surface and persist the registry entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCore()
		if err != nil {
			die(err)
		}
		device, ok := c.registry.Get(args[0])
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown device %q\n", args[0])
			os.Exit(exitConfirmationOrArgs)
		}

		var def *shelly.CapabilityDefinition
		var probeErr error
		if device.Generation.IsGen1() {
			def, probeErr = catalogue.DiscoverGen1(context.Background(), c.transport, device)
		} else {
			def, probeErr = catalogue.DiscoverGen2(context.Background(), c.transport, device)
		}
		if probeErr != nil {
			die(probeErr)
		}
		c.catalogue.Put(def)
		if err := catalogue.SaveDefinition(c.cfg.Catalogue.Dir, def); err != nil {
			die(err)
		}
		device.LastSeenAt = time.Now().UTC()
		c.registry.Upsert(device)
		if err := registry.SaveDevice(c.cfg.Registry.Dir, device); err != nil {
			die(err)
		}
		printJSONOrDie(def)
		return nil
	},
}

func init() {
	devicesCmd.AddCommand(devicesListCmd, devicesShowCmd, devicesDeleteCmd, devicesRefreshCmd)
}

// saveDiscoveredDevice persists one freshly-discovered device record;
// used by discoverCmd after a sweep upserts into the in-memory registry.
func saveDiscoveredDevice(c *core, d *shelly.Device) error {
	return registry.SaveDevice(c.cfg.Registry.Dir, d)
}
