package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shelly-fleet/control-plane/internal/catalogue"
	"github.com/shelly-fleet/control-plane/internal/shelly"
)

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "Inspect and maintain the device-type capability catalogue",
}

var capabilitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every device type the catalogue has a definition for",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCore()
		if err != nil {
			die(err)
		}
		all := c.catalogue.All()
		if jsonOutput {
			printJSONOrDie(all)
			return nil
		}
		fmt.Printf("%-16s %-8s %-10s %s\n", "DEVICE TYPE", "GEN", "PARAMS", "HAND-EDITED")
		for deviceType, def := range all {
			fmt.Printf("%-16s %-8s %-10d %t\n", deviceType, def.Generation, len(def.Parameters), def.HandEdited)
		}
		return nil
	},
}

var capabilitiesShowCmd = &cobra.Command{
	Use:   "show <device-type>",
	Short: "Show one device type's full capability definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCore()
		if err != nil {
			die(err)
		}
		def, ok := c.catalogue.Get(args[0])
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown device type %q\n", args[0])
			os.Exit(exitConfirmationOrArgs)
		}
		printJSONOrDie(def)
		return nil
	},
}

// capabilitiesDiscoverCmd probes one live device and learns its
// capability surface from scratch — the same probe devicesRefreshCmd
// uses, exposed here under the catalogue-facing verb name.
var capabilitiesDiscoverCmd = &cobra.Command{
	Use:   "discover <device-id>",
	Short: "Probe one device and generalize its response shapes into a new capability definition",
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
		capDef, probeErr := probeDevice(c, device)
		if probeErr != nil {
			die(probeErr)
		}
		c.catalogue.Put(capDef)
		if err := catalogue.SaveDefinition(c.cfg.Catalogue.Dir, capDef); err != nil {
			die(err)
		}
		printJSONOrDie(capDef)
		return nil
	},
}

var refreshForce bool

var capabilitiesRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-probe one representative device per known type and repopulate the catalogue",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCore()
		if err != nil {
			die(err)
		}
		representatives := representativeDevices(c)
		if err := catalogue.Refresh(cmd.Context(), c.catalogue, c.cfg.Catalogue.Dir, c.transport, representatives, catalogue.RefreshOptions{Force: refreshForce}); err != nil {
			die(err)
		}
		printJSONOrDie(c.catalogue.All())
		return nil
	},
}

var capabilitiesCheckParameterCmd = &cobra.Command{
	Use:   "check-parameter <device-type> <name>",
	Short: "Report whether a device type supports a logical parameter, and which device types do",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCore()
		if err != nil {
			die(err)
		}
		supported := c.catalogue.HasParameter(args[0], args[1])
		supporting := c.catalogue.DevicesSupporting(args[1])
		printJSONOrDie(map[string]interface{}{
			"device_type":        args[0],
			"parameter":          args[1],
			"supported":          supported,
			"device_types_with_parameter": supporting,
		})
		return nil
	},
}

var standardizeDryRun bool

var capabilitiesStandardizeCmd = &cobra.Command{
	Use:   "standardize",
	Short: "Rename legacy Gen1 field names to their canonical logical name across the catalogue",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCore()
		if err != nil {
			die(err)
		}
		diffs, err := catalogue.Standardize(c.catalogue, c.cfg.Catalogue.Dir, standardizeDryRun)
		if err != nil {
			die(err)
		}
		printJSONOrDie(diffs)
		return nil
	},
}

func probeDevice(c *core, device *shelly.Device) (*shelly.CapabilityDefinition, error) {
	if device.Generation.IsGen1() {
		return catalogue.DiscoverGen1(context.Background(), c.transport, device)
	}
	return catalogue.DiscoverGen2(context.Background(), c.transport, device)
}

// representativeDevices picks one registry entry per distinct device
// type, the representative set catalogue.Refresh probes.
func representativeDevices(c *core) []*shelly.Device {
	seen := map[string]bool{}
	var out []*shelly.Device
	for _, d := range c.registry.All() {
		if seen[d.DeviceType] {
			continue
		}
		seen[d.DeviceType] = true
		out = append(out, d)
	}
	return out
}

func init() {
	capabilitiesRefreshCmd.Flags().BoolVar(&refreshForce, "force", false, "overwrite hand-edited capability definitions too")
	capabilitiesStandardizeCmd.Flags().BoolVar(&standardizeDryRun, "dry-run", false, "compute the rename diff without writing changes")

	capabilitiesCmd.AddCommand(capabilitiesListCmd, capabilitiesShowCmd, capabilitiesDiscoverCmd,
		capabilitiesRefreshCmd, capabilitiesCheckParameterCmd, capabilitiesStandardizeCmd)
}
