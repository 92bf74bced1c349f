package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shelly-fleet/control-plane/internal/engine"
)

var parametersCmd = &cobra.Command{
	Use:   "parameters",
	Short: "Read and write logical parameters across a group",
}

var parametersListCmd = &cobra.Command{
	Use:   "list <device-type>",
	Short: "List the logical parameters a device type's capability definition supports",
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
		if jsonOutput {
			printJSONOrDie(def.Parameters)
			return nil
		}
		fmt.Printf("%-24s %-10s %-10s %s\n", "NAME", "TYPE", "READONLY", "UNIT")
		for name, p := range def.Parameters {
			fmt.Printf("%-24s %-10s %-10t %s\n", name, p.Type, p.ReadOnly, p.Unit)
		}
		return nil
	},
}

var parametersGetCmd = &cobra.Command{
	Use:   "get <group> <name>",
	Short: "Read one logical parameter from every member of a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCore()
		if err != nil {
			die(err)
		}
		result, ferr := c.executor.GetParameter(cmd.Context(), args[0], args[1])
		if ferr != nil {
			exitForFleetError(ferr)
		}
		exitForGroupResult(result)
		return nil
	},
}

var (
	setConfirm        bool
	setRebootIfNeeded bool
)

var parametersSetCmd = &cobra.Command{
	Use:   "set <group> <name> <value>",
	Short: "Write one logical parameter across every member of a group",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCore()
		if err != nil {
			die(err)
		}
		opts := engine.SetOptions{RebootIfNeeded: setRebootIfNeeded}
		result, ferr := c.executor.SetParameter(cmd.Context(), args[0], args[1], args[2], opts, setConfirm)
		if ferr != nil {
			exitForFleetError(ferr)
		}
		exitForGroupResult(result)
		return nil
	},
}

var parametersApplyCmd = &cobra.Command{
	Use:   "apply <group> <name=value> [name=value ...]",
	Short: "Write several logical parameters across every member of a group in one call",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCore()
		if err != nil {
			die(err)
		}
		names := make([]string, 0, len(args)-1)
		values := make(map[string]interface{}, len(args)-1)
		for _, kv := range args[1:] {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				fmt.Fprintf(os.Stderr, "invalid %q, expected name=value\n", kv)
				os.Exit(exitConfirmationOrArgs)
			}
			names = append(names, parts[0])
			values[parts[0]] = parts[1]
		}
		opts := engine.SetOptions{RebootIfNeeded: setRebootIfNeeded}
		result, ferr := c.executor.ApplyBulk(cmd.Context(), args[0], names, values, opts, setConfirm)
		if ferr != nil {
			exitForFleetError(ferr)
		}
		exitForGroupResult(result)
		return nil
	},
}

func init() {
	parametersSetCmd.Flags().BoolVar(&setConfirm, "confirm", false, "confirm a destructive write against all-devices")
	parametersSetCmd.Flags().BoolVar(&setRebootIfNeeded, "reboot-if-needed", false, "allow the device to reboot if this parameter requires it")
	parametersApplyCmd.Flags().BoolVar(&setConfirm, "confirm", false, "confirm a destructive write against all-devices")
	parametersApplyCmd.Flags().BoolVar(&setRebootIfNeeded, "reboot-if-needed", false, "allow the device to reboot if any written parameter requires it")

	parametersCmd.AddCommand(parametersListCmd, parametersGetCmd, parametersSetCmd, parametersApplyCmd)
}
