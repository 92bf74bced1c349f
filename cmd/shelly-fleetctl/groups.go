package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shelly-fleet/control-plane/internal/groups"
	"github.com/shelly-fleet/control-plane/internal/shelly"
)

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Define and operate on named device groups",
}

var (
	groupDescription string
	groupTags        []string
)

var groupsCreateCmd = &cobra.Command{
	Use:   "create <name> [device-id ...]",
	Short: "Define a new group",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCore()
		if err != nil {
			die(err)
		}
		g := &shelly.Group{
			Name:        args[0],
			Description: groupDescription,
			DeviceIDs:   args[1:],
			Tags:        groupTags,
		}
		created, err := c.groups.Create(g)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitConfirmationOrArgs)
		}
		if err := groups.Save(c.cfg.Groups.Dir, created); err != nil {
			die(err)
		}
		printJSONOrDie(created)
		return nil
	},
}

var groupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every defined group",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCore()
		if err != nil {
			die(err)
		}
		all := c.groups.All()
		if jsonOutput {
			printJSONOrDie(all)
			return nil
		}
		fmt.Printf("%-24s %-8s %s\n", "NAME", "MEMBERS", "DESCRIPTION")
		for _, g := range all {
			fmt.Printf("%-24s %-8d %s\n", g.Name, len(g.DeviceIDs), g.Description)
		}
		return nil
	},
}

var groupsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show one group's definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCore()
		if err != nil {
			die(err)
		}
		g, ok := c.groups.Get(args[0])
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown group %q\n", args[0])
			os.Exit(exitConfirmationOrArgs)
		}
		printJSONOrDie(g)
		return nil
	},
}

var groupsUpdateCmd = &cobra.Command{
	Use:   "update <name>",
	Short: "Update a group's description and/or tags",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCore()
		if err != nil {
			die(err)
		}
		updated, err := c.groups.Update(args[0], func(g *shelly.Group) {
			if cmd.Flags().Changed("description") {
				g.Description = groupDescription
			}
			if cmd.Flags().Changed("tags") {
				g.Tags = groupTags
			}
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitConfirmationOrArgs)
		}
		if err := groups.Save(c.cfg.Groups.Dir, updated); err != nil {
			die(err)
		}
		printJSONOrDie(updated)
		return nil
	},
}

var groupsRenameCmd = &cobra.Command{
	Use:   "rename <name> <new-name>",
	Short: "Rename a group, relocating its on-disk file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCore()
		if err != nil {
			die(err)
		}
		updated, err := c.groups.Rename(args[0], args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitConfirmationOrArgs)
		}
		if err := groups.Rename(c.cfg.Groups.Dir, args[0], updated); err != nil {
			die(err)
		}
		printJSONOrDie(updated)
		return nil
	},
}

var groupsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a group definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCore()
		if err != nil {
			die(err)
		}
		if err := c.groups.Delete(args[0]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitConfirmationOrArgs)
		}
		if err := groups.Delete(c.cfg.Groups.Dir, args[0]); err != nil {
			die(err)
		}
		fmt.Printf("group %s deleted\n", args[0])
		return nil
	},
}

var groupsAddDeviceCmd = &cobra.Command{
	Use:   "add-device <name> <device-id>",
	Short: "Add a device to a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCore()
		if err != nil {
			die(err)
		}
		updated, err := c.groups.AddDevice(args[0], args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitConfirmationOrArgs)
		}
		if err := groups.Save(c.cfg.Groups.Dir, updated); err != nil {
			die(err)
		}
		printJSONOrDie(updated)
		return nil
	},
}

var groupsRemoveDeviceCmd = &cobra.Command{
	Use:   "remove-device <name> <device-id>",
	Short: "Remove a device from a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCore()
		if err != nil {
			die(err)
		}
		updated, err := c.groups.RemoveDevice(args[0], args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitConfirmationOrArgs)
		}
		if err := groups.Save(c.cfg.Groups.Dir, updated); err != nil {
			die(err)
		}
		printJSONOrDie(updated)
		return nil
	},
}

var (
	operateArgs    []string
	operateConfirm bool
)

var groupsOperateCmd = &cobra.Command{
	Use:   "operate <name> <verb>",
	Short: "Dispatch a control verb across every member of a group",
	Long: "Dispatch a control verb (on, off, toggle, reboot, ...) across every member of a group.\n" +
		"Destructive verbs against the reserved all-devices group require --confirm.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCore()
		if err != nil {
			die(err)
		}
		parsedArgs, err := parseKeyValueArgs(operateArgs)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitConfirmationOrArgs)
		}

		result, ferr := c.executor.Operate(cmd.Context(), args[0], args[1], parsedArgs, operateConfirm)
		if ferr != nil {
			exitForFleetError(ferr)
		}
		exitForGroupResult(result)
		return nil
	},
}

// parseKeyValueArgs turns repeated --arg key=value flags into the
// map[string]interface{} the Engine's verb handlers expect.
func parseKeyValueArgs(raw []string) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]interface{}, len(raw))
	for _, kv := range raw {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid --arg %q, expected key=value", kv)
		}
		out[parts[0]] = parts[1]
	}
	return out, nil
}

func init() {
	groupsCreateCmd.Flags().StringVar(&groupDescription, "description", "", "group description")
	groupsCreateCmd.Flags().StringSliceVar(&groupTags, "tags", nil, "comma-separated tags")
	groupsUpdateCmd.Flags().StringVar(&groupDescription, "description", "", "new description")
	groupsUpdateCmd.Flags().StringSliceVar(&groupTags, "tags", nil, "new comma-separated tags")

	groupsOperateCmd.Flags().StringArrayVar(&operateArgs, "arg", nil, "verb argument key=value, may be repeated")
	groupsOperateCmd.Flags().BoolVar(&operateConfirm, "confirm", false, "confirm a destructive operation against all-devices")

	groupsCmd.AddCommand(groupsCreateCmd, groupsListCmd, groupsShowCmd, groupsUpdateCmd, groupsRenameCmd,
		groupsDeleteCmd, groupsAddDeviceCmd, groupsRemoveDeviceCmd, groupsOperateCmd)
}
