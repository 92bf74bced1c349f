// Command shelly-fleetctl is the CLI front-end for the fleet control
// plane. It owns flag parsing, terminal output, and the exit-code
// contract; the verbs themselves are the core's (internal/engine,
// internal/groupexec, internal/discovery, internal/catalogue).
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/shelly-fleet/control-plane/internal/catalogue"
	"github.com/shelly-fleet/control-plane/internal/config"
	"github.com/shelly-fleet/control-plane/internal/engine"
	"github.com/shelly-fleet/control-plane/internal/groupexec"
	"github.com/shelly-fleet/control-plane/internal/groups"
	"github.com/shelly-fleet/control-plane/internal/logging"
	"github.com/shelly-fleet/control-plane/internal/registry"
	"github.com/shelly-fleet/control-plane/internal/shelly"
	"github.com/shelly-fleet/control-plane/internal/transport"
)

// Exit codes: 0 all succeeded, 1 one or more per-device failures, 2
// confirmation-required or invalid arguments, 3 internal error.
const (
	exitSuccess            = 0
	exitPartialFailure     = 1
	exitConfirmationOrArgs = 2
	exitInternal           = 3
)

var (
	configFile string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "shelly-fleetctl",
	Short: "Operate a fleet of Shelly smart devices",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default searches ./configs, ., $HOME/.shelly-fleetctl, /etc/shelly-fleetctl)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON instead of a table")

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(groupsCmd)
	rootCmd.AddCommand(parametersCmd)
	rootCmd.AddCommand(capabilitiesCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitInternal)
	}
}

// core bundles every dependency a leaf command needs, built fresh per
// invocation from on-disk state — the CLI is a stateless front-end.
type core struct {
	cfg       *config.Config
	logger    *logging.Logger
	transport *transport.Client
	registry  *registry.Registry
	catalogue *catalogue.Catalogue
	groups    *groups.Store
	engine    *engine.Engine
	executor  *groupexec.Executor
}

func loadCore() (*core, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	tc := transport.New(transport.WithLogger(logger))

	reg, err := registry.Load(cfg.Registry.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}

	cat, err := catalogue.Load(cfg.Catalogue.Dir)
	if err != nil {
		return nil, fmt.Errorf("load catalogue: %w", err)
	}

	groupDir := groups.ResolveDir(cfg.Groups.Dir)
	groupStore, err := groups.Load(groupDir)
	if err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}

	engOpts := []engine.Option{engine.WithLogger(logger)}
	if cfg.Executor.RebootGraceSeconds > 0 {
		engOpts = append(engOpts, engine.WithRebootGrace(time.Duration(cfg.Executor.RebootGraceSeconds)*time.Second))
	}
	eng := engine.New(tc, cat, reg, engOpts...)

	execOpts := []groupexec.Option{groupexec.WithLogger(logger)}
	if cfg.Executor.Concurrency > 0 {
		execOpts = append(execOpts, groupexec.WithConcurrency(cfg.Executor.Concurrency))
	}
	if cfg.Executor.PerDeviceTimeout > 0 {
		execOpts = append(execOpts, groupexec.WithPerDeviceTimeout(time.Duration(cfg.Executor.PerDeviceTimeout)*time.Second))
	}
	exec := groupexec.New(reg, groupStore, eng, execOpts...)

	return &core{
		cfg:       cfg,
		logger:    logger,
		transport: tc,
		registry:  reg,
		catalogue: cat,
		groups:    groupStore,
		engine:    eng,
		executor:  exec,
	}, nil
}

func printJSONOrDie(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitInternal)
	}
}

// exitForGroupResult implements the exit-code contract for any command
// that dispatches a GroupResult: 0 clean, 1 if anything failed.
func exitForGroupResult(result shelly.GroupResult) {
	if jsonOutput {
		printJSONOrDie(result)
	} else {
		printGroupResultTable(result)
	}
	if result.FailureCount > 0 {
		os.Exit(exitPartialFailure)
	}
	os.Exit(exitSuccess)
}

// exitForFleetError implements the exit-code contract for a caller-
// contract violation: confirmation-required and invalid-argument
// errors both exit 2.
func exitForFleetError(ferr *shelly.FleetError) {
	fmt.Fprintln(os.Stderr, ferr.Error())
	os.Exit(exitConfirmationOrArgs)
}

func die(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(exitInternal)
}

func printGroupResultTable(result shelly.GroupResult) {
	fmt.Printf("%-20s %-8s %-14s %s\n", "DEVICE", "OK", "ERROR", "SUMMARY")
	for _, r := range result.Results {
		summary := r.ResponseSummary
		if !r.Success {
			summary = r.ErrorMessage
		}
		fmt.Printf("%-20s %-8t %-14s %s\n", r.DeviceID, r.Success, r.ErrorKind, summary)
	}
	fmt.Printf("\n%d succeeded, %d failed, %d skipped\n", result.SuccessCount, result.FailureCount, result.SkippedCount)
}
