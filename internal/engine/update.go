package engine

import (
	"context"
	"time"

	"github.com/shelly-fleet/control-plane/internal/shelly"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPollTimeout  = 2 * time.Minute
)

// UpdateFirmware dispatches update_firmware and, when
// opts.WaitForCompletion is set, polls check_updates until
// has_update clears or opts.PollTimeout elapses. Polling is an
// explicit, off-by-default option; the default is dispatch-and-return.
func (e *Engine) UpdateFirmware(ctx context.Context, deviceID string, opts UpdateOptions) shelly.OperationResult {
	result := e.Operate(ctx, deviceID, "update_firmware", nil)
	if !result.Success || !opts.WaitForCompletion {
		return result
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	timeout := opts.PollTimeout
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			result.Warning = "update polling cancelled"
			return result
		case <-time.After(interval):
		}

		status := e.Operate(ctx, deviceID, "check_updates", nil)
		if !status.Success {
			continue
		}
		if status.ResponseSummary == "up to date" {
			return result
		}
	}

	result.Success = false
	result.Warning = "update did not complete before poll timeout"
	result.ErrorKind = shelly.ErrTimeout
	return result
}
