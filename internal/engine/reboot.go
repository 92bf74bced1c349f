package engine

import (
	"context"
	"time"

	"github.com/shelly-fleet/control-plane/internal/shelly"
)

// DefaultRebootGrace is the bounded wait after a reboot call before
// the Engine returns.
const DefaultRebootGrace = 10 * time.Second

// coordinateReboot issues a reboot call after a successful write that
// flagged (or is declared to require) a restart, and waits a bounded
// grace period. A failed reboot never invalidates the write that
// preceded it; it is folded into result.Warning as a secondary error.
func (e *Engine) coordinateReboot(ctx context.Context, dialect Dialect, device *shelly.Device, result *shelly.OperationResult) {
	result.State = shelly.StateMaybeRebooting
	if err := dialect.Reboot(ctx, device); err != nil {
		result.Warning = "reboot failed: " + err.Error()
		result.State = shelly.StateFinalized
		return
	}

	grace := e.rebootGrace
	if grace <= 0 {
		grace = DefaultRebootGrace
	}
	select {
	case <-ctx.Done():
	case <-time.After(grace):
	}
	result.State = shelly.StateFinalized
}
