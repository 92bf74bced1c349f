package engine

import (
	"context"

	"github.com/shelly-fleet/control-plane/internal/shelly"
)

// Apply issues one Set per entry in names, taking the iteration order
// from the caller-supplied slice rather than ranging over the values
// map directly, since map order is not guaranteed stable and the
// GroupResult.Results order for Apply must be deterministic across
// replays. Every key is attempted independently and a failure on one
// key never aborts the rest, applying the engine's per-device
// partial-failure policy at per-parameter granularity.
func (e *Engine) Apply(ctx context.Context, deviceID string, names []string, values map[string]interface{}, opts SetOptions) shelly.GroupResult {
	result := shelly.GroupResult{}
	for _, name := range names {
		value, ok := values[name]
		if !ok {
			continue
		}
		r := e.Set(ctx, deviceID, name, value, opts)
		r.RequestSummary = name
		result.Results = append(result.Results, r)
	}
	result.Tally()
	return result
}
