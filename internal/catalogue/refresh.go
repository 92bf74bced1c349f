package catalogue

import (
	"context"
	"errors"
	"fmt"

	"github.com/shelly-fleet/control-plane/internal/shelly"
	"github.com/shelly-fleet/control-plane/internal/transport"
)

// RefreshOptions controls a catalogue refresh run.
type RefreshOptions struct {
	// Force bypasses the "don't overwrite hand-edited files" guard.
	Force bool
}

// Refresh repopulates the catalogue from a fresh probe of one
// representative device per known type, overwriting each probed type's
// capability file; capability files of types with no representative
// are not deleted. A capability file marked HandEdited is left
// untouched unless opts.Force is set.
func Refresh(ctx context.Context, cat *Catalogue, configDir string, tc *transport.Client, representatives []*shelly.Device, opts RefreshOptions) error {
	var failed []error
	for _, device := range representatives {
		if existing, ok := cat.Get(device.DeviceType); ok && existing.HandEdited && !opts.Force {
			continue
		}

		var def *shelly.CapabilityDefinition
		var err error
		if device.Generation.IsGen1() {
			def, err = DiscoverGen1(ctx, tc, device)
		} else {
			def, err = DiscoverGen2(ctx, tc, device)
		}
		if err != nil {
			// A failed refresh for one device type is reported but
			// must not invalidate the rest of the catalogue.
			failed = append(failed, fmt.Errorf("catalogue: refresh %s: %w", device.DeviceType, err))
			continue
		}

		cat.Put(def)
		if err := SaveDefinition(configDir, def); err != nil {
			return fmt.Errorf("catalogue: save %s: %w", def.DeviceType, err)
		}
	}
	return errors.Join(failed...)
}

// StandardizeDiff is one renamed-parameter change a Standardize pass
// would make (or, under dryRun, report).
type StandardizeDiff struct {
	DeviceType string
	OldName    string
	NewName    string
}

// Standardize renames legacy Gen1 field names to their canonical
// logical name across every definition in the catalogue, using the
// current ParameterMapping's LegacyAliases table. Under dryRun it only
// computes and returns the diff, making no changes.
func Standardize(cat *Catalogue, configDir string, dryRun bool) ([]StandardizeDiff, error) {
	mapping := cat.Mapping()
	var diffs []StandardizeDiff

	for deviceType, def := range cat.All() {
		var renames []StandardizeDiff
		for name := range def.Parameters {
			if canon, ok := mapping.LegacyAliases[name]; ok && canon != name {
				renames = append(renames, StandardizeDiff{DeviceType: deviceType, OldName: name, NewName: canon})
			}
		}
		if len(renames) == 0 {
			continue
		}
		diffs = append(diffs, renames...)

		if dryRun {
			continue
		}
		updated := *def
		updated.Parameters = make(map[string]shelly.ParameterDescriptor, len(def.Parameters))
		for name, desc := range def.Parameters {
			newName := name
			if canon, ok := mapping.LegacyAliases[name]; ok {
				newName = canon
			}
			updated.Parameters[newName] = desc
		}
		cat.Put(&updated)
		if err := SaveDefinition(configDir, &updated); err != nil {
			return diffs, err
		}
	}
	return diffs, nil
}

// MarkHandEdited flags a definition as operator-maintained so Refresh
// skips it unless forced, and persists the flag.
func MarkHandEdited(cat *Catalogue, configDir, deviceType string) error {
	def, ok := cat.Get(deviceType)
	if !ok {
		return fmt.Errorf("catalogue: unknown device type %q", deviceType)
	}
	updated := *def
	updated.HandEdited = true
	cat.Put(&updated)
	return SaveDefinition(configDir, &updated)
}
