package engine

import (
	"fmt"

	"github.com/shelly-fleet/control-plane/internal/catalogue"
	"github.com/shelly-fleet/control-plane/internal/shelly"
)

// UnsupportedParameterError is returned when neither a device's
// CapabilityDefinition nor the process-wide ParameterMapping table
// knows a logical name.
type UnsupportedParameterError struct {
	DeviceType string
	Name       string
}

func (e *UnsupportedParameterError) Error() string {
	return fmt.Sprintf("engine: %q does not support parameter %q", e.DeviceType, e.Name)
}

// resolveDescriptor implements the parameter resolution order: a
// device-specific CapabilityDefinition entry wins over the generic
// ParameterMapping table, which wins over failure.
func resolveDescriptor(cat *catalogue.Catalogue, device *shelly.Device, logicalName string) (*shelly.ParameterDescriptor, error) {
	canon := cat.Mapping().Canonicalize(logicalName)

	if def, ok := cat.Resolve(device); ok {
		if p, ok := def.Parameters[logicalName]; ok {
			return &p, nil
		}
		if p, ok := def.Parameters[canon]; ok {
			return &p, nil
		}
	}

	if entry, ok := cat.Mapping().Entries[canon]; ok {
		if desc, ok := descriptorFromMapping(entry, device.Generation); ok {
			return desc, nil
		}
	}

	return nil, &UnsupportedParameterError{DeviceType: device.DeviceType, Name: logicalName}
}

// descriptorFromMapping synthesizes an ad-hoc ParameterDescriptor
// from a MappingEntry's branch for the device's generation.
func descriptorFromMapping(entry shelly.MappingEntry, gen shelly.Generation) (*shelly.ParameterDescriptor, bool) {
	if gen.IsGen1() {
		if entry.Gen1Endpoint == "" || entry.Gen1Property == "" {
			return nil, false
		}
		return &shelly.ParameterDescriptor{
			Type:          entry.Type,
			ReadOnly:      entry.ReadOnly,
			API:           entry.Gen1Endpoint,
			ParameterPath: entry.Gen1Property,
		}, true
	}
	if entry.Gen2Method == "" || entry.Gen2Property == "" {
		return nil, false
	}
	return &shelly.ParameterDescriptor{
		Type:          entry.Type,
		ReadOnly:      entry.ReadOnly,
		API:           entry.Gen2Method,
		Component:     entry.Gen2Component,
		ParameterPath: entry.Gen2Property,
	}, true
}
