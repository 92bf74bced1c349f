// Package catalogue holds the per-device-model capability catalogue:
// which APIs and logical parameters a given SKU supports, and the
// process-wide ParameterMapping table that lets common parameters
// resolve on unknown SKUs of a known generation. It is read-mostly
// and refreshed under a single write lock that swaps in a new
// snapshot atomically, so readers never observe a torn view.
package catalogue

import (
	"sync"

	"github.com/shelly-fleet/control-plane/internal/shelly"
)

// Catalogue is the process-wide capability store. The zero value is
// not usable; construct with New.
type Catalogue struct {
	mu sync.RWMutex

	definitions map[string]*shelly.CapabilityDefinition // keyed by device_type
	synonyms    map[string]string                        // type_mappings entry -> primary device_type
	mapping     *shelly.ParameterMapping
}

// New returns an empty Catalogue; Load populates it from disk.
func New() *Catalogue {
	return &Catalogue{
		definitions: map[string]*shelly.CapabilityDefinition{},
		synonyms:    map[string]string{},
		mapping:     &shelly.ParameterMapping{Entries: map[string]shelly.MappingEntry{}, LegacyAliases: map[string]string{}},
	}
}

// snapshot is the atomically-swapped read view.
type snapshot struct {
	definitions map[string]*shelly.CapabilityDefinition
	synonyms    map[string]string
	mapping     *shelly.ParameterMapping
}

func (c *Catalogue) read() snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return snapshot{definitions: c.definitions, synonyms: c.synonyms, mapping: c.mapping}
}

// replace swaps in an entirely new snapshot under the write lock so
// readers never see a half-built catalogue.
func (c *Catalogue) replace(definitions map[string]*shelly.CapabilityDefinition, synonyms map[string]string, mapping *shelly.ParameterMapping) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.definitions = definitions
	c.synonyms = synonyms
	c.mapping = mapping
}

// Put inserts or overwrites one definition (used by discovery-and-probe
// and by tests); it rebuilds the synonym index entries for that type.
func (c *Catalogue) Put(def *shelly.CapabilityDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Copy-on-write: snapshots handed out by read() keep the old maps.
	definitions := make(map[string]*shelly.CapabilityDefinition, len(c.definitions)+1)
	for k, v := range c.definitions {
		definitions[k] = v
	}
	definitions[def.DeviceType] = def
	synonyms := make(map[string]string, len(c.synonyms)+len(def.TypeMappings))
	for k, v := range c.synonyms {
		synonyms[k] = v
	}
	for _, synonym := range def.TypeMappings {
		synonyms[synonym] = def.DeviceType
	}
	c.definitions = definitions
	c.synonyms = synonyms
}

// SetMapping replaces the ParameterMapping table wholesale.
func (c *Catalogue) SetMapping(m *shelly.ParameterMapping) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mapping = m
}

// Mapping returns the current ParameterMapping table.
func (c *Catalogue) Mapping() *shelly.ParameterMapping {
	return c.read().mapping
}

// Get performs a strict device_type lookup, falling back through
// type_mappings synonyms.
func (c *Catalogue) Get(deviceType string) (*shelly.CapabilityDefinition, bool) {
	s := c.read()
	if def, ok := s.definitions[deviceType]; ok {
		return def, true
	}
	if primary, ok := s.synonyms[deviceType]; ok {
		if def, ok := s.definitions[primary]; ok {
			return def, true
		}
	}
	return nil, false
}

// Resolve returns the CapabilityDefinition for a Device record: by
// device_type, else by the generation's base SKU, else none.
func (c *Catalogue) Resolve(device *shelly.Device) (*shelly.CapabilityDefinition, bool) {
	if def, ok := c.Get(device.DeviceType); ok {
		return def, true
	}
	s := c.read()
	for _, def := range s.definitions {
		if def.Generation == device.Generation && def.DeviceType == baseSKU(device.Generation) {
			return def, true
		}
	}
	return nil, false
}

// baseSKU names the placeholder SKU used to represent "a generic
// device of this generation" when no model-specific definition exists.
func baseSKU(gen shelly.Generation) string {
	return "base-" + gen.String()
}

// HasParameter reports whether deviceType's definition (or the
// process-wide mapping table) knows logical parameter name.
func (c *Catalogue) HasParameter(deviceType, name string) bool {
	if def, ok := c.Get(deviceType); ok {
		if _, ok := def.Parameters[name]; ok {
			return true
		}
	}
	_, ok := c.Mapping().Entries[c.Mapping().Canonicalize(name)]
	return ok
}

// ParameterDetails returns the ParameterDescriptor for name from
// deviceType's own definition (type_mappings synonyms included). The
// mapping table is not consulted: a parameter known only through it
// reports false.
func (c *Catalogue) ParameterDetails(deviceType, name string) (*shelly.ParameterDescriptor, bool) {
	if def, ok := c.Get(deviceType); ok {
		if p, ok := def.Parameters[name]; ok {
			return &p, true
		}
	}
	return nil, false
}

// DevicesSupporting scans every definition plus the mapping table for
// logical parameter name, returning every device_type known to support
// it.
func (c *Catalogue) DevicesSupporting(name string) []string {
	s := c.read()
	var out []string
	for deviceType, def := range s.definitions {
		if _, ok := def.Parameters[name]; ok {
			out = append(out, deviceType)
		}
	}
	if _, ok := s.mapping.Entries[s.mapping.Canonicalize(name)]; ok {
		out = append(out, "*") // the mapping table applies to any type of a matching generation
	}
	return out
}

// All returns every known CapabilityDefinition, for export/standardize
// passes that must iterate the whole catalogue.
func (c *Catalogue) All() map[string]*shelly.CapabilityDefinition {
	s := c.read()
	out := make(map[string]*shelly.CapabilityDefinition, len(s.definitions))
	for k, v := range s.definitions {
		out[k] = v
	}
	return out
}
