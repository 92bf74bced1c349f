package catalogue

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shelly-fleet/control-plane/internal/shelly"
)

// Layout: one capability file per SKU, plus the static device-type
// hints and the process-wide parameter mapping.
const (
	capabilitiesSubdir = "device_capabilities"
	deviceTypesFile    = "device_types.yaml"
	mappingsFile       = "parameter_mappings.yaml"
)

// Load reads every *.yaml file under configDir/device_capabilities,
// plus configDir/parameter_mappings.yaml, into a fresh Catalogue. A
// missing capabilities directory or mapping file is not an error —
// capability files are a cache, rebuildable by Refresh, and the
// system must survive their absence.
func Load(configDir string) (*Catalogue, error) {
	definitions := map[string]*shelly.CapabilityDefinition{}
	synonyms := map[string]string{}

	capDir := filepath.Join(configDir, capabilitiesSubdir)
	entries, err := os.ReadDir(capDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("catalogue: read %s: %w", capDir, err)
		}
		entries = nil
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		def, err := loadDefinition(filepath.Join(capDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("catalogue: load %s: %w", e.Name(), err)
		}
		definitions[def.DeviceType] = def
		for _, synonym := range def.TypeMappings {
			synonyms[synonym] = def.DeviceType
		}
	}

	mapping, err := loadMapping(filepath.Join(configDir, mappingsFile))
	if err != nil {
		return nil, err
	}

	cat := New()
	cat.replace(definitions, synonyms, mapping)
	return cat, nil
}

func loadDefinition(path string) (*shelly.CapabilityDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var def shelly.CapabilityDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

func loadMapping(path string) (*shelly.ParameterMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &shelly.ParameterMapping{Entries: map[string]shelly.MappingEntry{}, LegacyAliases: map[string]string{}}, nil
		}
		return nil, fmt.Errorf("catalogue: read %s: %w", path, err)
	}
	var mapping shelly.ParameterMapping
	if err := yaml.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("catalogue: parse %s: %w", path, err)
	}
	if mapping.Entries == nil {
		mapping.Entries = map[string]shelly.MappingEntry{}
	}
	if mapping.LegacyAliases == nil {
		mapping.LegacyAliases = map[string]string{}
	}
	return &mapping, nil
}

// SaveDefinition writes one CapabilityDefinition to its canonical
// path, atomically (write-to-temp-then-rename), matching the
// Registry's durability contract.
func SaveDefinition(configDir string, def *shelly.CapabilityDefinition) error {
	dir := filepath.Join(configDir, capabilitiesSubdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(def)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, def.DeviceType+".yaml")
	return atomicWrite(path, data)
}

// SaveMapping writes the ParameterMapping table to its canonical path.
func SaveMapping(configDir string, mapping *shelly.ParameterMapping) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(mapping)
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(configDir, mappingsFile), data)
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// DefinitionPath returns the on-disk path a SKU's capability file
// lives at, for callers that need to check existence (e.g. the
// hand-edited-file guard in Refresh).
func DefinitionPath(configDir, deviceType string) string {
	return filepath.Join(configDir, capabilitiesSubdir, deviceType+".yaml")
}
