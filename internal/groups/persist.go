package groups

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shelly-fleet/control-plane/internal/shelly"
)

// EnvOverride is the environment variable that overrides the groups
// directory, used by tests to isolate runs.
const EnvOverride = "SHELLY_GROUPS_DIR"

// ResolveDir returns the groups directory to use: the env override if
// set, else the configured default.
func ResolveDir(configured string) string {
	if dir := os.Getenv(EnvOverride); dir != "" {
		return dir
	}
	return configured
}

// Load reads every *.yaml file in dir into a fresh Store. A missing
// directory yields an empty Store, not an error.
func Load(dir string) (*Store, error) {
	s := New()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("groups: read %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("groups: read %s: %w", e.Name(), err)
		}
		var g shelly.Group
		if err := yaml.Unmarshal(data, &g); err != nil {
			return nil, fmt.Errorf("groups: parse %s: %w", e.Name(), err)
		}
		s.put(&g)
	}
	return s, nil
}

// Save writes one group to its canonical path, atomically.
func Save(dir string, g *shelly.Group) error {
	if g.Name == shelly.AllDevicesGroup {
		return ErrReservedName
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("groups: mkdir %s: %w", dir, err)
	}
	data, err := yaml.Marshal(g)
	if err != nil {
		return fmt.Errorf("groups: marshal %s: %w", g.Name, err)
	}
	path := filepath.Join(dir, g.Name+".yaml")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("groups: write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

// Delete removes a group's on-disk file.
func Delete(dir, name string) error {
	path := filepath.Join(dir, name+".yaml")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("groups: delete %s: %w", path, err)
	}
	return nil
}

// Rename writes g (already renamed in the Store, so g.Name is the new
// name) to its new path and then deletes the old one, in that order,
// so a crash between the two steps leaves the new file on disk rather
// than losing the group entirely. oldName must be the file's name
// before the rename. A no-op rename (oldName == g.Name) only saves.
func Rename(dir, oldName string, g *shelly.Group) error {
	if err := Save(dir, g); err != nil {
		return err
	}
	if oldName == g.Name {
		return nil
	}
	return Delete(dir, oldName)
}
