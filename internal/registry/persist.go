package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shelly-fleet/control-plane/internal/logging"
	"github.com/shelly-fleet/control-plane/internal/shelly"
)

// fileName returns the canonical on-disk name for a device record,
// <device_type>_<MAC>.yaml. device_type is sanitized the same way
// Group names are (unsafe characters become "_"), since SKU strings
// can contain characters unsafe for a filename on some platforms.
func fileName(device *shelly.Device) string {
	return sanitizeForFilename(device.DeviceType) + "_" + device.ID + ".yaml"
}

func sanitizeForFilename(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// SaveDevice writes one device's record to dataDir atomically
// (write-to-temp-then-rename).
func SaveDevice(dataDir string, device *shelly.Device) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("registry: mkdir %s: %w", dataDir, err)
	}
	data, err := yaml.Marshal(device)
	if err != nil {
		return fmt.Errorf("registry: marshal %s: %w", device.ID, err)
	}
	path := filepath.Join(dataDir, fileName(device))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("registry: write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

// DeletePersisted removes a device's on-disk file. The file may not
// exist under the exact name a stale in-memory DeviceType would
// produce, so this also scans for any file ending in "_<id>.yaml".
func DeletePersisted(dataDir, id string) error {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	suffix := "_" + id + ".yaml"
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), suffix) {
			if err := os.Remove(filepath.Join(dataDir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load reads every device file in dataDir into a fresh Registry,
// deduplicating by MAC. A duplicate MAC across two files is a warning,
// not an error; the most recently modified file wins.
func Load(dataDir string, logger *logging.Logger) (*Registry, error) {
	r := NewWithLogger(logger)

	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("registry: read %s: %w", dataDir, err)
	}

	type loaded struct {
		device  *shelly.Device
		modTime int64
	}
	best := map[string]loaded{}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dataDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("registry: read %s: %w", path, err)
		}
		var device shelly.Device
		if err := yaml.Unmarshal(data, &device); err != nil {
			return nil, fmt.Errorf("registry: parse %s: %w", path, err)
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("registry: stat %s: %w", path, err)
		}
		mtime := info.ModTime().UnixNano()

		if existing, ok := best[device.ID]; ok {
			r.logger.WithFields(map[string]interface{}{
				"device_id": device.ID,
				"component": "registry",
			}).Warn("duplicate device file for the same MAC; most recently modified wins")
			if mtime <= existing.modTime {
				continue
			}
		}
		best[device.ID] = loaded{device: &device, modTime: mtime}
	}

	for _, l := range best {
		r.devices[l.device.ID] = l.device
	}
	return r, nil
}
