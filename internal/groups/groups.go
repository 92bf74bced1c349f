// Package groups holds the user-managed set of device groups: named,
// persisted collections of device MACs, plus the reserved
// "all-devices" pseudo-group resolved dynamically from the Registry.
package groups

import (
	"fmt"
	"strings"
	"sync"

	"github.com/shelly-fleet/control-plane/internal/shelly"
)

// Store is the process-wide group index, one entry per on-disk group
// file plus the reserved AllDevices name handled specially by callers.
type Store struct {
	mu     sync.RWMutex
	groups map[string]*shelly.Group
}

// New returns an empty Store; Load populates it from disk.
func New() *Store {
	return &Store{groups: map[string]*shelly.Group{}}
}

// ErrReservedName is returned when a caller tries to create, rename,
// or delete the reserved "all-devices" group.
var ErrReservedName = fmt.Errorf("groups: %q is reserved and cannot be persisted", shelly.AllDevicesGroup)

// ErrUnknownGroup is returned by operations on a group name the Store
// has never seen.
type ErrUnknownGroup struct{ Name string }

func (e *ErrUnknownGroup) Error() string { return fmt.Sprintf("groups: unknown group %q", e.Name) }

// ErrDuplicateName is returned by Create when the sanitized name
// collides with an existing group.
type ErrDuplicateName struct{ Name string }

func (e *ErrDuplicateName) Error() string { return fmt.Sprintf("groups: group %q already exists", e.Name) }

// SanitizeName replaces filesystem-unsafe characters with "_" so a
// group name is always safe to use as a file name.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Create adds a new group under its sanitized name. It fails if the
// name is the reserved all-devices name or already exists.
func (s *Store) Create(g *shelly.Group) (*shelly.Group, error) {
	name := SanitizeName(g.Name)
	if name == shelly.AllDevicesGroup {
		return nil, ErrReservedName
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[name]; ok {
		return nil, &ErrDuplicateName{Name: name}
	}
	copied := *g
	copied.Name = name
	s.groups[name] = &copied
	out := copied
	return &out, nil
}

// Get returns a copy of a named group, or false if unknown. The
// reserved name never resolves here; callers special-case it before
// calling Get.
func (s *Store) Get(name string) (*shelly.Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[name]
	if !ok {
		return nil, false
	}
	copied := *g
	return &copied, true
}

// All returns every persisted group (excluding all-devices, which is
// never stored).
func (s *Store) All() []*shelly.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*shelly.Group, 0, len(s.groups))
	for _, g := range s.groups {
		copied := *g
		out = append(out, &copied)
	}
	return out
}

// Update replaces a group's mutable fields (description, tags, config)
// in place, preserving device_ids unless the caller's mutate sets them.
func (s *Store) Update(name string, mutate func(*shelly.Group)) (*shelly.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[name]
	if !ok {
		return nil, &ErrUnknownGroup{Name: name}
	}
	mutate(g)
	copied := *g
	return &copied, nil
}

// Rename relocates a group from oldName to newName, sanitizing newName
// and rejecting it if it collides with an existing group or the
// reserved all-devices name. The map key and the group's own Name
// field move together, so a subsequent Save/Delete pair against the
// returned group never desynchronizes file name from map key.
func (s *Store) Rename(oldName, newName string) (*shelly.Group, error) {
	sanitized := SanitizeName(newName)
	if sanitized == shelly.AllDevicesGroup {
		return nil, ErrReservedName
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[oldName]
	if !ok {
		return nil, &ErrUnknownGroup{Name: oldName}
	}
	if sanitized == oldName {
		copied := *g
		return &copied, nil
	}
	if _, ok := s.groups[sanitized]; ok {
		return nil, &ErrDuplicateName{Name: sanitized}
	}

	g.Name = sanitized
	delete(s.groups, oldName)
	s.groups[sanitized] = g
	copied := *g
	return &copied, nil
}

// AddDevice appends a device id to a group's member list if not
// already present.
func (s *Store) AddDevice(name, deviceID string) (*shelly.Group, error) {
	return s.Update(name, func(g *shelly.Group) {
		for _, id := range g.DeviceIDs {
			if id == deviceID {
				return
			}
		}
		g.DeviceIDs = append(g.DeviceIDs, deviceID)
	})
}

// RemoveDevice removes a device id from a group's member list. A
// device absent from the registry is not a reason to remove it from a
// group (invariant) — this only reacts to an explicit
// group-membership change, never to discovery.
func (s *Store) RemoveDevice(name, deviceID string) (*shelly.Group, error) {
	return s.Update(name, func(g *shelly.Group) {
		out := g.DeviceIDs[:0]
		for _, id := range g.DeviceIDs {
			if id != deviceID {
				out = append(out, id)
			}
		}
		g.DeviceIDs = out
	})
}

// Delete removes a group. It refuses to delete the reserved name
// (which was never stored in the first place).
func (s *Store) Delete(name string) error {
	if name == shelly.AllDevicesGroup {
		return ErrReservedName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[name]; !ok {
		return &ErrUnknownGroup{Name: name}
	}
	delete(s.groups, name)
	return nil
}

// put inserts a group as-is; used by Load to populate the Store
// without re-running Create's reserved-name/duplicate checks against
// files already known to be valid.
func (s *Store) put(g *shelly.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.Name] = g
}
