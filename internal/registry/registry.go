// Package registry holds the durable, in-memory device index keyed by
// MAC. It is the single source of truth the Group Executor and the
// external façade read from; Discovery and the Parameter Engine are
// its only writers.
package registry

import (
	"fmt"
	"sync"

	"github.com/shelly-fleet/control-plane/internal/logging"
	"github.com/shelly-fleet/control-plane/internal/shelly"
)

// Registry is the process-wide device index. The zero value is not
// usable; construct with New or Load.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*shelly.Device
	locks   map[string]*sync.Mutex // per-device write serialization

	logger *logging.Logger
}

// New returns an empty Registry.
func New() *Registry {
	return NewWithLogger(logging.GetDefault())
}

// NewWithLogger returns an empty Registry using a custom logger.
func NewWithLogger(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.GetDefault()
	}
	return &Registry{
		devices: map[string]*shelly.Device{},
		locks:   map[string]*sync.Mutex{},
		logger:  logger,
	}
}

// deviceLock returns (creating if necessary) the per-device mutex that
// serializes writers for one MAC.
func (r *Registry) deviceLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// WithDeviceLock runs fn while holding id's per-device mutex, letting
// the Parameter Engine serialize a full read-modify-write network
// round trip (not just the in-memory record mutation) so that a set
// followed by a get on the same device is causal.
func (r *Registry) WithDeviceLock(id string, fn func()) {
	lock := r.deviceLock(id)
	lock.Lock()
	defer lock.Unlock()
	fn()
}

// Get returns a copy of the device record for id, or false if unknown.
// Copying prevents a caller from mutating the stored record outside a
// write path.
func (r *Registry) Get(id string) (*shelly.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, false
	}
	copied := *d
	return &copied, true
}

// All returns a snapshot of every device sorted by ID, so Group
// Executor dispatch order is deterministic. Insertion order is not
// kept.
func (r *Registry) All() []*shelly.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*shelly.Device, 0, len(r.devices))
	for _, d := range r.devices {
		copied := *d
		out = append(out, &copied)
	}
	sortDevicesByID(out)
	return out
}

func sortDevicesByID(devices []*shelly.Device) {
	for i := 1; i < len(devices); i++ {
		for j := i; j > 0 && devices[j-1].ID > devices[j].ID; j-- {
			devices[j-1], devices[j] = devices[j], devices[j-1]
		}
	}
}

// Upsert inserts or updates a device record in the in-memory index,
// serialized per-device. It writes nothing to disk; callers that want
// durability call SaveDevice explicitly.
func (r *Registry) Upsert(device *shelly.Device) {
	if device.ID == "" {
		return
	}
	lock := r.deviceLock(device.ID)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *device
	r.devices[device.ID] = &copied
}

// UpdateFields mutates a subset of fields (name, firmware_version, ...)
// on an existing device under its per-device lock, mirroring the
// Parameter Engine write path. Returns false if the device is unknown.
func (r *Registry) UpdateFields(id string, mutate func(*shelly.Device)) (*shelly.Device, bool) {
	lock := r.deviceLock(id)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, false
	}
	mutate(d)
	copied := *d
	return &copied, true
}

// Delete removes a device from the index. It does not touch its
// on-disk file; callers that want the file removed too also call
// DeletePersisted.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[id]; !ok {
		return false
	}
	delete(r.devices, id)
	return true
}

// Count returns the number of devices currently indexed.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// ErrUnknownDevice is returned by operations that require an existing
// registry entry.
type ErrUnknownDevice struct{ ID string }

func (e *ErrUnknownDevice) Error() string {
	return fmt.Sprintf("registry: unknown device %q", e.ID)
}
