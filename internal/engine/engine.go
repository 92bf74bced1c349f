// Package engine is the Parameter/Operation Engine (C5), the semantic
// heart of the control plane: it resolves a logical parameter name or
// control verb against a device's CapabilityDefinition or the
// process-wide ParameterMapping table, speaks whichever wire dialect
// (Gen1 REST or Gen2+ JSON-RPC) the device's generation calls for, and
// reports a typed OperationResult. No caller-facing code depends on a
// device's generation directly; that distinction lives entirely
// behind the Dialect seam.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/shelly-fleet/control-plane/internal/catalogue"
	"github.com/shelly-fleet/control-plane/internal/jsonpath"
	"github.com/shelly-fleet/control-plane/internal/logging"
	"github.com/shelly-fleet/control-plane/internal/registry"
	"github.com/shelly-fleet/control-plane/internal/shelly"
	"github.com/shelly-fleet/control-plane/internal/transport"
)

// Engine wires together the Transport, Catalogue, and Registry behind
// the get/set/operate/supported contract surface. It holds no
// per-device state of its own; everything durable lives in the
// Catalogue or Registry.
type Engine struct {
	transport   *transport.Client
	catalogue   *catalogue.Catalogue
	registry    *registry.Registry
	logger      *logging.Logger
	rebootGrace time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithRebootGrace overrides the default post-reboot wait.
func WithRebootGrace(d time.Duration) Option { return func(e *Engine) { e.rebootGrace = d } }

// WithLogger overrides the Engine's logger.
func WithLogger(l *logging.Logger) Option { return func(e *Engine) { e.logger = l } }

// New builds an Engine. Catalogue and Registry are built first and
// passed in here.
func New(t *transport.Client, cat *catalogue.Catalogue, reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{
		transport:   t,
		catalogue:   cat,
		registry:    reg,
		logger:      logging.GetDefault(),
		rebootGrace: DefaultRebootGrace,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetOptions carries the caller's reboot preference for a write.
type SetOptions struct {
	RebootIfNeeded bool
}

// UpdateOptions controls whether update_firmware waits for the
// device to finish applying an update. This implementation defaults
// to "dispatch and return" and exposes polling as an explicit opt-in.
type UpdateOptions struct {
	WaitForCompletion bool
	PollInterval      time.Duration
	PollTimeout       time.Duration
}

// SupportedSet is the answer to the `supported` contract.
type SupportedSet struct {
	Parameters []string
	Operations []string
}

func (e *Engine) deviceOrErr(deviceID string) (*shelly.Device, error) {
	d, ok := e.registry.Get(deviceID)
	if !ok {
		return nil, &registry.ErrUnknownDevice{ID: deviceID}
	}
	return d, nil
}

// Get resolves and reads logical parameter name on deviceID.
func (e *Engine) Get(ctx context.Context, deviceID, logicalName string) (value interface{}, desc *shelly.ParameterDescriptor, err error) {
	device, derr := e.deviceOrErr(deviceID)
	if derr != nil {
		return nil, nil, derr
	}
	if !device.Reachable() {
		return nil, nil, &TransportUnreachableError{DeviceID: deviceID}
	}

	desc, err = resolveDescriptor(e.catalogue, device, logicalName)
	if err != nil {
		return nil, nil, err
	}

	dialect := dialectFor(e.transport, device.Generation)
	e.registry.WithDeviceLock(deviceID, func() {
		value, err = readValue(ctx, dialect, device, desc)
	})
	return value, desc, err
}

// Set resolves and writes logical parameter name on deviceID,
// coordinating a reboot when requested and required.
func (e *Engine) Set(ctx context.Context, deviceID, logicalName string, value interface{}, opts SetOptions) shelly.OperationResult {
	start := time.Now()
	result := shelly.OperationResult{DeviceID: deviceID, AttemptedAt: start, State: shelly.StatePending}

	device, derr := e.deviceOrErr(deviceID)
	if derr != nil {
		return failResult(result, shelly.ErrUnknownDevice, derr, start)
	}
	if !device.Reachable() {
		return failResult(result, shelly.ErrUnreachable, &TransportUnreachableError{DeviceID: deviceID}, start)
	}

	result.State = shelly.StateResolving
	desc, err := resolveDescriptor(e.catalogue, device, logicalName)
	if err != nil {
		return failResult(result, shelly.ErrUnsupportedParameter, err, start)
	}
	if desc.ReadOnly {
		return failResult(result, shelly.ErrUnsupportedParameter, &ReadOnlyParameterError{Name: logicalName}, start)
	}

	coerced, err := coerceForWrite(logicalName, desc, value)
	if err != nil {
		return failResult(result, classifyCoercionError(err), err, start)
	}
	if desc.Type == shelly.TypeInteger || desc.Type == shelly.TypeFloat {
		// Compare with the value normalized without bounds, so a mere
		// int->int64 conversion is not reported as clamping.
		unbounded := *desc
		unbounded.Min, unbounded.Max = nil, nil
		if normalized, _ := coerceForWrite(logicalName, &unbounded, value); normalized != coerced {
			result.Warning = "clamped"
		}
	}

	dialect := dialectFor(e.transport, device.Generation)

	var restartRequired bool
	var writeErr error
	result.State = shelly.StateDispatching
	e.registry.WithDeviceLock(deviceID, func() {
		result.State = shelly.StateAwaitingResponse
		restartRequired, writeErr = writeValue(ctx, dialect, device, desc, coerced)
	})
	if writeErr != nil {
		return failResult(result, classifyDeviceErr(ctx, writeErr), writeErr, start)
	}

	result.Success = true
	result.State = shelly.StateSucceeded
	result.Duration = time.Since(start)
	result.RebootRequired = restartRequired || desc.RequiresRestart

	if result.RebootRequired && opts.RebootIfNeeded {
		e.coordinateReboot(ctx, dialect, device, &result)
	} else {
		result.State = shelly.StateFinalized
	}
	return result
}

// Operate dispatches a named control verb against deviceID.
func (e *Engine) Operate(ctx context.Context, deviceID, verb string, args map[string]interface{}) shelly.OperationResult {
	start := time.Now()
	result := shelly.OperationResult{DeviceID: deviceID, AttemptedAt: start, State: shelly.StatePending}

	device, derr := e.deviceOrErr(deviceID)
	if derr != nil {
		return failResult(result, shelly.ErrUnknownDevice, derr, start)
	}
	if !device.Reachable() {
		return failResult(result, shelly.ErrUnreachable, &TransportUnreachableError{DeviceID: deviceID}, start)
	}

	result.State = shelly.StateResolving
	recipe, ok := VerbTable[verb]
	if !ok {
		return failResult(result, shelly.ErrUnsupportedParameter, errUnknownVerb(verb), start)
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	dialect := dialectFor(e.transport, device.Generation)

	var call interface{}
	var err error
	if device.Generation.IsGen1() {
		subpath, query, buildErr := recipe.Gen1(args)
		err = buildErr
		call = gen1Call{subpath: subpath, query: query}
	} else {
		method, params, buildErr := recipe.Gen2(args)
		err = buildErr
		call = gen2Call{method: method, params: params}
	}
	if err != nil {
		return failResult(result, shelly.ErrInternal, err, start)
	}

	var raw map[string]interface{}
	var restartRequired bool
	result.State = shelly.StateDispatching
	e.registry.WithDeviceLock(deviceID, func() {
		result.State = shelly.StateAwaitingResponse
		raw, restartRequired, err = dialect.Control(ctx, device, call)
	})
	if err != nil {
		return failResult(result, classifyDeviceErr(ctx, err), err, start)
	}

	result.Success = true
	result.State = shelly.StateSucceeded
	result.Duration = time.Since(start)
	result.RebootRequired = restartRequired
	result.ResponseSummary = summarizeVerbResponse(verb, raw)
	result.State = shelly.StateFinalized
	return result
}

// Supported answers the `supported` contract for deviceID.
func (e *Engine) Supported(deviceID string) (*SupportedSet, error) {
	device, err := e.deviceOrErr(deviceID)
	if err != nil {
		return nil, err
	}

	set := &SupportedSet{}
	if def, ok := e.catalogue.Resolve(device); ok {
		for name := range def.Parameters {
			set.Parameters = append(set.Parameters, name)
		}
	}
	mapping := e.catalogue.Mapping()
	for name, entry := range mapping.Entries {
		if _, ok := descriptorFromMapping(entry, device.Generation); ok {
			set.Parameters = append(set.Parameters, name)
		}
	}
	for verb := range VerbTable {
		set.Operations = append(set.Operations, verb)
	}
	return set, nil
}

// ReadOnlyParameterError is returned when Set targets a parameter
// whose descriptor declares read_only.
type ReadOnlyParameterError struct{ Name string }

func (e *ReadOnlyParameterError) Error() string {
	return "engine: parameter " + e.Name + " is read-only"
}

func errUnknownVerb(verb string) error {
	return &UnsupportedParameterError{Name: verb}
}

// TransportUnreachableError reports a known device with no current IP
// address; the Engine fails fast rather than attempting I/O.
type TransportUnreachableError struct{ DeviceID string }

func (e *TransportUnreachableError) Error() string {
	return "engine: device " + e.DeviceID + " has no known IP address"
}

func classifyCoercionError(err error) shelly.ErrorKind {
	var mismatch *TypeMismatchError
	if errors.As(err, &mismatch) {
		return shelly.ErrTypeMismatch
	}
	return shelly.ErrInternal
}

func classifyDeviceErr(ctx context.Context, err error) shelly.ErrorKind {
	var deviceErr *DeviceError
	if errors.As(err, &deviceErr) {
		return shelly.ErrDeviceError
	}
	var transportErr *transport.TransportError
	if errors.As(err, &transportErr) {
		return transportErr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return shelly.ErrCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return shelly.ErrTimeout
	}
	var missing *jsonpath.ErrMissing
	if errors.As(err, &missing) {
		return shelly.ErrPathMissing
	}
	return shelly.ErrInternal
}

func failResult(result shelly.OperationResult, kind shelly.ErrorKind, err error, start time.Time) shelly.OperationResult {
	result.Success = false
	result.State = shelly.StateFailed
	result.ErrorKind = kind
	result.ErrorMessage = err.Error()
	result.Duration = time.Since(start)
	return result
}

func summarizeVerbResponse(verb string, raw map[string]interface{}) string {
	if raw == nil {
		return ""
	}
	switch verb {
	case "check_updates":
		if hasUpdate(raw) {
			return "update available"
		}
		return "up to date"
	default:
		return ""
	}
}

// hasUpdate inspects a status/GetStatus payload for a pending stable
// update, handling both the Gen1 and Gen2+ wire shapes.
func hasUpdate(raw map[string]interface{}) bool {
	if update, ok := raw["update"].(map[string]interface{}); ok {
		if v, ok := update["has_update"].(bool); ok {
			return v
		}
	}
	if sys, ok := raw["sys"].(map[string]interface{}); ok {
		if updates, ok := sys["available_updates"].(map[string]interface{}); ok {
			if stable, ok := updates["stable"].(map[string]interface{}); ok {
				_, hasVersion := stable["version"]
				return hasVersion
			}
		}
	}
	return false
}
