// Package groupexec is the Group Executor (C6): it resolves a group
// name to its member devices, fans a logical request out across them
// with bounded concurrency, and aggregates per-device results while
// enforcing the fleet's one safety interlock against destructive
// all-devices calls. Grounded on the errgroup.SetLimit batch-fan-out
// idiom (tj-smith47/shelly-cli's internal/cmd/batch/command),
// generalized from a flat CLI command to three request shapes:
// control verbs, single-parameter writes, and bulk parameter writes.
package groupexec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shelly-fleet/control-plane/internal/engine"
	"github.com/shelly-fleet/control-plane/internal/groups"
	"github.com/shelly-fleet/control-plane/internal/logging"
	"github.com/shelly-fleet/control-plane/internal/registry"
	"github.com/shelly-fleet/control-plane/internal/shelly"
)

// DefaultConcurrency is the fan-out ceiling used when no Option overrides it.
const DefaultConcurrency = 16

// DefaultPerDeviceTimeout bounds one device's share of a group call;
// an earlier deadline on the caller's context still applies.
const DefaultPerDeviceTimeout = 10 * time.Second

// Executor fans a logical request out across a group's members.
type Executor struct {
	registry    *registry.Registry
	groups      *groups.Store
	engine      *engine.Engine
	logger      *logging.Logger
	concurrency int
	perDevice   time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithConcurrency overrides the fan-out ceiling.
func WithConcurrency(n int) Option {
	return func(x *Executor) {
		if n > 0 {
			x.concurrency = n
		}
	}
}

// WithPerDeviceTimeout overrides the per-device operation timeout.
func WithPerDeviceTimeout(d time.Duration) Option {
	return func(x *Executor) {
		if d > 0 {
			x.perDevice = d
		}
	}
}

// WithLogger overrides the Executor's logger.
func WithLogger(l *logging.Logger) Option { return func(x *Executor) { x.logger = l } }

// New builds an Executor. Registry and Engine must already exist by
// the time the Executor is built.
func New(reg *registry.Registry, groupStore *groups.Store, eng *engine.Engine, opts ...Option) *Executor {
	x := &Executor{
		registry:    reg,
		groups:      groupStore,
		engine:      eng,
		logger:      logging.GetDefault(),
		concurrency: DefaultConcurrency,
		perDevice:   DefaultPerDeviceTimeout,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// member is one resolved group slot: either a live Device or a MAC
// the Registry no longer knows about.
type member struct {
	id      string
	device  *shelly.Device
	present bool
}

// resolveMembers returns groupName's members in the group's own
// (stable, caller-visible) order. The reserved all-devices name
// resolves dynamically to the live Registry snapshot
func (x *Executor) resolveMembers(groupName string) ([]member, *shelly.FleetError) {
	if groupName == shelly.AllDevicesGroup {
		devices := x.registry.All()
		out := make([]member, 0, len(devices))
		for _, d := range devices {
			out = append(out, member{id: d.ID, device: d, present: true})
		}
		return out, nil
	}

	g, ok := x.groups.Get(groupName)
	if !ok {
		return nil, &shelly.FleetError{Kind: shelly.ErrInternal, Message: "unknown group " + groupName}
	}
	out := make([]member, 0, len(g.DeviceIDs))
	for _, id := range g.DeviceIDs {
		d, ok := x.registry.Get(id)
		out = append(out, member{id: id, device: d, present: ok})
	}
	return out, nil
}

// dispatch fans leaf across members with the Executor's concurrency
// ceiling, preserving input order in the returned results regardless
// of completion order.
func (x *Executor) dispatch(ctx context.Context, members []member, leaf func(ctx context.Context, device *shelly.Device) shelly.OperationResult) shelly.GroupResult {
	results := make([]shelly.OperationResult, len(members))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.concurrency)

	for i, m := range members {
		i, m := i, m
		if !m.present {
			results[i] = shelly.OperationResult{
				DeviceID:    m.id,
				Success:     false,
				AttemptedAt: time.Now().UTC(),
				ErrorKind:   shelly.ErrUnknownDevice,
				ErrorMessage: "group member " + m.id + " is not in the registry",
			}
			continue
		}
		g.Go(func() error {
			deviceCtx, cancel := context.WithTimeout(gctx, x.perDevice)
			defer cancel()
			results[i] = leaf(deviceCtx, m.device)
			return nil
		})
	}
	_ = g.Wait()

	result := shelly.GroupResult{Results: results}
	result.Tally()
	return result
}

// Operate fans a control verb out across groupName's members. The
// all-devices safety interlock refuses a destructive verb without
// confirm=true, reported as a fleet-level confirmation-required
// error with zero device I/O.
func (x *Executor) Operate(ctx context.Context, groupName, verb string, args map[string]interface{}, confirm bool) (shelly.GroupResult, *shelly.FleetError) {
	if groupName == shelly.AllDevicesGroup && engine.DestructiveVerbs(verb) && !confirm {
		return shelly.GroupResult{}, &shelly.FleetError{Kind: shelly.ErrConfirmationRequired, Message: "verb " + verb + " against all-devices requires confirm=true"}
	}

	members, ferr := x.resolveMembers(groupName)
	if ferr != nil {
		return shelly.GroupResult{}, ferr
	}

	return x.dispatch(ctx, members, func(ctx context.Context, device *shelly.Device) shelly.OperationResult {
		return x.engine.Operate(ctx, device.ID, verb, args)
	}), nil
}

// SetParameter fans a logical parameter write out across groupName's
// members. A write to a wifi.* logical name against all-devices is
// destructive and subject to the same interlock as Operate.
func (x *Executor) SetParameter(ctx context.Context, groupName, logicalName string, value interface{}, opts engine.SetOptions, confirm bool) (shelly.GroupResult, *shelly.FleetError) {
	if groupName == shelly.AllDevicesGroup && engine.DestructiveParameterWrite(logicalName) && !confirm {
		return shelly.GroupResult{}, &shelly.FleetError{Kind: shelly.ErrConfirmationRequired, Message: "write to " + logicalName + " against all-devices requires confirm=true"}
	}

	members, ferr := x.resolveMembers(groupName)
	if ferr != nil {
		return shelly.GroupResult{}, ferr
	}

	return x.dispatch(ctx, members, func(ctx context.Context, device *shelly.Device) shelly.OperationResult {
		return x.engine.Set(ctx, device.ID, logicalName, value, opts)
	}), nil
}

// GetParameter fans a logical parameter read out across groupName's
// members. Reads are never destructive; the interlock never applies.
func (x *Executor) GetParameter(ctx context.Context, groupName, logicalName string) (shelly.GroupResult, *shelly.FleetError) {
	members, ferr := x.resolveMembers(groupName)
	if ferr != nil {
		return shelly.GroupResult{}, ferr
	}

	return x.dispatch(ctx, members, func(ctx context.Context, device *shelly.Device) shelly.OperationResult {
		start := time.Now()
		value, _, err := x.engine.Get(ctx, device.ID, logicalName)
		result := shelly.OperationResult{DeviceID: device.ID, AttemptedAt: start, Duration: time.Since(start)}
		if err != nil {
			result.ErrorKind, result.ErrorMessage = classifyReadErr(err)
			return result
		}
		result.Success = true
		result.ResponseSummary = summarizeValue(value)
		return result
	}), nil
}

// ApplyBulk fans a bulk parameter-set out across groupName's members,
// collapsing each device's per-parameter results (engine.Apply) into
// one OperationResult per device: success only if every parameter
// succeeded.
func (x *Executor) ApplyBulk(ctx context.Context, groupName string, names []string, values map[string]interface{}, opts engine.SetOptions, confirm bool) (shelly.GroupResult, *shelly.FleetError) {
	destructive := false
	for _, name := range names {
		if engine.DestructiveParameterWrite(name) {
			destructive = true
			break
		}
	}
	if groupName == shelly.AllDevicesGroup && destructive && !confirm {
		return shelly.GroupResult{}, &shelly.FleetError{Kind: shelly.ErrConfirmationRequired, Message: "bulk apply touching wifi.* against all-devices requires confirm=true"}
	}

	members, ferr := x.resolveMembers(groupName)
	if ferr != nil {
		return shelly.GroupResult{}, ferr
	}

	return x.dispatch(ctx, members, func(ctx context.Context, device *shelly.Device) shelly.OperationResult {
		sub := x.engine.Apply(ctx, device.ID, names, values, opts)
		return collapseApplyResult(device.ID, sub)
	}), nil
}

func collapseApplyResult(deviceID string, sub shelly.GroupResult) shelly.OperationResult {
	result := shelly.OperationResult{DeviceID: deviceID, AttemptedAt: time.Now().UTC(), Success: sub.FailureCount == 0 && len(sub.Results) > 0}
	for _, r := range sub.Results {
		result.Duration += r.Duration
		if r.RebootRequired {
			result.RebootRequired = true
		}
		if !r.Success && result.ErrorKind == "" {
			result.ErrorKind = r.ErrorKind
			result.ErrorMessage = r.RequestSummary + ": " + r.ErrorMessage
		}
	}
	return result
}

func classifyReadErr(err error) (shelly.ErrorKind, string) {
	var unsupported *engine.UnsupportedParameterError
	if errors.As(err, &unsupported) {
		return shelly.ErrUnsupportedParameter, err.Error()
	}
	var unreachable *engine.TransportUnreachableError
	if errors.As(err, &unreachable) {
		return shelly.ErrUnreachable, err.Error()
	}
	var unknown *registry.ErrUnknownDevice
	if errors.As(err, &unknown) {
		return shelly.ErrUnknownDevice, err.Error()
	}
	return shelly.ErrInternal, err.Error()
}

func summarizeValue(value interface{}) string {
	if value == nil {
		return "null"
	}
	switch v := value.(type) {
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", v)
	}
}
