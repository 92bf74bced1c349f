package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/shelly-fleet/control-plane/internal/shelly"
	"github.com/shelly-fleet/control-plane/internal/transport"
)

// Dialect is the single polymorphic seam between the two wire
// families: the Engine itself is one code path parameterized by
// whichever Dialect a device's generation selects.
type Dialect interface {
	// Identify re-probes a device's own self-description.
	Identify(ctx context.Context, device *shelly.Device) (map[string]interface{}, error)
	// ReadConfig fetches the decoded root payload for a getter
	// call (api for Gen1, method+params for Gen2+).
	ReadConfig(ctx context.Context, device *shelly.Device, api string, params interface{}) (map[string]interface{}, error)
	// WriteConfig issues the write and reports whether the device
	// flagged a restart as required.
	WriteConfig(ctx context.Context, device *shelly.Device, api string, payload interface{}) (restartRequired bool, err error)
	// Control issues a named control-verb call built by verbs.go.
	Control(ctx context.Context, device *shelly.Device, call interface{}) (raw map[string]interface{}, restartRequired bool, err error)
	// Reboot issues the dialect's reboot call.
	Reboot(ctx context.Context, device *shelly.Device) error
	// Update issues the dialect's firmware-update call.
	Update(ctx context.Context, device *shelly.Device) error
}

// gen1Call is the Gen1 shape passed to Control: a GET subpath plus
// query parameters.
type gen1Call struct {
	subpath string
	query   url.Values
}

// gen2Call is the Gen2+ shape passed to Control: an RPC method plus
// its params object.
type gen2Call struct {
	method string
	params interface{}
}

// gen1Dialect speaks legacy REST: GET with query-string writes.
type gen1Dialect struct {
	t *transport.Client
}

func (d *gen1Dialect) Identify(ctx context.Context, device *shelly.Device) (map[string]interface{}, error) {
	raw, _, err := d.t.Gen1Call(ctx, device, "shelly", nil)
	if err != nil {
		return nil, err
	}
	return decodeObject(raw)
}

func (d *gen1Dialect) ReadConfig(ctx context.Context, device *shelly.Device, api string, _ interface{}) (map[string]interface{}, error) {
	raw, _, err := d.t.Gen1Call(ctx, device, api, nil)
	if err != nil {
		return nil, err
	}
	return decodeObject(raw)
}

func (d *gen1Dialect) WriteConfig(ctx context.Context, device *shelly.Device, api string, payload interface{}) (bool, error) {
	query, ok := payload.(url.Values)
	if !ok {
		return false, fmt.Errorf("engine: gen1 write payload must be url.Values, got %T", payload)
	}
	raw, _, err := d.t.Gen1Call(ctx, device, api, query)
	if err != nil {
		return false, err
	}
	obj, err := decodeObject(raw)
	if err != nil {
		return false, nil
	}
	if errField, ok := obj["error"]; ok && errField != nil {
		return false, &DeviceError{Message: fmt.Sprintf("%v", errField)}
	}
	return restartRequiredFlag(obj), nil
}

func (d *gen1Dialect) Control(ctx context.Context, device *shelly.Device, call interface{}) (map[string]interface{}, bool, error) {
	c, ok := call.(gen1Call)
	if !ok {
		return nil, false, fmt.Errorf("engine: gen1 control call has wrong shape %T", call)
	}
	raw, _, err := d.t.Gen1Call(ctx, device, c.subpath, c.query)
	if err != nil {
		return nil, false, err
	}
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, false, nil
	}
	if errField, ok := obj["error"]; ok && errField != nil {
		return obj, false, &DeviceError{Message: fmt.Sprintf("%v", errField)}
	}
	return obj, restartRequiredFlag(obj), nil
}

func (d *gen1Dialect) Reboot(ctx context.Context, device *shelly.Device) error {
	_, _, err := d.t.Gen1Call(ctx, device, "reboot", nil)
	return err
}

func (d *gen1Dialect) Update(ctx context.Context, device *shelly.Device) error {
	_, _, err := d.t.Gen1Call(ctx, device, "ota", url.Values{"update": []string{"true"}})
	return err
}

// gen2Dialect speaks JSON-RPC over POST /rpc.
type gen2Dialect struct {
	t *transport.Client
}

func (d *gen2Dialect) Identify(ctx context.Context, device *shelly.Device) (map[string]interface{}, error) {
	raw, rpcErr, err := d.t.Gen2Call(ctx, device, "Shelly.GetDeviceInfo", map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	if rpcErr != nil {
		return nil, &DeviceError{Code: rpcErr.Code, Message: rpcErr.Message}
	}
	return decodeObject(raw)
}

func (d *gen2Dialect) ReadConfig(ctx context.Context, device *shelly.Device, method string, params interface{}) (map[string]interface{}, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	raw, rpcErr, err := d.t.Gen2Call(ctx, device, method, params)
	if err != nil {
		return nil, err
	}
	if rpcErr != nil {
		return nil, &DeviceError{Code: rpcErr.Code, Message: rpcErr.Message}
	}
	return decodeObject(raw)
}

func (d *gen2Dialect) WriteConfig(ctx context.Context, device *shelly.Device, method string, payload interface{}) (bool, error) {
	raw, rpcErr, err := d.t.Gen2Call(ctx, device, method, payload)
	if err != nil {
		return false, err
	}
	if rpcErr != nil {
		return false, &DeviceError{Code: rpcErr.Code, Message: rpcErr.Message}
	}
	obj, err := decodeObject(raw)
	if err != nil {
		return false, nil
	}
	return restartRequiredFlag(obj), nil
}

func (d *gen2Dialect) Control(ctx context.Context, device *shelly.Device, call interface{}) (map[string]interface{}, bool, error) {
	c, ok := call.(gen2Call)
	if !ok {
		return nil, false, fmt.Errorf("engine: gen2 control call has wrong shape %T", call)
	}
	raw, rpcErr, err := d.t.Gen2Call(ctx, device, c.method, c.params)
	if err != nil {
		return nil, false, err
	}
	if rpcErr != nil {
		return nil, false, &DeviceError{Code: rpcErr.Code, Message: rpcErr.Message}
	}
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, false, nil
	}
	return obj, restartRequiredFlag(obj), nil
}

func (d *gen2Dialect) Reboot(ctx context.Context, device *shelly.Device) error {
	_, rpcErr, err := d.t.Gen2Call(ctx, device, "Shelly.Reboot", map[string]interface{}{})
	if err != nil {
		return err
	}
	if rpcErr != nil {
		return &DeviceError{Code: rpcErr.Code, Message: rpcErr.Message}
	}
	return nil
}

func (d *gen2Dialect) Update(ctx context.Context, device *shelly.Device) error {
	_, rpcErr, err := d.t.Gen2Call(ctx, device, "Shelly.Update", map[string]interface{}{"stage": "stable"})
	if err != nil {
		return err
	}
	if rpcErr != nil {
		return &DeviceError{Code: rpcErr.Code, Message: rpcErr.Message}
	}
	return nil
}

// dialectFor selects the Dialect for a device's generation.
func dialectFor(t *transport.Client, gen shelly.Generation) Dialect {
	if gen.IsGen1() {
		return &gen1Dialect{t: t}
	}
	return &gen2Dialect{t: t}
}

// DeviceError wraps a protocol-level failure reported by the device
// itself (a Gen1 JSON "error" field or a Gen2 RPC error object),
// distinct from a transport failure. Its Code/Message are surfaced
// verbatim on OperationResult.
type DeviceError struct {
	Code    int
	Message string
}

func (e *DeviceError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("device error %d: %s", e.Code, e.Message)
	}
	return "device error: " + e.Message
}

func decodeObject(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// restartRequiredFlag inspects a decoded response for the
// "restart_required" flag Gen2+ write calls may carry.
func restartRequiredFlag(obj map[string]interface{}) bool {
	v, ok := obj["restart_required"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// splitComponent parses a descriptor's component key into its name
// and, if present, its numeric instance id ("switch:0" -> "switch",
// 0, true; "device" -> "device", 0, false).
func splitComponent(component string) (name string, id int, indexed bool) {
	idx := strings.IndexByte(component, ':')
	if idx < 0 {
		return component, 0, false
	}
	n, err := strconv.Atoi(component[idx+1:])
	if err != nil {
		return component[:idx], 0, false
	}
	return component[:idx], n, true
}
