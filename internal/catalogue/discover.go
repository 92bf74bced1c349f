package catalogue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/shelly-fleet/control-plane/internal/shelly"
	"github.com/shelly-fleet/control-plane/internal/transport"
)

// gen1ProbeSet is the fixed endpoint list capability discovery walks
// for a Gen1 device.
var gen1ProbeSet = []string{
	"settings",
	"status",
	"settings/relay/0",
	"settings/light/0",
	"settings/roller/0",
	"settings/actions",
	"settings/ap",
	"settings/mqtt",
	"settings/cloud",
	"settings/device",
	"settings/network",
	"settings/login",
	"settings/webhooks",
}

// forcedReadOnly fields are read-only regardless of which endpoint
// they were observed on.
var forcedReadOnly = regexp.MustCompile(`^(mac|fw|ssid|uptime)$|^build_info\.`)

// gen2ComponentProbes is the fixed per-component method list Gen2+
// discovery walks after the three device-wide calls.
var gen2ComponentProbes = []string{
	"Sys.GetStatus",
	"Cloud.GetConfig",
	"MQTT.GetConfig",
	"WiFi.GetConfig",
	"BLE.GetConfig",
	"Script.List",
	"Schedule.List",
}

// gen2Setters maps a GetConfig-family reader to the Setter that owns
// writes for the same API: a fixed getter<->setter table.
var gen2Setters = map[string]string{
	"Shelly.GetConfig": "Shelly.SetConfig",
	"Sys.GetConfig":     "Sys.SetConfig",
	"Cloud.GetConfig":   "Cloud.SetConfig",
	"MQTT.GetConfig":    "MQTT.SetConfig",
	"WiFi.GetConfig":    "WiFi.SetConfig",
	"BLE.GetConfig":     "BLE.SetConfig",
}

// Gen2GetterFor returns the reader method for a Setter API name, the
// inverse of gen2Setters, used by the Engine's read path.
func Gen2GetterFor(setter string) (string, bool) {
	for getter, s := range gen2Setters {
		if s == setter {
			return getter, true
		}
	}
	return "", false
}

// DiscoverGen1 probes a representative Gen1 device and builds a
// CapabilityDefinition from the observed response shapes.
func DiscoverGen1(ctx context.Context, tc *transport.Client, device *shelly.Device) (*shelly.CapabilityDefinition, error) {
	def := &shelly.CapabilityDefinition{
		DeviceType:  device.DeviceType,
		Name:        device.DeviceType,
		Generation:  shelly.Gen1,
		APIs:        map[string]shelly.APIDescriptor{},
		Parameters:  map[string]shelly.ParameterDescriptor{},
		GeneratedAt: time.Now().UTC(),
	}

	if _, _, err := tc.Gen1Call(ctx, device, "shelly", nil); err != nil {
		return nil, fmt.Errorf("catalogue: probe /shelly: %w", err)
	}

	for _, endpoint := range gen1ProbeSet {
		raw, status, err := tc.Gen1Call(ctx, device, endpoint, url.Values{})
		if err != nil || status != 200 {
			continue
		}
		var payload map[string]interface{}
		if err := json.Unmarshal(raw, &payload); err != nil {
			continue
		}
		structure := map[string]string{}
		readOnly := strings.HasPrefix(endpoint, "status")
		flatten("", payload, structure)
		def.APIs[endpoint] = shelly.APIDescriptor{
			Description:       "observed during capability discovery",
			ResponseStructure: structure,
		}
		for path, typ := range structure {
			name := strings.ReplaceAll(path, "/", ".")
			def.Parameters[name] = shelly.ParameterDescriptor{
				Type:          shelly.ParameterType(typ),
				API:           endpoint,
				ParameterPath: path,
				ReadOnly:      readOnly || forcedReadOnly.MatchString(path),
			}
		}
	}
	return def, nil
}

// DiscoverGen2 probes a representative Gen2+ device and builds a
// CapabilityDefinition from its GetConfig/GetStatus responses.
func DiscoverGen2(ctx context.Context, tc *transport.Client, device *shelly.Device) (*shelly.CapabilityDefinition, error) {
	def := &shelly.CapabilityDefinition{
		DeviceType:  device.DeviceType,
		Name:        device.DeviceType,
		Generation:  device.Generation,
		APIs:        map[string]shelly.APIDescriptor{},
		Parameters:  map[string]shelly.ParameterDescriptor{},
		GeneratedAt: time.Now().UTC(),
	}

	if _, _, err := tc.Gen2Call(ctx, device, "Shelly.GetDeviceInfo", nil); err != nil {
		return nil, fmt.Errorf("catalogue: probe Shelly.GetDeviceInfo: %w", err)
	}

	configRaw, rpcErr, err := tc.Gen2Call(ctx, device, "Shelly.GetConfig", nil)
	if err == nil && rpcErr == nil {
		harvestGen2Config(def, "Shelly.GetConfig", "Shelly.SetConfig", configRaw)
	}

	if statusRaw, rpcErr, err := tc.Gen2Call(ctx, device, "Shelly.GetStatus", nil); err == nil && rpcErr == nil {
		structure := map[string]string{}
		var payload map[string]interface{}
		if json.Unmarshal(statusRaw, &payload) == nil {
			flatten("", payload, structure)
		}
		def.APIs["Shelly.GetStatus"] = shelly.APIDescriptor{Description: "observed during capability discovery", ResponseStructure: structure}
	}

	for _, method := range gen2ComponentProbes {
		raw, rpcErr, err := tc.Gen2Call(ctx, device, method, nil)
		if err != nil || rpcErr != nil {
			continue
		}
		structure := map[string]string{}
		var payload map[string]interface{}
		if json.Unmarshal(raw, &payload) == nil {
			flatten("", payload, structure)
		}
		def.APIs[method] = shelly.APIDescriptor{Description: "observed during capability discovery", ResponseStructure: structure}
		if setter, ok := gen2Setters[method]; ok {
			harvestGen2Config(def, method, setter, raw)
		}
	}

	return def, nil
}

// harvestGen2Config records one GetConfig-family response's fields as
// parameters whose api is the corresponding Setter and whose component
// is the top-level config key.
func harvestGen2Config(def *shelly.CapabilityDefinition, getter, setter string, raw json.RawMessage) {
	def.APIs[getter] = shelly.APIDescriptor{Description: "observed during capability discovery"}
	var payload map[string]interface{}
	if json.Unmarshal(raw, &payload) != nil {
		return
	}
	for component, value := range payload {
		obj, ok := value.(map[string]interface{})
		if !ok {
			continue
		}
		structure := map[string]string{}
		flatten("", obj, structure)
		for path, typ := range structure {
			name := component + "." + strings.ReplaceAll(path, "/", ".")
			def.Parameters[name] = shelly.ParameterDescriptor{
				Type:          shelly.ParameterType(typ),
				API:           setter,
				Component:     component,
				ParameterPath: path,
			}
		}
	}
}

// flatten walks a decoded JSON object recursively, recording each leaf
// field's dotted path and inferred ParameterType. Arrays are recorded
// as a single "array" leaf rather than descended into (no reflection,
// sum-type navigation only).
func flatten(prefix string, value map[string]interface{}, out map[string]string) {
	for k, v := range value {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch t := v.(type) {
		case map[string]interface{}:
			flatten(path, t, out)
		case []interface{}:
			out[path] = "array"
		case bool:
			out[path] = "boolean"
		case float64:
			if t == float64(int64(t)) {
				out[path] = "integer"
			} else {
				out[path] = "float"
			}
		case string:
			out[path] = "string"
		case nil:
			out[path] = "null"
		default:
			out[path] = "string"
		}
	}
}
