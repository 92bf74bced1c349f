package engine

import (
	"context"
	"fmt"

	"github.com/shelly-fleet/control-plane/internal/jsonpath"
	"github.com/shelly-fleet/control-plane/internal/shelly"
)

// gen2Getters is the fixed Setter->Getter table: the mapping is a
// fixed table, not a derived string transform, so a capability author
// can introduce an irregular pair without touching engine code.
var gen2Getters = map[string]string{
	"Sys.SetConfig":    "Sys.GetConfig",
	"Shelly.SetConfig": "Shelly.GetConfig",
	"Switch.SetConfig": "Switch.GetConfig",
	"Light.SetConfig":  "Light.GetConfig",
	"Cover.SetConfig":  "Cover.GetConfig",
	"Cloud.SetConfig":  "Cloud.GetConfig",
	"MQTT.SetConfig":   "MQTT.GetConfig",
	"WiFi.SetConfig":   "WiFi.GetConfig",
	"BLE.SetConfig":    "BLE.GetConfig",
	"Input.SetConfig":  "Input.GetConfig",
}

func getterFor(setter string) (string, error) {
	if getter, ok := gen2Getters[setter]; ok {
		return getter, nil
	}
	return "", fmt.Errorf("engine: no known getter for Gen2 setter %q", setter)
}

// readValue performs the Gen1 or Gen2+ read path and coerces the leaf
// to the descriptor's declared type.
func readValue(ctx context.Context, dialect Dialect, device *shelly.Device, desc *shelly.ParameterDescriptor) (interface{}, error) {
	var root map[string]interface{}
	var err error

	if device.Generation.IsGen1() {
		root, err = dialect.ReadConfig(ctx, device, desc.API, nil)
	} else {
		getter, gerr := getterFor(desc.API)
		if gerr != nil {
			return nil, gerr
		}
		params, id, indexed := componentReadParams(desc.Component)
		if indexed {
			params["id"] = id
		}
		root, err = dialect.ReadConfig(ctx, device, getter, params)
	}
	if err != nil {
		return nil, err
	}

	value := interface{}(root)
	if !device.Generation.IsGen1() && desc.Component != "" {
		name, _, indexed := splitComponent(desc.Component)
		if !indexed {
			v, ok := root[name]
			if !ok {
				return nil, &jsonpath.ErrMissing{Path: desc.ParameterPath, Segment: name}
			}
			value = v
		}
	}

	leaf, err := jsonpath.Get(value, desc.ParameterPath)
	if err != nil {
		return nil, err
	}
	return coerceLeaf(desc.ParameterPath, desc.Type, leaf)
}

func componentReadParams(component string) (map[string]interface{}, int, bool) {
	if component == "" {
		return map[string]interface{}{}, 0, false
	}
	_, id, indexed := splitComponent(component)
	return map[string]interface{}{}, id, indexed
}
