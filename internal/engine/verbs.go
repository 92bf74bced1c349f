package engine

import (
	"fmt"
	"net/url"
	"strconv"
)

// VerbRecipe is one control verb's per-generation wire recipe. Recipes
// live in a data table, not a type hierarchy — adding
// a verb never touches engine.go.
type VerbRecipe struct {
	// Gen1 builds the GET subpath and query for a Gen1 device.
	Gen1 func(args map[string]interface{}) (subpath string, query url.Values, err error)
	// Gen2 builds the RPC method and params for a Gen2+ device.
	Gen2 func(args map[string]interface{}) (method string, params interface{}, err error)
	// RequiresConfirmOnAllDevices flags verbs the Group Executor's
	// safety interlock treats as destructive.
	RequiresConfirmOnAllDevices bool
}

// channel reads an integer "channel" arg, defaulting to 0.
func channel(args map[string]interface{}) (int, error) {
	v, ok := args["channel"]
	if !ok {
		return 0, nil
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		n, err := strconv.Atoi(t)
		return n, err
	default:
		return 0, fmt.Errorf("engine: channel arg has unsupported type %T", v)
	}
}

// profile reads a "profile" arg selecting the Gen1 endpoint family
// (relay vs light) and the Gen2+ component family, defaulting to the
// switch/relay profile.
func profile(args map[string]interface{}) string {
	if v, ok := args["profile"].(string); ok && v != "" {
		return v
	}
	return "relay"
}

// VerbTable is the process-wide control-verb recipe table. It is
// package state intentionally: recipes are pure functions of their
// arguments and carry no device-specific state.
var VerbTable = map[string]VerbRecipe{
	"on": {
		Gen1: func(args map[string]interface{}) (string, url.Values, error) {
			ch, err := channel(args)
			if err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("%s/%d", profile(args), ch), url.Values{"turn": []string{"on"}}, nil
		},
		Gen2: func(args map[string]interface{}) (string, interface{}, error) {
			ch, err := channel(args)
			if err != nil {
				return "", nil, err
			}
			return gen2Component(args) + ".Set", map[string]interface{}{"id": ch, "on": true}, nil
		},
		RequiresConfirmOnAllDevices: false,
	},
	"off": {
		Gen1: func(args map[string]interface{}) (string, url.Values, error) {
			ch, err := channel(args)
			if err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("%s/%d", profile(args), ch), url.Values{"turn": []string{"off"}}, nil
		},
		Gen2: func(args map[string]interface{}) (string, interface{}, error) {
			ch, err := channel(args)
			if err != nil {
				return "", nil, err
			}
			return gen2Component(args) + ".Set", map[string]interface{}{"id": ch, "on": false}, nil
		},
		RequiresConfirmOnAllDevices: true,
	},
	"toggle": {
		Gen1: func(args map[string]interface{}) (string, url.Values, error) {
			ch, err := channel(args)
			if err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("%s/%d", profile(args), ch), url.Values{"turn": []string{"toggle"}}, nil
		},
		Gen2: func(args map[string]interface{}) (string, interface{}, error) {
			ch, err := channel(args)
			if err != nil {
				return "", nil, err
			}
			return gen2Component(args) + ".Toggle", map[string]interface{}{"id": ch}, nil
		},
	},
	"brightness": {
		Gen1: func(args map[string]interface{}) (string, url.Values, error) {
			ch, err := channel(args)
			if err != nil {
				return "", nil, err
			}
			level, ok := args["brightness"]
			if !ok {
				return "", nil, fmt.Errorf("engine: brightness verb requires a %q arg", "brightness")
			}
			return fmt.Sprintf("light/%d", ch), url.Values{"brightness": []string{fmt.Sprintf("%v", level)}}, nil
		},
		Gen2: func(args map[string]interface{}) (string, interface{}, error) {
			ch, err := channel(args)
			if err != nil {
				return "", nil, err
			}
			level, ok := args["brightness"]
			if !ok {
				return "", nil, fmt.Errorf("engine: brightness verb requires a %q arg", "brightness")
			}
			return "Light.Set", map[string]interface{}{"id": ch, "brightness": level}, nil
		},
	},
	"status": {
		Gen1: func(args map[string]interface{}) (string, url.Values, error) {
			return "status", nil, nil
		},
		Gen2: func(args map[string]interface{}) (string, interface{}, error) {
			return "Shelly.GetStatus", map[string]interface{}{}, nil
		},
	},
	"reboot": {
		Gen1: func(args map[string]interface{}) (string, url.Values, error) {
			return "reboot", nil, nil
		},
		Gen2: func(args map[string]interface{}) (string, interface{}, error) {
			return "Shelly.Reboot", map[string]interface{}{}, nil
		},
		RequiresConfirmOnAllDevices: true,
	},
	"check_updates": {
		Gen1: func(args map[string]interface{}) (string, url.Values, error) {
			return "status", nil, nil
		},
		Gen2: func(args map[string]interface{}) (string, interface{}, error) {
			return "Shelly.GetStatus", map[string]interface{}{}, nil
		},
	},
	"update_firmware": {
		Gen1: func(args map[string]interface{}) (string, url.Values, error) {
			return "ota", url.Values{"update": []string{"true"}}, nil
		},
		Gen2: func(args map[string]interface{}) (string, interface{}, error) {
			return "Shelly.Update", map[string]interface{}{"stage": "stable"}, nil
		},
		RequiresConfirmOnAllDevices: true,
	},
}

// gen2Component reads a "component" arg selecting the Gen2+ component
// family (Switch, Light, Cover), defaulting to Switch.
func gen2Component(args map[string]interface{}) string {
	if v, ok := args["component"].(string); ok && v != "" {
		return v
	}
	return "Switch"
}

// DestructiveVerbs reports whether verb is in the Group Executor's
// safety-interlock set: off, reboot, update_firmware, and any write
// targeting wifi.*.
func DestructiveVerbs(verb string) bool {
	if recipe, ok := VerbTable[verb]; ok {
		return recipe.RequiresConfirmOnAllDevices
	}
	return false
}

// DestructiveParameterWrite reports whether a logical parameter name
// falls under the wifi.* destructive-write rule.
func DestructiveParameterWrite(logicalName string) bool {
	return len(logicalName) >= 5 && logicalName[:5] == "wifi."
}
