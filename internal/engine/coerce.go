package engine

import (
	"fmt"
	"strconv"

	"github.com/shelly-fleet/control-plane/internal/shelly"
)

// TypeMismatchError reports that a value cannot be coerced to a
// ParameterDescriptor's declared type.
type TypeMismatchError struct {
	Name  string
	Type  shelly.ParameterType
	Value interface{}
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("engine: value %v cannot be coerced to %s for %q", e.Value, e.Type, e.Name)
}

// rejectGen1BooleanLiteral refuses the literal strings "on"/"off" for
// a boolean-typed parameter before anything reaches the wire. Gen1
// devices accept "on"/"off" only on the relay/light control
// endpoints, never on a settings write, and the Engine owns this
// distinction rather than the device.
func rejectGen1BooleanLiteral(name string, descType shelly.ParameterType, value interface{}) error {
	if descType != shelly.TypeBoolean {
		return nil
	}
	if s, ok := value.(string); ok && (s == "on" || s == "off") {
		return &TypeMismatchError{Name: name, Type: descType, Value: value}
	}
	return nil
}

// coerceLeaf converts a decoded JSON leaf (from jsonpath.Get) to the
// shape a ParameterDescriptor declares. A literal null leaf yields a
// nil value rather than an error, whatever the declared type.
func coerceLeaf(name string, descType shelly.ParameterType, leaf interface{}) (interface{}, error) {
	if leaf == nil {
		return nil, nil
	}
	switch descType {
	case shelly.TypeBoolean:
		switch v := leaf.(type) {
		case bool:
			return v, nil
		case string:
			switch v {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
		}
	case shelly.TypeInteger:
		switch v := leaf.(type) {
		case float64:
			return int64(v), nil
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n, nil
			}
		}
	case shelly.TypeFloat:
		switch v := leaf.(type) {
		case float64:
			return v, nil
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, nil
			}
		}
	case shelly.TypeString, shelly.TypeEnum:
		if s, ok := leaf.(string); ok {
			return s, nil
		}
	case shelly.TypeObject, shelly.TypeArray:
		return leaf, nil
	case shelly.TypeNull:
		return nil, nil
	}
	return nil, &TypeMismatchError{Name: name, Type: descType, Value: leaf}
}

// coerceForWrite validates (and lightly normalizes) a caller-supplied
// value against a ParameterDescriptor before any encoding happens.
func coerceForWrite(name string, desc *shelly.ParameterDescriptor, value interface{}) (interface{}, error) {
	if err := rejectGen1BooleanLiteral(name, desc.Type, value); err != nil {
		return nil, err
	}
	switch desc.Type {
	case shelly.TypeBoolean:
		if _, ok := value.(bool); !ok {
			return nil, &TypeMismatchError{Name: name, Type: desc.Type, Value: value}
		}
	case shelly.TypeInteger:
		switch v := value.(type) {
		case int:
			value = int64(v)
		case int64:
		case float64:
			value = int64(v)
		default:
			return nil, &TypeMismatchError{Name: name, Type: desc.Type, Value: value}
		}
	case shelly.TypeFloat:
		switch v := value.(type) {
		case float64:
		case int:
			value = float64(v)
		case int64:
			value = float64(v)
		default:
			_ = v
			return nil, &TypeMismatchError{Name: name, Type: desc.Type, Value: value}
		}
	case shelly.TypeString:
		if _, ok := value.(string); !ok {
			return nil, &TypeMismatchError{Name: name, Type: desc.Type, Value: value}
		}
	case shelly.TypeEnum:
		s, ok := value.(string)
		if !ok {
			return nil, &TypeMismatchError{Name: name, Type: desc.Type, Value: value}
		}
		if len(desc.EnumValues) > 0 && !containsString(desc.EnumValues, s) {
			return nil, &TypeMismatchError{Name: name, Type: desc.Type, Value: value}
		}
	}
	if value != nil {
		if clamped, wasClamped := clampNumeric(desc, value); wasClamped {
			return clamped, nil
		}
	}
	return value, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// clampNumeric clamps an integer/float value into [Min, Max] when the
// descriptor declares bounds. The caller is responsible for surfacing
// warning=clamped on the OperationResult.
func clampNumeric(desc *shelly.ParameterDescriptor, value interface{}) (interface{}, bool) {
	if desc.Min == nil && desc.Max == nil {
		return value, false
	}
	var f float64
	switch v := value.(type) {
	case int64:
		f = float64(v)
	case float64:
		f = v
	default:
		return value, false
	}
	clamped := f
	changed := false
	if desc.Min != nil && clamped < *desc.Min {
		clamped = *desc.Min
		changed = true
	}
	if desc.Max != nil && clamped > *desc.Max {
		clamped = *desc.Max
		changed = true
	}
	if !changed {
		return value, false
	}
	if desc.Type == shelly.TypeInteger {
		return int64(clamped), true
	}
	return clamped, true
}
