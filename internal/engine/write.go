package engine

import (
	"context"
	"net/url"

	"github.com/shelly-fleet/control-plane/internal/jsonpath"
	"github.com/shelly-fleet/control-plane/internal/shelly"
	"github.com/shelly-fleet/control-plane/internal/transport"
)

// writeValue performs the Gen1 or Gen2+ write path and reports whether
// the device flagged a restart as required.
func writeValue(ctx context.Context, dialect Dialect, device *shelly.Device, desc *shelly.ParameterDescriptor, value interface{}) (bool, error) {
	if device.Generation.IsGen1() {
		return writeGen1(ctx, dialect, device, desc, value)
	}
	return writeGen2(ctx, dialect, device, desc, value)
}

// writeGen1 encodes value for a Gen1 write: the query key is the last
// path segment unless overridden.
func writeGen1(ctx context.Context, dialect Dialect, device *shelly.Device, desc *shelly.ParameterDescriptor, value interface{}) (bool, error) {
	key := desc.QueryKeyOverride
	if key == "" {
		key = jsonpath.LastSegmentKey(desc.ParameterPath)
	}
	encoded, err := transport.EncodeGen1Value(value)
	if err != nil {
		return false, &TypeMismatchError{Name: desc.ParameterPath, Type: desc.Type, Value: value}
	}
	query := url.Values{key: []string{encoded}}
	return dialect.WriteConfig(ctx, device, desc.API, query)
}

// writeGen2 builds the nested params object for a Gen2+ write: an
// indexed component ("switch:0") contributes {"id":N} alongside a
// bare config object; a named component ("device") nests config
// under that key; no component nests the path directly.
func writeGen2(ctx context.Context, dialect Dialect, device *shelly.Device, desc *shelly.ParameterDescriptor, value interface{}) (bool, error) {
	leaf := map[string]interface{}{}
	if err := jsonpath.Set(leaf, desc.ParameterPath, value); err != nil {
		return false, err
	}

	params := map[string]interface{}{}
	if desc.Component != "" {
		name, id, indexed := splitComponent(desc.Component)
		if indexed {
			params["id"] = id
			params["config"] = leaf
		} else {
			params["config"] = map[string]interface{}{name: leaf}
		}
	} else {
		params["config"] = leaf
	}

	return dialect.WriteConfig(ctx, device, desc.API, params)
}
