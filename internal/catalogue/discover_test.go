package catalogue

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelly-fleet/control-plane/internal/shelly"
	"github.com/shelly-fleet/control-plane/internal/transport"
)

func TestDiscoverGen1MarksStatusFieldsReadOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/shelly":
			w.Write([]byte(`{"type":"SHSW-1","mac":"ABCDEF123456"}`))
		case "/settings":
			w.Write([]byte(`{"name":"switch one","eco_mode_enabled":false}`))
		case "/status":
			w.Write([]byte(`{"mac":"ABCDEF123456","uptime":42}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	device := deviceFor(t, srv.URL, "SHSW-1", shelly.Gen1)
	def, err := DiscoverGen1(context.Background(), transport.New(), device)
	require.NoError(t, err)

	uptime, ok := def.Parameters["uptime"]
	require.True(t, ok)
	assert.True(t, uptime.ReadOnly, "fields observed on /status must be read-only")

	mac, ok := def.Parameters["mac"]
	require.True(t, ok)
	assert.True(t, mac.ReadOnly, "mac is forced read-only regardless of endpoint")

	name, ok := def.Parameters["name"]
	require.True(t, ok)
	assert.False(t, name.ReadOnly)
	assert.Equal(t, shelly.TypeString, name.Type)
}

func TestDiscoverGen1FailsFastWhenUnreachable(t *testing.T) {
	device := &shelly.Device{ID: "X", DeviceType: "SHSW-1", Generation: shelly.Gen1}
	_, err := DiscoverGen1(context.Background(), transport.New(), device)
	assert.Error(t, err)
}

func TestDiscoverGen2HarvestsComponentConfigAsParameters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body, _ := io.ReadAll(r.Body)

		switch {
		case r.URL.Path == "/rpc":
			w.Write(rpcFixture(body))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	device := deviceFor(t, srv.URL, "SNSW-001X16EU", shelly.Gen2)
	def, err := DiscoverGen2(context.Background(), transport.New(), device)
	require.NoError(t, err)

	param, ok := def.Parameters["sys.device.name"]
	require.True(t, ok, "Shelly.GetConfig's sys.device.name must be harvested as sys.device.name")
	assert.Equal(t, "Shelly.SetConfig", param.API)
	assert.Equal(t, "sys", param.Component)
}

func deviceFor(t *testing.T, rawURL, deviceType string, gen shelly.Generation) *shelly.Device {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return &shelly.Device{ID: "test", DeviceType: deviceType, Generation: gen, IPAddress: u.Host}
}

// rpcFixture returns a canned Gen2 JSON-RPC response keyed by which
// method the request body mentions, good enough for discovery's
// method-by-method probing without a full JSON-RPC test double.
func rpcFixture(body []byte) []byte {
	s := string(body)
	switch {
	case contains(s, "Shelly.GetDeviceInfo"):
		return []byte(`{"id":1,"result":{"app":"SNSW-001X16EU","mac":"AABBCCDDEEFF","gen":2}}`)
	case contains(s, "Shelly.GetConfig"):
		return []byte(`{"id":1,"result":{"sys":{"device":{"name":"switch"}}}}`)
	default:
		return []byte(`{"id":1,"result":{}}`)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
