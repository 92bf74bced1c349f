package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/shelly-fleet/control-plane/internal/catalogue"
	"github.com/shelly-fleet/control-plane/internal/discovery"
	"github.com/shelly-fleet/control-plane/internal/engine"
	"github.com/shelly-fleet/control-plane/internal/groupexec"
	"github.com/shelly-fleet/control-plane/internal/groups"
	"github.com/shelly-fleet/control-plane/internal/registry"
	"github.com/shelly-fleet/control-plane/internal/shelly"
	"github.com/shelly-fleet/control-plane/internal/transport"
)

// testRouter wires only the routes this test exercises, bypassing the
// full security/validation middleware stack (covered by its own
// package's tests) to keep handler tests focused on handler behavior.
func testRouter(t *testing.T, h *Handler) *mux.Router {
	t.Helper()
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.Healthz).Methods("GET")
	r.HandleFunc("/readyz", h.Readyz).Methods("GET")
	r.HandleFunc("/devices", h.ListDevices).Methods("GET")
	r.HandleFunc("/devices/{id}", h.GetDevice).Methods("GET")
	r.HandleFunc("/devices/{id}", h.DeleteDevice).Methods("DELETE")
	r.HandleFunc("/groups", h.CreateGroup).Methods("POST")
	r.HandleFunc("/groups/{name}/rename", h.RenameGroup).Methods("POST")
	r.HandleFunc("/groups/{name}/operate", h.OperateGroup).Methods("POST")
	r.HandleFunc("/groups/{name}/parameters", h.SetParameter).Methods("PUT")
	return r
}

func newTestHandler(t *testing.T, devices ...*shelly.Device) (*Handler, *registry.Registry, *groups.Store) {
	t.Helper()
	reg := registry.New()
	for _, d := range devices {
		reg.Upsert(d)
	}
	cat := catalogue.New()
	groupStore := groups.New()
	tc := transport.New(transport.WithRetry(0, 0))
	eng := engine.New(tc, cat, reg)
	exec := groupexec.New(reg, groupStore, eng)

	h := NewHandler(reg, cat, groupStore, eng, exec, discovery.Options{})
	return h, reg, groupStore
}

func TestHealthzAlwaysOK(t *testing.T) {
	h, _, _ := newTestHandler(t)
	r := testRouter(t, h)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReportsUnavailableWithoutDependencies(t *testing.T) {
	h := &Handler{}
	r := testRouter(t, h)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListDevicesReturnsRegistrySnapshot(t *testing.T) {
	device := &shelly.Device{ID: "AABBCC", DeviceType: "SHPLG-S", Generation: shelly.Gen1}
	h, _, _ := newTestHandler(t, device)
	r := testRouter(t, h)

	req := httptest.NewRequest("GET", "/devices", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Success bool              `json:"success"`
		Data    []*shelly.Device  `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Success)
	require.Len(t, body.Data, 1)
	require.Equal(t, "AABBCC", body.Data[0].ID)
}

func TestGetDeviceNotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)
	r := testRouter(t, h)

	req := httptest.NewRequest("GET", "/devices/UNKNOWN", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteDeviceRemovesFromRegistry(t *testing.T) {
	device := &shelly.Device{ID: "AABBCC", DeviceType: "SHPLG-S", Generation: shelly.Gen1}
	h, reg, _ := newTestHandler(t, device)
	r := testRouter(t, h)

	req := httptest.NewRequest("DELETE", "/devices/AABBCC", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	_, ok := reg.Get("AABBCC")
	require.False(t, ok)
}

func TestCreateGroupPersistsDefinition(t *testing.T) {
	h, _, groupStore := newTestHandler(t)
	r := testRouter(t, h)

	body, _ := json.Marshal(map[string]interface{}{"name": "kitchen", "device_ids": []string{"AABBCC"}})
	req := httptest.NewRequest("POST", "/groups", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	_, ok := groupStore.Get("kitchen")
	require.True(t, ok)
}

func TestRenameGroupRelocatesStoreEntry(t *testing.T) {
	h, _, groupStore := newTestHandler(t)
	r := testRouter(t, h)
	_, err := groupStore.Create(&shelly.Group{Name: "kitchen", DeviceIDs: []string{"AABBCC"}})
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]interface{}{"new_name": "dining room"})
	req := httptest.NewRequest("POST", "/groups/kitchen/rename", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	_, ok := groupStore.Get("kitchen")
	require.False(t, ok)
	g, ok := groupStore.Get("dining_room")
	require.True(t, ok)
	require.Equal(t, []string{"AABBCC"}, g.DeviceIDs)
}

func TestRenameGroupUnknownNameMapsToConflict(t *testing.T) {
	h, _, _ := newTestHandler(t)
	r := testRouter(t, h)

	body, _ := json.Marshal(map[string]interface{}{"new_name": "dining-room"})
	req := httptest.NewRequest("POST", "/groups/nonexistent/rename", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestOperateGroupConfirmationRequiredMapsToConflict(t *testing.T) {
	h, _, _ := newTestHandler(t)
	r := testRouter(t, h)

	body, _ := json.Marshal(operateRequest{Verb: "off"})
	req := httptest.NewRequest("POST", "/groups/all-devices/operate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestOperateGroupUnknownGroupMapsToInternalError(t *testing.T) {
	h, _, _ := newTestHandler(t)
	r := testRouter(t, h)

	body, _ := json.Marshal(operateRequest{Verb: "off"})
	req := httptest.NewRequest("POST", "/groups/nonexistent/operate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSetParameterRequiresConfirmOnAllDevices(t *testing.T) {
	h, _, _ := newTestHandler(t)
	r := testRouter(t, h)

	body, _ := json.Marshal(setParameterRequest{Name: "wifi.ssid", Value: "guest"})
	req := httptest.NewRequest("PUT", "/groups/all-devices/parameters", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}
