package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	apiresp "github.com/shelly-fleet/control-plane/internal/api/response"
	"github.com/shelly-fleet/control-plane/internal/catalogue"
	"github.com/shelly-fleet/control-plane/internal/discovery"
	"github.com/shelly-fleet/control-plane/internal/engine"
	"github.com/shelly-fleet/control-plane/internal/groupexec"
	"github.com/shelly-fleet/control-plane/internal/groups"
	"github.com/shelly-fleet/control-plane/internal/logging"
	"github.com/shelly-fleet/control-plane/internal/metrics"
	"github.com/shelly-fleet/control-plane/internal/registry"
	"github.com/shelly-fleet/control-plane/internal/shelly"
)

// Handler contains every dependency the fleet control plane's HTTP
// surface needs: the Registry/Catalogue/Groups stores and the Engine/
// Executor that act on them.
type Handler struct {
	Registry       *registry.Registry
	Catalogue      *catalogue.Catalogue
	Groups         *groups.Store
	Engine         *engine.Engine
	Executor       *groupexec.Executor
	DiscoveryOpts  discovery.Options
	MetricsHandler *metrics.Handler
	MetricsService *metrics.Service

	logger      *logging.Logger
	adminAPIKey string
}

// NewHandler builds a Handler with the default logger. discoveryOpts
// supplies the networks/mDNS defaults a bare POST /discover (no body)
// should fall back to.
func NewHandler(reg *registry.Registry, cat *catalogue.Catalogue, groupStore *groups.Store, eng *engine.Engine, exec *groupexec.Executor, discoveryOpts discovery.Options) *Handler {
	return &Handler{
		Registry:      reg,
		Catalogue:     cat,
		Groups:        groupStore,
		Engine:        eng,
		Executor:      exec,
		DiscoveryOpts: discoveryOpts,
		logger:        logging.GetDefault(),
	}
}

// SetAdminAPIKey enables optional admin-key authentication for
// mutating routes (discover, device delete, group create/rename/delete,
// group operate, parameter set).
func (h *Handler) SetAdminAPIKey(key string) { h.adminAPIKey = key }

func (h *Handler) responseWriter() *apiresp.ResponseWriter { return apiresp.NewResponseWriter(h.logger) }

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if h.adminAPIKey == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	xKey := r.Header.Get("X-API-Key")
	ok := strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == h.adminAPIKey
	if !ok && xKey != "" && xKey == h.adminAPIKey {
		ok = true
	}
	if !ok {
		h.responseWriter().WriteError(w, r, http.StatusUnauthorized, apiresp.ErrCodeUnauthorized, "admin authorization required", nil)
		return false
	}
	return true
}

// Healthz is a liveness probe with no dependency checks.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Readyz reports readiness: the Registry and Catalogue must be loaded.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.Registry == nil || h.Catalogue == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// ListDevices returns every device currently known to the Registry.
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	h.responseWriter().WriteSuccess(w, r, h.Registry.All())
}

// GetDevice returns a single device by ID.
func (h *Handler) GetDevice(w http.ResponseWriter, r *http.Request) {
	id := apiresp.GetPathParam(r, "id")
	device, ok := h.Registry.Get(id)
	if !ok {
		h.responseWriter().WriteNotFoundError(w, r, "device "+id)
		return
	}
	h.responseWriter().WriteSuccess(w, r, device)
}

// DeleteDevice removes a device from the Registry.
func (h *Handler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	id := apiresp.GetPathParam(r, "id")
	if !h.Registry.Delete(id) {
		h.responseWriter().WriteNotFoundError(w, r, "device "+id)
		return
	}
	h.responseWriter().WriteNoContent(w, r)
}

type discoverRequest struct {
	Networks []string `json:"networks"`
}

// Discover runs one discovery sweep and upserts found devices into the Registry.
func (h *Handler) Discover(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var body discoverRequest
	_ = json.NewDecoder(r.Body).Decode(&body)

	opts := h.DiscoveryOpts
	if len(body.Networks) > 0 {
		opts.CIDRs = body.Networks
	}

	start := time.Now()
	found, err := discovery.Run(r.Context(), opts)
	if err != nil {
		h.responseWriter().WriteInternalError(w, r, err)
		return
	}
	for _, d := range found {
		h.Registry.Upsert(d)
	}
	if h.MetricsService != nil {
		h.MetricsService.RecordDiscoveryRun("combined", len(found), time.Since(start), nil)
		h.MetricsService.SetRegistrySize(len(h.Registry.All()))
	}
	h.responseWriter().WriteSuccess(w, r, found)
}

// ListGroups returns every defined group.
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	h.responseWriter().WriteSuccess(w, r, h.Groups.All())
}

// CreateGroup defines a new group.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var g shelly.Group
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		h.responseWriter().WriteValidationError(w, r, "invalid JSON body")
		return
	}
	created, err := h.Groups.Create(&g)
	if err != nil {
		h.responseWriter().WriteError(w, r, http.StatusConflict, apiresp.ErrCodeConflict, err.Error(), nil)
		return
	}
	h.responseWriter().WriteCreated(w, r, created)
}

// GetGroup returns one group by name.
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	name := apiresp.GetPathParam(r, "name")
	g, ok := h.Groups.Get(name)
	if !ok {
		h.responseWriter().WriteNotFoundError(w, r, "group "+name)
		return
	}
	h.responseWriter().WriteSuccess(w, r, g)
}

type renameGroupRequest struct {
	NewName string `json:"new_name"`
}

// RenameGroup relocates a group to a new name, rejecting a name that
// collides with an existing group or the reserved all-devices name.
func (h *Handler) RenameGroup(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	name := apiresp.GetPathParam(r, "name")
	var body renameGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.responseWriter().WriteValidationError(w, r, "invalid JSON body")
		return
	}
	if body.NewName == "" {
		h.responseWriter().WriteValidationError(w, r, "new_name is required")
		return
	}
	renamed, err := h.Groups.Rename(name, body.NewName)
	if err != nil {
		h.responseWriter().WriteError(w, r, http.StatusConflict, apiresp.ErrCodeConflict, err.Error(), nil)
		return
	}
	h.responseWriter().WriteSuccess(w, r, renamed)
}

// DeleteGroup removes a group definition.
func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	name := apiresp.GetPathParam(r, "name")
	if err := h.Groups.Delete(name); err != nil {
		h.responseWriter().WriteNotFoundError(w, r, "group "+name)
		return
	}
	h.responseWriter().WriteNoContent(w, r)
}

type operateRequest struct {
	Verb    string                 `json:"verb"`
	Args    map[string]interface{} `json:"args"`
	Confirm bool                   `json:"confirm"`
}

// OperateGroup dispatches a control verb across a group's members.
func (h *Handler) OperateGroup(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	group := apiresp.GetPathParam(r, "name")
	var body operateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.responseWriter().WriteValidationError(w, r, "invalid JSON body")
		return
	}

	result, ferr := h.Executor.Operate(r.Context(), group, body.Verb, body.Args, body.Confirm)
	if ferr != nil {
		h.writeFleetError(w, r, ferr)
		return
	}
	if h.MetricsService != nil {
		h.MetricsService.RecordGroupFanOut(group, len(result.Results))
		for _, res := range result.Results {
			h.MetricsService.RecordOperation(body.Verb, res)
		}
	}
	h.publishResults(result)
	h.responseWriter().WriteSuccess(w, r, result)
}

type setParameterRequest struct {
	Name           string      `json:"name"`
	Value          interface{} `json:"value"`
	Confirm        bool        `json:"confirm"`
	RebootIfNeeded bool        `json:"reboot_if_needed"`
}

// SetParameter writes one logical parameter across a group's members.
func (h *Handler) SetParameter(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	group := apiresp.GetPathParam(r, "name")
	var body setParameterRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.responseWriter().WriteValidationError(w, r, "invalid JSON body")
		return
	}

	opts := engine.SetOptions{RebootIfNeeded: body.RebootIfNeeded}
	result, ferr := h.Executor.SetParameter(r.Context(), group, body.Name, body.Value, opts, body.Confirm)
	if ferr != nil {
		h.writeFleetError(w, r, ferr)
		return
	}
	h.publishResults(result)
	h.responseWriter().WriteSuccess(w, r, result)
}

// GetParameter reads one logical parameter across a group's members.
func (h *Handler) GetParameter(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	group, name := vars["name"], r.URL.Query().Get("name")
	if name == "" {
		name = vars["param"]
	}
	result, ferr := h.Executor.GetParameter(r.Context(), group, name)
	if ferr != nil {
		h.writeFleetError(w, r, ferr)
		return
	}
	h.responseWriter().WriteSuccess(w, r, result)
}

// ListCapabilities returns every SKU capability definition.
func (h *Handler) ListCapabilities(w http.ResponseWriter, r *http.Request) {
	h.responseWriter().WriteSuccess(w, r, h.Catalogue.All())
}

// GetCapability returns a single SKU's capability definition.
func (h *Handler) GetCapability(w http.ResponseWriter, r *http.Request) {
	deviceType := apiresp.GetPathParam(r, "deviceType")
	def, ok := h.Catalogue.Get(deviceType)
	if !ok {
		h.responseWriter().WriteNotFoundError(w, r, "capability "+deviceType)
		return
	}
	h.responseWriter().WriteSuccess(w, r, def)
}

func (h *Handler) writeFleetError(w http.ResponseWriter, r *http.Request, ferr *shelly.FleetError) {
	status := http.StatusInternalServerError
	code := apiresp.ErrCodeInternalServer
	switch ferr.Kind {
	case shelly.ErrConfirmationRequired:
		status, code = http.StatusConflict, apiresp.ErrCodeConflict
	case shelly.ErrUnknownDevice:
		status, code = http.StatusNotFound, apiresp.ErrCodeDeviceNotFound
	case shelly.ErrUnreachable:
		status, code = http.StatusBadGateway, apiresp.ErrCodeDeviceUnreachable
	case shelly.ErrUnsupportedParameter:
		status, code = http.StatusBadRequest, apiresp.ErrCodeUnsupportedParam
	case shelly.ErrTypeMismatch:
		status, code = http.StatusBadRequest, apiresp.ErrCodeTypeMismatch
	case shelly.ErrDeviceError:
		status, code = http.StatusBadGateway, apiresp.ErrCodeDeviceError
	}
	h.responseWriter().WriteError(w, r, status, code, ferr.Message, map[string]string{"error_kind": string(ferr.Kind)})
}

func (h *Handler) publishResults(result shelly.GroupResult) {
	if h.MetricsHandler == nil {
		return
	}
	for _, res := range result.Results {
		h.MetricsHandler.EventHub().PublishOperationResult(res)
	}
}
