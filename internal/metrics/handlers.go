package metrics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shelly-fleet/control-plane/internal/logging"
)

// Handler serves the /metrics Prometheus endpoint and status probes.
type Handler struct {
	service     *Service
	logger      *logging.Logger
	hub         *EventHub
	adminAPIKey string
}

// NewHandler builds a Handler and its companion event hub.
func NewHandler(service *Service, logger *logging.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
		hub:     NewEventHub(logger),
	}
}

// SetAdminAPIKey enables optional admin-key authentication for the
// WebSocket event stream; empty disables the check.
func (h *Handler) SetAdminAPIKey(key string) { h.adminAPIKey = key }

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if h.adminAPIKey == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	xKey := r.Header.Get("X-API-Key")
	ok := len(auth) > 7 && auth[:7] == "Bearer " && auth[7:] == h.adminAPIKey
	if !ok && xKey != "" && xKey == h.adminAPIKey {
		ok = true
	}
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   map[string]string{"code": "UNAUTHORIZED", "message": "admin authorization required"},
		})
		return false
	}
	return true
}

// EventHub returns the WebSocket hub backing /ws/events.
func (h *Handler) EventHub() *EventHub { return h.hub }

// PrometheusHandler serves /metrics in the Prometheus exposition format.
func (h *Handler) PrometheusHandler() http.Handler { return promhttp.Handler() }

// statusResponse is the body of GET /metrics/status.
type statusResponse struct {
	Enabled            bool      `json:"enabled"`
	LastCollectionTime time.Time `json:"last_collection_time"`
	UptimeSeconds      float64   `json:"uptime_seconds"`
}

// Status reports whether metrics collection is active.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Enabled:            h.service.IsEnabled(),
		LastCollectionTime: h.service.LastCollectionTime(),
		UptimeSeconds:      h.service.UptimeSeconds(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Events upgrades the connection to a WebSocket stream of fleet
// events (per-device operation outcomes).
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	h.hub.ServeWS(w, r)
}
