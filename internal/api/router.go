package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/shelly-fleet/control-plane/internal/api/middleware"
	"github.com/shelly-fleet/control-plane/internal/logging"
	imetrics "github.com/shelly-fleet/control-plane/internal/metrics"
)

// SetupRoutes configures every HTTP route with the default security
// and validation settings.
func SetupRoutes(handler *Handler) *mux.Router {
	return SetupRoutesWithLogger(handler, logging.GetDefault())
}

// SetupRoutesWithLogger configures routes with a caller-supplied logger.
func SetupRoutesWithLogger(handler *Handler, logger *logging.Logger) *mux.Router {
	return SetupRoutesWithSecurity(handler, logger, middleware.DefaultSecurityConfig(), middleware.DefaultValidationConfig())
}

// SetupRoutesWithSecurity wires the full middleware stack — recovery,
// IP blocking, monitoring, security logging, security headers,
// timeouts, rate limiting, request-size limiting, validation, CORS,
// HTTP logging, and Prometheus instrumentation — ahead of the fleet
// control plane's own routes. The middleware ordering is unchanged;
// only the route table below differs.
func SetupRoutesWithSecurity(handler *Handler, logger *logging.Logger, securityConfig *middleware.SecurityConfig, validationConfig *middleware.ValidationConfig) *mux.Router {
	r := mux.NewRouter()

	var securityMonitor *middleware.SecurityMonitor
	if securityConfig.EnableMonitoring {
		securityMonitor = middleware.NewSecurityMonitor(securityConfig, logger)
	}

	if handler != nil {
		healthRouter := r.PathPrefix("/").Subrouter()
		healthRouter.Use(logging.RecoveryMiddleware(logger))
		healthRouter.Use(logging.HTTPMiddleware(logger))
		healthRouter.HandleFunc("/healthz", handler.Healthz).Methods("GET")
		healthRouter.HandleFunc("/readyz", handler.Readyz).Methods("GET")
	}

	// The event stream is a long-lived connection; it gets only the
	// middleware that doesn't interfere with hijacking the connection.
	if handler != nil && handler.MetricsHandler != nil {
		wsRouter := r.PathPrefix("/").Subrouter()
		wsRouter.Use(logging.RecoveryMiddleware(logger))
		wsRouter.HandleFunc("/ws/events", handler.MetricsHandler.Events).Methods("GET")
	}

	protected := r.PathPrefix("/").Subrouter()
	protected.Use(logging.RecoveryMiddleware(logger))
	if securityConfig.EnableIPBlocking && securityMonitor != nil {
		protected.Use(middleware.IPBlockingMiddleware(securityConfig, securityMonitor, logger))
	}
	if securityMonitor != nil {
		protected.Use(middleware.MonitoringMiddleware(securityConfig, securityMonitor, logger))
	}
	protected.Use(middleware.SecurityLoggingMiddleware(securityConfig, logger))
	protected.Use(middleware.SecurityHeadersMiddleware(securityConfig, logger))
	protected.Use(middleware.TimeoutMiddleware(securityConfig, logger))
	protected.Use(middleware.RateLimitMiddleware(securityConfig, logger))
	protected.Use(middleware.RequestSizeMiddleware(securityConfig, logger))
	protected.Use(middleware.ValidateHeadersMiddleware(validationConfig, logger))
	protected.Use(middleware.ValidateContentTypeMiddleware(validationConfig, logger))
	protected.Use(middleware.ValidateQueryParamsMiddleware(validationConfig, logger))
	protected.Use(middleware.ValidateJSONMiddleware(validationConfig, logger))
	protected.Use(enhancedCORSMiddleware(logger, securityConfig))
	protected.Use(logging.HTTPMiddleware(logger))
	if handler != nil {
		hm := imetrics.NewHTTPMetrics(nil)
		protected.Use(hm.HTTPMiddleware())
	}

	api := protected.PathPrefix("/api/v1").Subrouter()

	api.PathPrefix("/").Methods("OPTIONS").Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Discovery
	api.HandleFunc("/discover", handler.Discover).Methods("POST")

	// Devices
	api.HandleFunc("/devices", handler.ListDevices).Methods("GET")
	api.HandleFunc("/devices/{id}", handler.GetDevice).Methods("GET")
	api.HandleFunc("/devices/{id}", handler.DeleteDevice).Methods("DELETE")

	// Groups
	api.HandleFunc("/groups", handler.ListGroups).Methods("GET")
	api.HandleFunc("/groups", handler.CreateGroup).Methods("POST")
	api.HandleFunc("/groups/{name}", handler.GetGroup).Methods("GET")
	api.HandleFunc("/groups/{name}", handler.DeleteGroup).Methods("DELETE")
	api.HandleFunc("/groups/{name}/rename", handler.RenameGroup).Methods("POST")
	api.HandleFunc("/groups/{name}/operate", handler.OperateGroup).Methods("POST")
	api.HandleFunc("/groups/{name}/parameters", handler.SetParameter).Methods("PUT")
	api.HandleFunc("/groups/{name}/parameters/{param}", handler.GetParameter).Methods("GET")

	// Capabilities
	api.HandleFunc("/capabilities", handler.ListCapabilities).Methods("GET")
	api.HandleFunc("/capabilities/{deviceType}", handler.GetCapability).Methods("GET")

	// Metrics (Prometheus + status)
	if handler.MetricsHandler != nil {
		metricsAPI := r.PathPrefix("/metrics").Subrouter()
		metricsAPI.Handle("/prometheus", handler.MetricsHandler.PrometheusHandler()).Methods("GET")
		metricsAPI.HandleFunc("/status", handler.MetricsHandler.Status).Methods("GET")
	}

	return r
}

// enhancedCORSMiddleware provides security-aware CORS handling.
func enhancedCORSMiddleware(logger *logging.Logger, config *middleware.SecurityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowedOrigin := "*"
			if config != nil && len(config.CORSAllowedOrigins) > 0 {
				for _, ao := range config.CORSAllowedOrigins {
					if ao == "*" || ao == origin {
						allowedOrigin = origin
						break
					}
				}
				if origin == "" {
					allowedOrigin = "*"
				}
			}

			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Vary", "Origin")

			methods := "GET, POST, PUT, DELETE, OPTIONS"
			if config != nil && len(config.CORSAllowedMethods) > 0 {
				methods = strings.Join(config.CORSAllowedMethods, ", ")
			}
			headers := "Content-Type, Authorization, X-Requested-With"
			if config != nil && len(config.CORSAllowedHeaders) > 0 {
				headers = strings.Join(config.CORSAllowedHeaders, ", ")
			}
			maxAge := "86400"
			if config != nil && config.CORSMaxAge > 0 {
				maxAge = strconv.Itoa(config.CORSMaxAge)
			}
			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", headers)
			w.Header().Set("Access-Control-Max-Age", maxAge)

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
