// Package metrics instruments the control plane with Prometheus
// counters/gauges and a broadcast hub for the supplemental /ws/events
// stream, generalized from drift/resolution/notification domains to
// discovery runs, per-device operation outcomes, and group fan-out
// sizes.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shelly-fleet/control-plane/internal/logging"
	"github.com/shelly-fleet/control-plane/internal/shelly"
)

// Service owns every Prometheus collector the control plane exports.
type Service struct {
	logger   *logging.Logger
	registry prometheus.Registerer

	discoveryRunsTotal    prometheus.CounterVec
	discoveryRunDuration  prometheus.HistogramVec
	discoveryDevicesFound prometheus.GaugeVec

	operationsTotal    prometheus.CounterVec
	operationDuration  prometheus.HistogramVec
	groupFanOutSize    prometheus.HistogramVec
	registrySize       prometheus.Gauge

	mu                 sync.RWMutex
	lastCollectionTime time.Time
	startedAt          time.Time
	enabled            bool
}

// NewService builds a Service and registers its collectors.
func NewService(logger *logging.Logger, registry prometheus.Registerer) *Service {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	s := &Service{
		logger:    logger,
		registry:  registry,
		startedAt: time.Now(),
		enabled:   true,
	}
	s.initializePrometheusMetrics()

	s.logger.WithFields(map[string]any{"component": "metrics"}).Info("metrics service initialized")
	return s
}

func (s *Service) initializePrometheusMetrics() {
	s.discoveryRunsTotal = *promauto.With(s.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelly_discovery_runs_total",
			Help: "Total number of discovery sweeps, by completion status",
		},
		[]string{"status"},
	)

	s.discoveryRunDuration = *promauto.With(s.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shelly_discovery_run_duration_seconds",
			Help:    "Duration of a full discovery sweep",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"}, // mdns, http_scan
	)

	s.discoveryDevicesFound = *promauto.With(s.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shelly_discovery_devices_found",
			Help: "Number of devices found by the most recent discovery sweep",
		},
		[]string{"method"},
	)

	s.operationsTotal = *promauto.With(s.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "shelly_device_operations_total",
			Help: "Total per-device operations, by verb and outcome",
		},
		[]string{"verb", "success", "error_kind"},
	)

	s.operationDuration = *promauto.With(s.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shelly_device_operation_duration_seconds",
			Help:    "Duration of a single device operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"verb"},
	)

	s.groupFanOutSize = *promauto.With(s.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shelly_group_fanout_size",
			Help:    "Number of devices targeted by a single group operation",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
		[]string{"group"},
	)

	s.registrySize = promauto.With(s.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "shelly_registry_devices",
			Help: "Number of devices currently known to the registry",
		},
	)
}

// RecordDiscoveryRun records one completed discovery sweep.
func (s *Service) RecordDiscoveryRun(method string, found int, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.discoveryRunsTotal.WithLabelValues(status).Inc()
	s.discoveryRunDuration.WithLabelValues(method).Observe(duration.Seconds())
	s.discoveryDevicesFound.WithLabelValues(method).Set(float64(found))

	s.mu.Lock()
	s.lastCollectionTime = time.Now()
	s.mu.Unlock()
}

// RecordOperation records one completed device operation result.
func (s *Service) RecordOperation(verb string, result shelly.OperationResult) {
	s.operationsTotal.WithLabelValues(verb, boolLabel(result.Success), string(result.ErrorKind)).Inc()
	s.operationDuration.WithLabelValues(verb).Observe(result.Duration.Seconds())
}

// RecordGroupFanOut records the size of one group operation dispatch.
func (s *Service) RecordGroupFanOut(group string, size int) {
	s.groupFanOutSize.WithLabelValues(group).Observe(float64(size))
}

// SetRegistrySize reports the current device count to the registry gauge.
func (s *Service) SetRegistrySize(n int) { s.registrySize.Set(float64(n)) }

// IsEnabled reports whether metrics collection is active.
func (s *Service) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// LastCollectionTime returns when RecordDiscoveryRun last ran; the
// other Record and Set methods do not update it.
func (s *Service) LastCollectionTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCollectionTime
}

// UptimeSeconds returns how long the service has been running.
func (s *Service) UptimeSeconds() float64 { return time.Since(s.startedAt).Seconds() }

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
