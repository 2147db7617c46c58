// Prometheus-based collectors for portsweep. These complement the
// lightweight in-process registry with industry-standard collectors
// suitable for scraping while a long scan or a scheduled loop runs.
package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all portsweep metrics
	namespace = "portsweep"

	// Subsystems
	subsystemScan   = "scan"
	subsystemProbe  = "probe"
	subsystemSystem = "system"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Scan metrics
	scansTotal   *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec
	scanErrors   *prometheus.CounterVec
	portsScanned *prometheus.CounterVec
	activeScans  prometheus.Gauge
	permitsInUse prometheus.Gauge

	// Service detection metrics
	probesSent    *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
	probeMatches  *prometheus.CounterVec
	probeFailures *prometheus.CounterVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
	uptime      prometheus.Gauge

	// Performance tracking
	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initScanMetrics()
	pm.initProbeMetrics()
	pm.initSystemMetrics()
	pm.registerMetrics()

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

// initScanMetrics initializes scan-related metrics
func (pm *PrometheusMetrics) initScanMetrics() {
	pm.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Total number of scans performed by protocol and status",
		},
		[]string{"scan_type", "status"},
	)

	pm.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Duration of scan operations in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 600.0},
		},
		[]string{"scan_type"},
	)

	pm.scanErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "errors_total",
			Help:      "Total number of scan errors by type and error",
		},
		[]string{"scan_type", "error_type"},
	)

	pm.portsScanned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "ports_total",
			Help:      "Total number of ports classified by protocol and terminal state",
		},
		[]string{"protocol", "port_state"},
	)

	pm.activeScans = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "active",
			Help:      "Number of currently active scans",
		},
	)

	pm.permitsInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "permits_in_use",
			Help:      "Number of connection permits currently held",
		},
	)
}

// initProbeMetrics initializes service detection metrics
func (pm *PrometheusMetrics) initProbeMetrics() {
	pm.probesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "sent_total",
			Help:      "Total number of service detection probes sent",
		},
		[]string{"probe"},
	)

	pm.probeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "duration_seconds",
			Help:      "Duration of service detection probe attempts in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"probe"},
	)

	pm.probeMatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "matches_total",
			Help:      "Total number of probe rule matches by service",
		},
		[]string{"probe", "service"},
	)

	pm.probeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "failures_total",
			Help:      "Total number of failed probe attempts by error type",
		},
		[]string{"probe", "error_type"},
	)
}

// initSystemMetrics initializes system-related metrics
func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "memory_bytes",
			Help:      "Current memory usage in bytes",
		},
	)

	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(pm.scansTotal)
	pm.registry.MustRegister(pm.scanDuration)
	pm.registry.MustRegister(pm.scanErrors)
	pm.registry.MustRegister(pm.portsScanned)
	pm.registry.MustRegister(pm.activeScans)
	pm.registry.MustRegister(pm.permitsInUse)

	pm.registry.MustRegister(pm.probesSent)
	pm.registry.MustRegister(pm.probeDuration)
	pm.registry.MustRegister(pm.probeMatches)
	pm.registry.MustRegister(pm.probeFailures)

	pm.registry.MustRegister(pm.memoryUsage)
	pm.registry.MustRegister(pm.goroutines)
	pm.registry.MustRegister(pm.uptime)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Scan Metrics Methods

// IncrementScansTotal increments the total scan counter
func (pm *PrometheusMetrics) IncrementScansTotal(scanType, status string) {
	pm.scansTotal.WithLabelValues(scanType, status).Inc()
}

// RecordScanDuration records a scan duration
func (pm *PrometheusMetrics) RecordScanDuration(scanType string, duration time.Duration) {
	pm.scanDuration.WithLabelValues(scanType).Observe(duration.Seconds())
}

// IncrementScanErrors increments scan error counter
func (pm *PrometheusMetrics) IncrementScanErrors(scanType, errorType string) {
	pm.scanErrors.WithLabelValues(scanType, errorType).Inc()
}

// IncrementPortsScanned adds to the classified port counter
func (pm *PrometheusMetrics) IncrementPortsScanned(protocol, state string, count int) {
	pm.portsScanned.WithLabelValues(protocol, state).Add(float64(count))
}

// SetActiveScans sets the number of active scans
func (pm *PrometheusMetrics) SetActiveScans(count int) {
	pm.activeScans.Set(float64(count))
}

// SetPermitsInUse sets the number of connection permits held
func (pm *PrometheusMetrics) SetPermitsInUse(count int) {
	pm.permitsInUse.Set(float64(count))
}

// Probe Metrics Methods

// IncrementProbesSent increments the sent probe counter
func (pm *PrometheusMetrics) IncrementProbesSent(probe string) {
	pm.probesSent.WithLabelValues(probe).Inc()
}

// RecordProbeDuration records a probe attempt duration
func (pm *PrometheusMetrics) RecordProbeDuration(probe string, duration time.Duration) {
	pm.probeDuration.WithLabelValues(probe).Observe(duration.Seconds())
}

// IncrementProbeMatches increments the probe match counter
func (pm *PrometheusMetrics) IncrementProbeMatches(probe, service string) {
	pm.probeMatches.WithLabelValues(probe, service).Inc()
}

// IncrementProbeFailures increments the probe failure counter
func (pm *PrometheusMetrics) IncrementProbeFailures(probe, errorType string) {
	pm.probeFailures.WithLabelValues(probe, errorType).Inc()
}

// System Metrics Methods

// UpdateSystemMetrics updates all system metrics with current values
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	pm.memoryUsage.Set(float64(memStats.Alloc))
	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())

	pm.lastUpdate = time.Now()
}

// Utility Methods

// GetUptime returns the application uptime
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// GetLastUpdate returns the last metrics update time
func (pm *PrometheusMetrics) GetLastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates starts a goroutine that periodically updates system metrics
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Update immediately
	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}

// Global instance for easy access
var globalMetrics *PrometheusMetrics
var metricsOnce sync.Once

// GetGlobalMetrics returns the global Prometheus metrics instance
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}
