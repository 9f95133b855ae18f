// Package metrics provides Prometheus metrics for kbpicker.
//
// Collectors live on a private registry. The CLI is short lived, so the
// registry is written to a node-exporter textfile on shutdown instead of
// being scraped.
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultNoop    = "noop"
)

// Metrics holds every collector. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	remoteCallsTotal  *prometheus.CounterVec
	remoteDuration    *prometheus.HistogramVec
	members           prometheus.Gauge
	pending           prometheus.Gauge
}

// New creates the collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kbpicker_operations_total",
				Help: "Total number of include/exclude operations",
			},
			[]string{"operation", "result"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kbpicker_operation_duration_seconds",
				Help:    "Duration of include/exclude operations including queueing",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		remoteCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kbpicker_remote_calls_total",
				Help: "Total number of API calls",
			},
			[]string{"op", "status"},
		),
		remoteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kbpicker_remote_call_duration_seconds",
				Help:    "API call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		members: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kbpicker_knowledge_base_members",
				Help: "Number of source ids in the knowledge base after the last operation",
			},
		),
		pending: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "kbpicker_pending_resources",
				Help: "Number of resources currently pending",
			},
		),
	}
}

// Registry returns the registry the collectors are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveOperation records one settled engine operation
func (m *Metrics) ObserveOperation(operation, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, result).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveRemote records one API call. Its signature matches stackai.Observer.
func (m *Metrics) ObserveRemote(op string, statusCode int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := strconv.Itoa(statusCode)
	if err != nil || statusCode == 0 {
		status = "error"
	}
	m.remoteCallsTotal.WithLabelValues(op, status).Inc()
	m.remoteDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// SetMembers records the size of the knowledge-base member set
func (m *Metrics) SetMembers(n int) {
	if m == nil {
		return
	}
	m.members.Set(float64(n))
}

// SetPending records the number of pending resources
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

// WriteTextfile writes every collected metric to path in the text exposition
// format
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
