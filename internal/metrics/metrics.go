// Package metrics holds the Prometheus instruments of the plan queue.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the set of queue instruments. A nil *Metrics records nothing,
// so components built without metrics need no special casing.
type Metrics struct {
	registry *prometheus.Registry

	TasksSubmitted  prometheus.Counter
	TasksClaimed    prometheus.Counter
	ClaimConflicts  prometheus.Counter
	TasksFinished   *prometheus.CounterVec
	TaskProcessing  *prometheus.HistogramVec
	LeasesRecovered *prometheus.CounterVec
	Notifications   *prometheus.CounterVec
	StorageErrors   *prometheus.CounterVec
}

// New creates the instruments and registers them, with the Go and process
// collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emplan_tasks_submitted_total",
			Help: "Total number of tasks accepted for generation.",
		}),
		TasksClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emplan_tasks_claimed_total",
			Help: "Total number of pending tasks claimed by a worker.",
		}),
		ClaimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "emplan_claim_conflicts_total",
			Help: "Total number of claims lost to another worker.",
		}),
		TasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emplan_tasks_finished_total",
			Help: "Total number of tasks reaching a terminal status.",
		}, []string{"status"}),
		TaskProcessing: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "emplan_task_processing_seconds",
			Help:    "Time from claim to terminal status.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		LeasesRecovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emplan_leases_recovered_total",
			Help: "Total number of expired leases handled by the sweeper, by action.",
		}, []string{"action"}), // released, abandoned
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emplan_notifications_total",
			Help: "Total number of notification delivery attempts by result.",
		}, []string{"result"}), // delivered, retry, dead
		StorageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emplan_storage_errors_total",
			Help: "Total number of task store failures by operation.",
		}, []string{"operation"}),
	}

	m.registry.MustRegister(
		m.TasksSubmitted,
		m.TasksClaimed,
		m.ClaimConflicts,
		m.TasksFinished,
		m.TaskProcessing,
		m.LeasesRecovered,
		m.Notifications,
		m.StorageErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordSubmitted() {
	if m == nil {
		return
	}
	m.TasksSubmitted.Inc()
}

func (m *Metrics) RecordClaim() {
	if m == nil {
		return
	}
	m.TasksClaimed.Inc()
}

func (m *Metrics) RecordClaimConflict() {
	if m == nil {
		return
	}
	m.ClaimConflicts.Inc()
}

// RecordFinished counts a terminal transition and observes its duration.
func (m *Metrics) RecordFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.TasksFinished.WithLabelValues(status).Inc()
	m.TaskProcessing.WithLabelValues(status).Observe(d.Seconds())
}

func (m *Metrics) RecordLeaseRecovered(action string) {
	if m == nil {
		return
	}
	m.LeasesRecovered.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordNotification(result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordStorageError(operation string) {
	if m == nil {
		return
	}
	m.StorageErrors.WithLabelValues(operation).Inc()
}
