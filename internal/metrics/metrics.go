// Package metrics provides Prometheus metrics for course tracking and reminders.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Intake sources
const (
	SourceManual = "manual"
	SourceQuick  = "quick"
	SourcePush   = "push"
	SourceImport = "import"
)

// Push action outcomes
const (
	OutcomeLogged    = "logged"
	OutcomeDuplicate = "duplicate"
	OutcomeStale     = "stale"
	OutcomeSnoozed   = "snoozed"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

// Metrics holds all application collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	intakesLogged          *prometheus.CounterVec
	pushActions            *prometheus.CounterVec
	presentations          *prometheus.CounterVec
	notificationsScheduled prometheus.Counter
	notificationsCancelled prometheus.Counter
	schedulingFailures     prometheus.Counter
	persistenceFailures    *prometheus.CounterVec
	syncDuration           prometheus.Histogram
	courses                *prometheus.GaugeVec
	circuitBreakerState    *prometheus.GaugeVec
	httpRequests           *prometheus.CounterVec
	httpDuration           prometheus.Histogram
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Default returns the process-wide instance
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		intakesLogged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asit_intakes_logged_total",
			Help: "Intakes recorded, by source",
		}, []string{"source"}),
		pushActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asit_push_actions_total",
			Help: "Notification actions handled, by action and outcome",
		}, []string{"action", "outcome"}),
		presentations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asit_notification_presentations_total",
			Help: "Delivered reminders, by whether they were shown or suppressed",
		}, []string{"presented"}),
		notificationsScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asit_notifications_scheduled_total",
			Help: "Notification requests added to the gateway",
		}),
		notificationsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asit_notifications_cancelled_total",
			Help: "Notification identifiers removed from the gateway",
		}),
		schedulingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "asit_scheduling_failures_total",
			Help: "Gateway calls that failed",
		}),
		persistenceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asit_persistence_failures_total",
			Help: "Store mutations that failed to persist, by operation",
		}, []string{"op"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "asit_reminder_sync_duration_seconds",
			Help:    "Duration of a full reminder reconciliation",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		courses: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "asit_courses",
			Help: "Courses in the store, by state",
		}, []string{"state"}),
		circuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "asit_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "asit_http_requests_total",
			Help: "HTTP requests served, by method and status",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "asit_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.intakesLogged,
		m.pushActions,
		m.presentations,
		m.notificationsScheduled,
		m.notificationsCancelled,
		m.schedulingFailures,
		m.persistenceFailures,
		m.syncDuration,
		m.courses,
		m.circuitBreakerState,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordIntake(source string) {
	if m == nil {
		return
	}
	m.intakesLogged.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordPushAction(action, outcome string) {
	if m == nil {
		return
	}
	m.pushActions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) RecordPresentation(presented bool) {
	if m == nil {
		return
	}
	m.presentations.WithLabelValues(strconv.FormatBool(presented)).Inc()
}

func (m *Metrics) RecordScheduled() {
	if m == nil {
		return
	}
	m.notificationsScheduled.Inc()
}

func (m *Metrics) RecordCancelled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.notificationsCancelled.Add(float64(n))
}

func (m *Metrics) RecordSchedulingFailure() {
	if m == nil {
		return
	}
	m.schedulingFailures.Inc()
}

func (m *Metrics) RecordPersistenceFailure(op string) {
	if m == nil {
		return
	}
	m.persistenceFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) RecordSync(d time.Duration) {
	if m == nil {
		return
	}
	m.syncDuration.Observe(d.Seconds())
}

// SetCourses publishes course counts for the latest snapshot
func (m *Metrics) SetCourses(total, active int) {
	if m == nil {
		return
	}
	m.courses.WithLabelValues("total").Set(float64(total))
	m.courses.WithLabelValues("active").Set(float64(active))
}

// SetCircuitBreakerState records 0=closed, 1=open, 2=half-open
func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) RecordHTTPRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.Observe(d.Seconds())
}
