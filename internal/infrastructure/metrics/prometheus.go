// Package metrics exposes the review agent's Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Timmutegi/ae-tuition-backend/internal/application/eventhandler"
)

var _ eventhandler.InterventionMetrics = (*Recorder)(nil)

const namespace = "ae_review"

// Recorder owns every collector on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	alertsCreated      *prometheus.CounterVec
	alertTransitions   *prometheus.CounterVec
	notificationErrors *prometheus.CounterVec

	checkRuns     prometheus.Counter
	checkAlerts   prometheus.Counter
	checkFailures prometheus.Counter
	checkDuration prometheus.Histogram

	jobRuns *prometheus.CounterVec

	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewRecorder creates a Recorder. Go runtime and process collectors are
// registered alongside the domain metrics.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	auto := promauto.With(reg)

	return &Recorder{
		registry: reg,

		alertsCreated: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "created_total",
			Help:      "Intervention alerts raised, by subject and priority.",
		}, []string{"subject", "priority"}),

		alertTransitions: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "transitions_total",
			Help:      "Alert status transitions, by target status.",
		}, []string{"status"}),

		notificationErrors: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "failures_total",
			Help:      "Notification deliveries that failed, by recipient role.",
		}, []string{"role"}),

		checkRuns: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "check",
			Name:      "runs_total",
			Help:      "Completed intervention check runs.",
		}),

		checkAlerts: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "check",
			Name:      "alerts_total",
			Help:      "Alerts created by intervention check runs.",
		}),

		checkFailures: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "check",
			Name:      "student_failures_total",
			Help:      "Students whose evaluation failed during a check run.",
		}),

		checkDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "check",
			Name:      "duration_seconds",
			Help:      "Duration of intervention check runs.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),

		jobRuns: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job executions, by job and outcome.",
		}, []string{"job", "outcome"}),

		httpRequests: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, by route, method and status code.",
		}, []string{"route", "method", "code"}),

		httpRequestDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ─────────────────────────────────────────────────────────────────────────────
// Domain
// ─────────────────────────────────────────────────────────────────────────────

// AlertCreated counts a new alert.
func (r *Recorder) AlertCreated(subject, priority string) {
	r.alertsCreated.WithLabelValues(subject, priority).Inc()
}

// AlertTransitioned counts a status change.
func (r *Recorder) AlertTransitioned(toStatus string) {
	r.alertTransitions.WithLabelValues(toStatus).Inc()
}

// NotificationFailed counts a failed delivery.
func (r *Recorder) NotificationFailed(role string) {
	r.notificationErrors.WithLabelValues(role).Inc()
}

// CheckCompleted records a finished check run.
func (r *Recorder) CheckCompleted(alerts, failed int, duration time.Duration) {
	r.checkRuns.Inc()
	r.checkAlerts.Add(float64(alerts))
	r.checkFailures.Add(float64(failed))
	r.checkDuration.Observe(duration.Seconds())
}

// JobFinished counts a scheduler execution.
func (r *Recorder) JobFinished(job string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	r.jobRuns.WithLabelValues(job, outcome).Inc()
}

// ─────────────────────────────────────────────────────────────────────────────
// HTTP
// ─────────────────────────────────────────────────────────────────────────────

// ObserveHTTP records one served request. route should be the matched
// pattern, not the raw path, to keep label cardinality bounded.
func (r *Recorder) ObserveHTTP(route, method string, status int, duration time.Duration) {
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	r.httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
