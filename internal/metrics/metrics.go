// Package metrics provides Prometheus metrics for OTAI.
//
// All methods are safe to call on a nil *Metrics, so components built
// without metrics need no special casing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Archive reasons.
const (
	ReasonIdle            = "idle"
	ReasonNewConversation = "new_conversation"
	ReasonResume          = "resume"
)

// Referral outcomes.
const (
	OutcomeSent     = "sent"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

// Metrics holds all Prometheus metrics for OTAI.
type Metrics struct {
	registry *prometheus.Registry

	SessionsArchivedTotal *prometheus.CounterVec
	ReferralsTotal        *prometheus.CounterVec
	AICompletionsTotal    *prometheus.CounterVec
	EscalationsTotal      prometheus.Counter

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates all metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.SessionsArchivedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otai_sessions_archived_total",
			Help: "Total number of chat sessions moved to the archive",
		},
		[]string{"reason"},
	)

	m.ReferralsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otai_referrals_total",
			Help: "Total number of referral submissions by outcome",
		},
		[]string{"outcome"},
	)

	m.AICompletionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otai_ai_completions_total",
			Help: "Total number of AI completion requests by outcome",
		},
		[]string{"outcome"},
	)

	m.EscalationsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "otai_escalations_total",
			Help: "Total number of assistant replies that suggested escalation",
		},
	)

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otai_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "code"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "otai_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// SessionArchived counts one archived session.
func (m *Metrics) SessionArchived(reason string) {
	if m == nil {
		return
	}
	m.SessionsArchivedTotal.WithLabelValues(reason).Inc()
}

// ReferralOutcome counts one referral submission result.
func (m *Metrics) ReferralOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ReferralsTotal.WithLabelValues(outcome).Inc()
}

// AICompletion counts one completion request. outcome is "ok" or an error class.
func (m *Metrics) AICompletion(outcome string) {
	if m == nil {
		return
	}
	m.AICompletionsTotal.WithLabelValues(outcome).Inc()
}

// EscalationSuggested counts one escalation marker.
func (m *Metrics) EscalationSuggested() {
	if m == nil {
		return
	}
	m.EscalationsTotal.Inc()
}

// RecordHTTPRequest records a served request.
func (m *Metrics) RecordHTTPRequest(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}
