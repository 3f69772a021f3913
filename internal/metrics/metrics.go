// Package metrics exposes Prometheus instrumentation for the sync engine.
//
// A nil *Metrics is valid and records nothing, so callers never need to
// guard instrumentation calls.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crmchat"

// Poll outcomes.
const (
	PollOK        = "ok"
	PollError     = "error"
	PollSkipped   = "skipped"
	PollDiscarded = "discarded"
)

// Metrics holds the collectors for one process. Each instance owns its own
// registry so tests and embedded callers never collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	polls           *prometheus.CounterVec
	backfillPages   prometheus.Counter
	mergedMessages  prometheus.Counter
	markRead        *prometheus.CounterVec
	timelineSize    prometheus.Gauge
	unreadTotal     prometheus.Gauge
}

// New creates a Metrics instance with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "CRM backend request latency by endpoint and status code.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint", "code"},
		),
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "polls_total",
				Help:      "Live refresh polls by outcome.",
			},
			[]string{"result"},
		),
		backfillPages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_pages_total",
			Help:      "Older message pages merged into open conversations.",
		}),
		mergedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merged_messages_total",
			Help:      "Messages newly added to a timeline by a merge.",
		}),
		markRead: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mark_read_total",
				Help:      "Mark-read requests by outcome.",
			},
			[]string{"result"},
		),
		timelineSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "timeline_messages",
			Help:      "Messages held by the open conversation.",
		}),
		unreadTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loaded_unread_total",
			Help:      "Unread messages across loaded conversations.",
		}),
	}

	m.registry.MustRegister(
		m.requestDuration,
		m.polls,
		m.backfillPages,
		m.mergedMessages,
		m.markRead,
		m.timelineSize,
		m.unreadTotal,
		prometheus.NewGoCollector(),
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one backend round-trip. status 0 means the request
// never produced a response.
func (m *Metrics) ObserveRequest(endpoint string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := "none"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.requestDuration.WithLabelValues(endpoint, code).Observe(elapsed.Seconds())
}

// Poll counts one live refresh tick by result.
func (m *Metrics) Poll(result string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(result).Inc()
}

// BackfillPage counts one merged page of older messages.
func (m *Metrics) BackfillPage() {
	if m == nil {
		return
	}
	m.backfillPages.Inc()
}

// Merged adds n newly merged messages.
func (m *Metrics) Merged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.mergedMessages.Add(float64(n))
}

// MarkRead counts a mark-read attempt.
func (m *Metrics) MarkRead(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.markRead.WithLabelValues(result).Inc()
}

// SetTimelineSize reports the current open-conversation message count.
func (m *Metrics) SetTimelineSize(n int) {
	if m == nil {
		return
	}
	m.timelineSize.Set(float64(n))
}

// SetUnreadTotal reports the unread aggregate over loaded conversations.
func (m *Metrics) SetUnreadTotal(n int) {
	if m == nil {
		return
	}
	m.unreadTotal.Set(float64(n))
}
