package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ledger's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	EventsTotal          *prometheus.CounterVec
	RejectionsTotal      *prometheus.CounterVec
	AppendDuration       prometheus.Histogram
	ScansTotal           *prometheus.CounterVec
	DiscrepanciesTotal   prometheus.Counter
	PublishFailuresTotal prometheus.Counter
	OpenAuditSessions    prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warehouse_ledger_events_total",
			Help: "Ledger events committed, by event type",
		}, []string{"type"}),
		RejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warehouse_ledger_rejections_total",
			Help: "Appends rejected before commit, by reason",
		}, []string{"reason"}),
		AppendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "warehouse_ledger_append_seconds",
			Help:    "Time from lock acquisition request to commit for one append",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		ScansTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "warehouse_scans_total",
			Help: "Scanned payloads, by resolution result",
		}, []string{"result"}),
		DiscrepanciesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "warehouse_reconciliation_discrepancies_total",
			Help: "Discrepancies found by reconciliation runs",
		}),
		PublishFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "warehouse_publish_failures_total",
			Help: "Committed events that could not be handed to the event stream",
		}),
		OpenAuditSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "warehouse_open_audit_sessions",
			Help: "Audit sessions currently open or awaiting review",
		}),
	}
}

func (m *Metrics) ObserveEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	m.RejectionsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveAppend(d time.Duration) {
	if m == nil {
		return
	}
	m.AppendDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveScan(result string) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) AddDiscrepancies(n int) {
	if m == nil {
		return
	}
	m.DiscrepanciesTotal.Add(float64(n))
}

func (m *Metrics) IncrementPublishFailures() {
	if m == nil {
		return
	}
	m.PublishFailuresTotal.Inc()
}

func (m *Metrics) SetOpenAuditSessions(n int) {
	if m == nil {
		return
	}
	m.OpenAuditSessions.Set(float64(n))
}
