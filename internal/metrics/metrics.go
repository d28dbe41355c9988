package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "negotiation"
	subsystem = "chat"
)

// Claim outcomes.
const (
	ClaimWon      = "won"
	ClaimTaken    = "already_claimed"
	ClaimNotFound = "not_found"
	ClaimError    = "error"
)

// Metrics groups the chat collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	ClaimsTotal           *prometheus.CounterVec
	RelayPublishFailures  *prometheus.CounterVec
	TimelineDuplicates    *prometheus.CounterVec
	ProvisionalSuperseded prometheus.Counter
	StreamRecords         *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ClaimsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "claims_total",
				Help:      "Conversation claim attempts by outcome",
			},
			[]string{"outcome"},
		),
		RelayPublishFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "relay_publish_failures_total",
				Help:      "Push relay publishes that failed and were dropped",
			},
			[]string{"event"},
		),
		TimelineDuplicates: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "timeline_duplicates_total",
				Help:      "Message deliveries dropped as duplicates, by transport",
			},
			[]string{"source"},
		),
		ProvisionalSuperseded: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "provisional_superseded_total",
				Help:      "Provisional messages replaced by their stored row",
			},
		),
		StreamRecords: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "stream_records_total",
				Help:      "Table stream records forwarded to the change feed",
			},
			[]string{"table", "op"},
		),
	}
}

func (m *Metrics) Claim(outcome string) {
	if m == nil {
		return
	}
	m.ClaimsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RelayFailure(event string) {
	if m == nil {
		return
	}
	m.RelayPublishFailures.WithLabelValues(event).Inc()
}

func (m *Metrics) Duplicate(source string) {
	if m == nil {
		return
	}
	m.TimelineDuplicates.WithLabelValues(source).Inc()
}

func (m *Metrics) Superseded() {
	if m == nil {
		return
	}
	m.ProvisionalSuperseded.Inc()
}

func (m *Metrics) StreamRecord(table, op string) {
	if m == nil {
		return
	}
	m.StreamRecords.WithLabelValues(table, op).Inc()
}
