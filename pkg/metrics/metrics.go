// Package metrics exposes the service's Prometheus counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
	OutcomeNotFound = "not_found"
)

type Metrics struct {
	registry *prometheus.Registry

	Submissions   *prometheus.CounterVec
	Disbursed     prometheus.Counter
	NICLookups    *prometheus.CounterVec
	Collections   prometheus.Counter
	DraftsSwept   prometheus.Counter
	EventFailures prometheus.Counter
}

// New registers the counters on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loandesk",
			Name:      "application_submissions_total",
			Help:      "Loan application submissions by outcome.",
		}, []string{"outcome"}),
		Disbursed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loandesk",
			Name:      "disbursed_amount_total",
			Help:      "Net cash disbursed to customers.",
		}),
		NICLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loandesk",
			Name:      "nic_lookups_total",
			Help:      "Customer lookups by NIC, by outcome.",
		}, []string{"outcome"}),
		Collections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loandesk",
			Name:      "collections_total",
			Help:      "Weekly collections recorded.",
		}),
		DraftsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loandesk",
			Name:      "drafts_expired_total",
			Help:      "Idle application drafts discarded by the sweeper.",
		}),
		EventFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "loandesk",
			Name:      "event_publish_failures_total",
			Help:      "Domain events that could not be published.",
		}),
	}
	reg.MustRegister(
		m.Submissions, m.Disbursed, m.NICLookups, m.Collections, m.DraftsSwept, m.EventFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
