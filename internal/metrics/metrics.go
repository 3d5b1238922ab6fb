// Package metrics exposes Prometheus counters for sessions and logins.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Validation results.
const (
	ResultValid   = "valid"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

// Recorder is what the HTTP layer reports to. Core packages never see it.
type Recorder interface {
	RecordValidation(result string)
	RecordRotation()
	RecordSessionIssued()
	RecordLinkOutcome(outcome, reason string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordValidation(string)          {}
func (Nop) RecordRotation()                  {}
func (Nop) RecordSessionIssued()             {}
func (Nop) RecordLinkOutcome(string, string) {}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	validations    *prometheus.CounterVec
	rotations      prometheus.Counter
	sessionsIssued prometheus.Counter
	linkOutcomes   *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_session_validations_total",
			Help: "Session token validations by result.",
		}, []string{"result"}),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "identity_session_rotations_total",
			Help: "Sessions whose expiry was extended on validation.",
		}),
		sessionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "identity_sessions_issued_total",
			Help: "Sessions created after a successful login.",
		}),
		linkOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identity_link_outcomes_total",
			Help: "Provider callback outcomes by kind and rejection reason.",
		}, []string{"outcome", "reason"}),
	}

	reg.MustRegister(
		c.validations,
		c.rotations,
		c.sessionsIssued,
		c.linkOutcomes,
	)

	return c
}

func (c *Collector) RecordValidation(result string) {
	c.validations.WithLabelValues(result).Inc()
}

func (c *Collector) RecordRotation() {
	c.rotations.Inc()
}

func (c *Collector) RecordSessionIssued() {
	c.sessionsIssued.Inc()
}

func (c *Collector) RecordLinkOutcome(outcome, reason string) {
	c.linkOutcomes.WithLabelValues(outcome, reason).Inc()
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
