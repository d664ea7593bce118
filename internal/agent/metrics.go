package agent

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts engine decisions. A nil *Metrics is valid and records
// nothing.
//
// Metrics:
//   - loginpattern_classifications_total{type}
//   - loginpattern_overrides_total{rule}
//   - loginpattern_step_outcomes_total{outcome}
//   - loginpattern_proposal_failures_total{stage}
type Metrics struct {
	Classifications  *prometheus.CounterVec
	Overrides        *prometheus.CounterVec
	StepOutcomes     *prometheus.CounterVec
	ProposalFailures *prometheus.CounterVec
}

// NewMetrics creates the engine counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loginpattern_classifications_total",
			Help: "Final flow classifications by type",
		}, []string{"type"}),
		Overrides: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loginpattern_overrides_total",
			Help: "Heuristic overrides that forced a multi-step classification",
		}, []string{"rule"}),
		StepOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loginpattern_step_outcomes_total",
			Help: "Outcomes of the multi-step transition",
		}, []string{"outcome"}),
		ProposalFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loginpattern_proposal_failures_total",
			Help: "Proposal requests that degraded to empty patterns",
		}, []string{"stage"}),
	}
	if reg != nil {
		reg.MustRegister(m.Classifications, m.Overrides, m.StepOutcomes, m.ProposalFailures)
	}
	return m
}

func (m *Metrics) classified(c Classification) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(string(c.Type)).Inc()
	for _, r := range c.Overrides {
		m.Overrides.WithLabelValues(string(r)).Inc()
	}
}

func (m *Metrics) stepOutcome(rep StepReport) {
	if m == nil {
		return
	}
	outcome := "skipped"
	switch rep.Submission {
	case SubmitClick:
		outcome = "submitted_click"
	case SubmitEnter:
		outcome = "submitted_enter"
	}
	m.StepOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) proposalFailed(stage string) {
	if m == nil {
		return
	}
	m.ProposalFailures.WithLabelValues(stage).Inc()
}
