// Package metrics exposes prometheus counters for the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agora"

// Metrics groups the engine counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Votes             *prometheus.CounterVec
	Acceptances       prometheus.Counter
	Retries           *prometheus.CounterVec
	DroppedEvents     prometheus.Counter
	FailedTransitions *prometheus.CounterVec
}

// New creates the counters and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vote_transitions_total",
			Help:      "Vote transitions applied, by target kind and transition kind.",
		}, []string{"target_kind", "transition"}),
		Acceptances: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answer_acceptances_total",
			Help:      "Answers accepted by question authors.",
		}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Actions retried after a concurrent modification.",
		}, []string{"action"}),
		DroppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Notification events dropped because the queue was full.",
		}),
		FailedTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_actions_total",
			Help:      "Actions rejected or failed, by action and reason.",
		}, []string{"action", "reason"}),
	}

	reg.MustRegister(m.Votes, m.Acceptances, m.Retries, m.DroppedEvents, m.FailedTransitions)
	return m
}

func (m *Metrics) ObserveVote(targetKind string, transition string) {
	if m == nil {
		return
	}
	m.Votes.WithLabelValues(targetKind, transition).Inc()
}

func (m *Metrics) ObserveAcceptance() {
	if m == nil {
		return
	}
	m.Acceptances.Inc()
}

func (m *Metrics) ObserveRetry(action string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveDroppedEvent() {
	if m == nil {
		return
	}
	m.DroppedEvents.Inc()
}

func (m *Metrics) ObserveFailure(action string, reason string) {
	if m == nil {
		return
	}
	m.FailedTransitions.WithLabelValues(action, reason).Inc()
}
