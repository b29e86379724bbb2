// Package metrics exposes prometheus collectors for authentication and
// record lifecycle activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "carekeeper"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	loginAttempts *prometheus.CounterVec
	lockouts      prometheus.Counter
	transitions   *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	sweepLocked   *prometheus.CounterVec
	sweepRuns     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Authentication attempts by outcome and reason.",
		}, []string{"outcome", "reason"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_lockouts_total",
			Help:      "Accounts locked after repeated failures.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_transitions_total",
			Help:      "Applied record status transitions.",
		}, []string{"entity", "status"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_transition_rejections_total",
			Help:      "Refused lock and delete requests by reason.",
		}, []string{"entity", "op", "reason"}),
		sweepLocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_locked_total",
			Help:      "Records locked by the retention sweep.",
		}, []string{"entity"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Retention sweep runs by result.",
		}, []string{"entity", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.loginAttempts, m.lockouts, m.transitions, m.rejections, m.sweepLocked, m.sweepRuns)
	}
	return m
}

// LoginAttempt counts one authentication call.
func (m *Metrics) LoginAttempt(outcome, reason string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(outcome, reason).Inc()
}

// Lockout counts an account entering the locked-out state.
func (m *Metrics) Lockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

// Transition counts an applied status change.
func (m *Metrics) Transition(entity, status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(entity, status).Inc()
}

// Rejection counts a refused lock or delete.
func (m *Metrics) Rejection(entity, op, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(entity, op, reason).Inc()
}

// Sweep records the result of one sweep run over an entity type.
func (m *Metrics) Sweep(entity string, locked int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweepRuns.WithLabelValues(entity, result).Inc()
	m.sweepLocked.WithLabelValues(entity).Add(float64(locked))
}
