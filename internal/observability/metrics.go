// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/commguard/commguard/internal/auth"
)

// OutcomeSuccess labels operations that returned no error. Failures are
// labelled with their auth.Kind.
const OutcomeSuccess = "success"

// AuthMetrics counts credential lifecycle outcomes. It implements auth.Observer.
type AuthMetrics struct {
	OperationsTotal *prometheus.CounterVec
	LockoutsTotal   prometheus.Counter
}

var _ auth.Observer = (*AuthMetrics)(nil)

// NewAuthMetrics creates and registers the auth metrics.
func NewAuthMetrics(reg prometheus.Registerer) *AuthMetrics {
	m := &AuthMetrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commguard_auth_operations_total",
				Help: "Total number of credential operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		LockoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "commguard_account_lockouts_total",
			Help: "Total number of accounts locked after repeated failures",
		}),
	}

	reg.MustRegister(m.OperationsTotal)
	reg.MustRegister(m.LockoutsTotal)
	return m
}

// OperationCompleted counts one finished operation.
func (m *AuthMetrics) OperationCompleted(operation string, kind auth.Kind) {
	outcome := OutcomeSuccess
	if kind != "" {
		outcome = string(kind)
	}
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// AccountLocked counts one lock transition.
func (m *AuthMetrics) AccountLocked() {
	m.LockoutsTotal.Inc()
}
