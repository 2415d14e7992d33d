// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package audit

import "github.com/prometheus/client_golang/prometheus"

var (
	droppedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "commguard_audit_dropped_total",
		Help: "Total number of audit events dropped because the buffer was full",
	})

	failuresCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commguard_audit_failures_total",
		Help: "Total number of audit delivery failures by reason",
	}, []string{"reason"})

	walEntriesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "commguard_audit_wal_entries",
		Help: "Current number of audit events waiting in the write-ahead log",
	})
)

// Collectors returns the audit metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{droppedCounter, failuresCounter, walEntriesGauge}
}
