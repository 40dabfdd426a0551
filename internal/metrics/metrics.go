// Package metrics declares the prometheus collectors exported on
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SweptAccounts counts accounts deprovisioned by the expiration sweep.
	SweptAccounts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vpnbot_swept_accounts_total",
		Help: "Accounts deprovisioned by the expiration sweep.",
	})

	// ReconciledPayments counts payments settled by reconciliation.
	ReconciledPayments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vpnbot_reconciled_payments_total",
		Help: "Payment intents completed by reconciliation.",
	})

	// JobRuns counts scheduler job executions by job name.
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vpnbot_job_runs_total",
		Help: "Scheduler job executions.",
	}, []string{"job"})

	// JobErrors counts scheduler job failures by job name.
	JobErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vpnbot_job_errors_total",
		Help: "Scheduler job failures.",
	}, []string{"job"})
)
