package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cyclebridge_webhooks_received_total",
		Help: "Webhook deliveries received, by verification outcome",
	}, []string{"outcome"})

	CommandsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cyclebridge_commands_dispatched_total",
		Help: "Cycle-start commands published to the transport",
	})

	DispatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cyclebridge_dispatch_failures_total",
		Help: "Publish attempts that failed and were left pending in the outbox",
	})

	PaymentsInitiated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cyclebridge_payments_initiated_total",
		Help: "Gateway payments created through the initiation endpoint",
	}, []string{"tenant"})
)
