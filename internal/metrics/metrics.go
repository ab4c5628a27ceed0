// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WorkflowSteps counts advance() deliveries by outcome.
	WorkflowSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procure",
		Subsystem: "workflow",
		Name:      "steps_total",
		Help:      "Workflow trigger deliveries by outcome.",
	}, []string{"outcome"})

	// WorkflowFailures counts executions that moved to FAILED.
	WorkflowFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "procure",
		Subsystem: "workflow",
		Name:      "failures_total",
		Help:      "Workflow executions that reached FAILED.",
	})

	// QuotesIngested counts stored quotes by source.
	QuotesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procure",
		Subsystem: "quotes",
		Name:      "ingested_total",
		Help:      "Quotes stored, by source.",
	}, []string{"source"})

	// GatewayEvents counts payment gateway events by reported status.
	GatewayEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procure",
		Subsystem: "payments",
		Name:      "gateway_events_total",
		Help:      "Payment gateway status events received.",
	}, []string{"status"})
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
