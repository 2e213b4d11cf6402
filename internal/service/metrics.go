package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var webhookEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cisnatura_webhook_events_total",
		Help: "Webhook events processed, by provider, normalized status and outcome",
	},
	[]string{"provider", "status", "outcome"},
)

const (
	outcomeApplied   = "applied"
	outcomeDuplicate = "duplicate"
	outcomeNoop      = "noop"
	outcomeFlagged   = "flagged"
	outcomeError     = "error"
)

func recordWebhookEvent(provider, status, outcome string) {
	webhookEventsTotal.WithLabelValues(provider, status, outcome).Inc()
}
