package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the integration layer.
	Registry = prometheus.NewRegistry()

	// WebhookDeliveries counts delivery attempts by event type and outcome.
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook delivery attempts by event type and outcome."},
		[]string{"event_type", "outcome"},
	)
	// WebhookLatency tracks delivery latencies in milliseconds.
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "outcome"},
	)

	// KeyValidations counts API key validation results by reason ("ok" on success).
	KeyValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_key_validations_total", Help: "API key validations by result."},
		[]string{"result"},
	)
	// QuotaDenials counts quota check denials by period.
	QuotaDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "quota_denials_total", Help: "Quota check denials by period."},
		[]string{"period"},
	)

	// WorkflowExecutions counts finished executions by terminal status.
	WorkflowExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "workflow_executions_total", Help: "Workflow executions by terminal status."},
		[]string{"status"},
	)
	// WorkflowActions counts action results by type and status.
	WorkflowActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "workflow_actions_total", Help: "Workflow action results by type and status."},
		[]string{"type", "status"},
	)
)

var regOnce sync.Once

// RegisterDefault registers all collectors on the package registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		Registry.MustRegister(KeyValidations)
		Registry.MustRegister(QuotaDenials)
		Registry.MustRegister(WorkflowExecutions)
		Registry.MustRegister(WorkflowActions)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}
