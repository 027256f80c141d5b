package models

type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "PENDING"
	DeliveryInProgress DeliveryStatus = "IN_PROGRESS"
	DeliveryDelivered  DeliveryStatus = "DELIVERED"
	DeliveryRetrying   DeliveryStatus = "RETRYING"
	DeliveryFailed     DeliveryStatus = "FAILED"
	DeliveryExhausted  DeliveryStatus = "EXHAUSTED"
)

// Terminal reports whether the delivery will never be attempted again.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryDelivered || s == DeliveryExhausted
}

type WebhookEndpoint struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"tenant_id"`
	URL         string   `json:"url"`
	Secret      string   `json:"-"`
	Events      []string `json:"events"` // JSON array in DB
	Description string   `json:"description,omitempty"`
	Enabled     bool     `json:"enabled"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at"`
}

type WebhookEvent struct {
	ID        string                 `json:"id"`
	TenantID  string                 `json:"tenant_id"`
	Type      string                 `json:"type"` // dotted, e.g. "payment.completed"
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

type DeliveryAttempt struct {
	Number       int    `json:"number"`
	AttemptedAt  int64  `json:"attempted_at"`
	StatusCode   int    `json:"status_code,omitempty"`
	Error        string `json:"error,omitempty"`
	LatencyMs    int64  `json:"latency_ms"`
	ResponseBody string `json:"response_body,omitempty"` // excerpt only
}

type WebhookDelivery struct {
	ID          string            `json:"id"`
	EndpointID  string            `json:"endpoint_id"`
	TenantID    string            `json:"tenant_id"`
	EventID     string            `json:"event_id"`
	EventType   string            `json:"event_type"`
	Payload     []byte            `json:"-"` // signed envelope bytes
	Status      DeliveryStatus    `json:"status"`
	Attempts    []DeliveryAttempt `json:"attempts"` // append-only, JSON array in DB
	NextAttempt int64             `json:"next_attempt_at,omitempty"`
	CreatedAt   int64             `json:"created_at"`
	CompletedAt *int64            `json:"completed_at,omitempty"`
}

// EndpointStats is the aggregate delivery view for one endpoint.
type EndpointStats struct {
	EndpointID   string  `json:"endpoint_id"`
	Total        int     `json:"total"`
	Delivered    int     `json:"delivered"`
	Exhausted    int     `json:"exhausted"`
	Pending      int     `json:"pending"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	LastDelivery int64   `json:"last_delivery_at,omitempty"`
}
