package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"bindery/internal/platform/metrics"
	"bindery/internal/platform/models"
)

const responseExcerptLimit = 512

// RetryPolicy governs how failed deliveries are rescheduled.
type RetryPolicy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       5,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          time.Hour,
	}
}

// Backoff returns the delay before the attempt following attemptNumber,
// capped at MaxDelay.
func (p RetryPolicy) Backoff(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}
	d := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attemptNumber-1))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Manager owns the endpoint registry and the delivery state machine.
type Manager struct {
	store     Store
	http      *http.Client
	policy    RetryPolicy
	limiter   *rate.Limiter
	batchSize int
}

type Option func(*Manager)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.http = c }
}

func WithRateLimit(perSec float64) Option {
	return func(m *Manager) { m.limiter = rate.NewLimiter(rate.Limit(perSec), 1) }
}

func WithBatchSize(n int) Option {
	return func(m *Manager) { m.batchSize = n }
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		http:      &http.Client{Timeout: 30 * time.Second},
		policy:    DefaultRetryPolicy(),
		batchSize: 50,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EndpointInput is the mutable part of an endpoint registration.
type EndpointInput struct {
	URL         string   `json:"url"`
	Secret      string   `json:"secret"`
	Events      []string `json:"events"`
	Description string   `json:"description"`
}

func (m *Manager) RegisterEndpoint(tenantID string, in EndpointInput) (*models.WebhookEndpoint, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if err := validateEndpointURL(in.URL); err != nil {
		return nil, err
	}
	if len(in.Events) == 0 {
		return nil, fmt.Errorf("at least one event filter is required")
	}

	secret := in.Secret
	if secret == "" {
		var err error
		secret, err = generateSecret()
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().Unix()
	ep := &models.WebhookEndpoint{
		ID:          "ep_" + uuid.New().String(),
		TenantID:    tenantID,
		URL:         in.URL,
		Secret:      secret,
		Events:      in.Events,
		Description: in.Description,
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.SaveEndpoint(ep); err != nil {
		return nil, err
	}
	log.Info().Str("endpoint_id", ep.ID).Str("tenant_id", tenantID).Msg("webhook endpoint registered")
	return ep, nil
}

// EndpointUpdate applies only the fields that are set.
type EndpointUpdate struct {
	URL         *string  `json:"url"`
	Secret      *string  `json:"secret"`
	Events      []string `json:"events"`
	Description *string  `json:"description"`
	Enabled     *bool    `json:"enabled"`
}

func (m *Manager) UpdateEndpoint(id string, upd EndpointUpdate) (*models.WebhookEndpoint, error) {
	ep, err := m.store.GetEndpoint(id)
	if err != nil {
		return nil, err
	}
	if upd.URL != nil {
		if err := validateEndpointURL(*upd.URL); err != nil {
			return nil, err
		}
		ep.URL = *upd.URL
	}
	if upd.Secret != nil && *upd.Secret != "" {
		ep.Secret = *upd.Secret
	}
	if len(upd.Events) > 0 {
		ep.Events = upd.Events
	}
	if upd.Description != nil {
		ep.Description = *upd.Description
	}
	if upd.Enabled != nil {
		ep.Enabled = *upd.Enabled
	}
	ep.UpdatedAt = time.Now().Unix()
	if err := m.store.SaveEndpoint(ep); err != nil {
		return nil, err
	}
	return ep, nil
}

func (m *Manager) DeleteEndpoint(id string) error {
	return m.store.DeleteEndpoint(id)
}

func (m *Manager) GetEndpoint(id string) (*models.WebhookEndpoint, error) {
	return m.store.GetEndpoint(id)
}

func (m *Manager) ListEndpoints(tenantID string) ([]*models.WebhookEndpoint, error) {
	return m.store.ListEndpoints(tenantID)
}

func (m *Manager) ListDeliveries(endpointID string, limit int) ([]*models.WebhookDelivery, error) {
	return m.store.ListDeliveriesByEndpoint(endpointID, limit)
}

// envelope is the canonical wire form of an event.
type envelope struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// Emit creates one PENDING delivery per enabled endpoint of the event's
// tenant whose filter list matches the event type. Returns the created
// delivery ids.
func (m *Manager) Emit(event *models.WebhookEvent) ([]string, error) {
	if event.Type == "" {
		return nil, fmt.Errorf("event type is required")
	}
	if event.ID == "" {
		event.ID = "evt_" + uuid.New().String()
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	endpoints, err := m.store.ListEndpoints(event.TenantID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(envelope{
		ID:        event.ID,
		Type:      event.Type,
		Timestamp: time.Unix(event.Timestamp, 0).UTC().Format(time.RFC3339),
		Data:      event.Data,
		Metadata:  event.Metadata,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	var ids []string
	for _, ep := range endpoints {
		if !ep.Enabled || !Matches(event.Type, ep.Events) {
			continue
		}
		d := &models.WebhookDelivery{
			ID:         "dlv_" + uuid.New().String(),
			EndpointID: ep.ID,
			TenantID:   event.TenantID,
			EventID:    event.ID,
			EventType:  event.Type,
			Payload:    payload,
			Status:     models.DeliveryPending,
			CreatedAt:  now,
		}
		if err := m.store.SaveDelivery(d); err != nil {
			return ids, err
		}
		ids = append(ids, d.ID)
	}
	log.Debug().Str("event_type", event.Type).Int("deliveries", len(ids)).Msg("event emitted")
	return ids, nil
}

// ProcessPendingDeliveries drains due deliveries and attempts each one.
// Returns the number of deliveries attempted.
func (m *Manager) ProcessPendingDeliveries(ctx context.Context) int {
	due, err := m.store.ListDueDeliveries(time.Now().Unix(), m.batchSize)
	if err != nil {
		log.Error().Err(err).Msg("failed to list due deliveries")
		return 0
	}
	n := 0
	for _, d := range due {
		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				return n
			}
		}
		if err := m.AttemptDelivery(ctx, d); err != nil {
			log.Error().Err(err).Str("delivery_id", d.ID).Msg("delivery attempt errored")
		}
		n++
	}
	return n
}

// AttemptDelivery runs one attempt of the delivery state machine.
func (m *Manager) AttemptDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	if d.Status.Terminal() {
		return nil
	}
	ep, err := m.store.GetEndpoint(d.EndpointID)
	if err != nil {
		// Endpoint deleted after enqueue: nothing left to deliver to.
		d.Status = models.DeliveryExhausted
		completeNow(d)
		return m.store.SaveDelivery(d)
	}

	d.Status = models.DeliveryInProgress
	if err := m.store.SaveDelivery(d); err != nil {
		return err
	}

	attempt := models.DeliveryAttempt{
		Number:      len(d.Attempts) + 1,
		AttemptedAt: time.Now().Unix(),
	}

	code, body, reqErr, latency := m.post(ctx, ep, d)
	attempt.StatusCode = code
	attempt.LatencyMs = latency
	attempt.ResponseBody = body
	if reqErr != nil {
		attempt.Error = reqErr.Error()
	}
	d.Attempts = append(d.Attempts, attempt)

	switch classify(code, reqErr) {
	case outcomeDelivered:
		d.Status = models.DeliveryDelivered
		completeNow(d)
		metrics.WebhookDeliveries.WithLabelValues(d.EventType, "delivered").Inc()
		metrics.WebhookLatency.WithLabelValues(d.EventType, "delivered").Observe(float64(latency))
	case outcomeRetryable:
		if attempt.Number >= m.policy.MaxAttempts {
			d.Status = models.DeliveryExhausted
			completeNow(d)
			metrics.WebhookDeliveries.WithLabelValues(d.EventType, "exhausted").Inc()
		} else {
			d.Status = models.DeliveryRetrying
			d.NextAttempt = time.Now().Add(m.policy.Backoff(attempt.Number)).Unix()
			metrics.WebhookDeliveries.WithLabelValues(d.EventType, "retrying").Inc()
		}
	case outcomePermanent:
		d.Status = models.DeliveryExhausted
		completeNow(d)
		metrics.WebhookDeliveries.WithLabelValues(d.EventType, "rejected").Inc()
	}

	if d.Status == models.DeliveryExhausted {
		log.Warn().
			Str("delivery_id", d.ID).
			Str("endpoint_id", d.EndpointID).
			Int("attempts", len(d.Attempts)).
			Msg("webhook delivery exhausted")
	}
	return m.store.SaveDelivery(d)
}

func (m *Manager) post(ctx context.Context, ep *models.WebhookEndpoint, d *models.WebhookDelivery) (code int, excerpt string, err error, latencyMs int64) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return 0, "", err, 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Id", d.ID)
	req.Header.Set("X-Webhook-Signature", sign(ep.Secret, d.Payload))
	req.Header.Set("X-Webhook-Timestamp", time.Now().UTC().Format(time.RFC3339))

	start := time.Now()
	resp, err := m.http.Do(req)
	latencyMs = time.Since(start).Milliseconds()
	if err != nil {
		return 0, "", err, latencyMs
	}
	defer resp.Body.Close()

	buf, _ := io.ReadAll(io.LimitReader(resp.Body, responseExcerptLimit))
	return resp.StatusCode, string(buf), nil, latencyMs
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeRetryable
	outcomePermanent
)

// classify maps one attempt's result onto the retry policy: 2xx succeeds,
// 5xx/429/408 and transport errors are transient, everything else is
// permanent.
func classify(code int, err error) outcome {
	if err != nil {
		return outcomeRetryable
	}
	if code >= 200 && code < 300 {
		return outcomeDelivered
	}
	if code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
		return outcomeRetryable
	}
	return outcomePermanent
}

func completeNow(d *models.WebhookDelivery) {
	if d.CompletedAt == nil {
		now := time.Now().Unix()
		d.CompletedAt = &now
	}
}

func (m *Manager) GetEndpointStats(endpointID string) (*models.EndpointStats, error) {
	if _, err := m.store.GetEndpoint(endpointID); err != nil {
		return nil, err
	}
	deliveries, err := m.store.ListDeliveriesByEndpoint(endpointID, 0)
	if err != nil {
		return nil, err
	}

	stats := &models.EndpointStats{EndpointID: endpointID}
	var latencySum int64
	var latencyCount int
	for _, d := range deliveries {
		stats.Total++
		switch d.Status {
		case models.DeliveryDelivered:
			stats.Delivered++
			if d.CompletedAt != nil && *d.CompletedAt > stats.LastDelivery {
				stats.LastDelivery = *d.CompletedAt
			}
		case models.DeliveryExhausted:
			stats.Exhausted++
		default:
			stats.Pending++
		}
		for _, a := range d.Attempts {
			latencySum += a.LatencyMs
			latencyCount++
		}
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Delivered) / float64(stats.Total)
	}
	if latencyCount > 0 {
		stats.AvgLatencyMs = float64(latencySum) / float64(latencyCount)
	}
	return stats, nil
}

func validateEndpointURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid endpoint url %q", raw)
	}
	return nil
}
