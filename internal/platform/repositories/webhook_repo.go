package repositories

import (
	"database/sql"
	"encoding/json"

	"bindery/internal/engine/webhooks"
	"bindery/internal/platform/models"
)

// WebhookRepository is the sqlite-backed webhooks.Store.
type WebhookRepository struct {
	db *sql.DB
}

var _ webhooks.Store = (*WebhookRepository)(nil)

func NewWebhookRepository(db *sql.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

func (r *WebhookRepository) SaveEndpoint(ep *models.WebhookEndpoint) error {
	eventsJSON, err := json.Marshal(ep.Events)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(`
		INSERT INTO webhook_endpoints (id, tenant_id, url, secret, events, description, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url, secret = excluded.secret, events = excluded.events,
			description = excluded.description, enabled = excluded.enabled, updated_at = excluded.updated_at
	`, ep.ID, ep.TenantID, ep.URL, ep.Secret, string(eventsJSON), ep.Description, ep.Enabled, ep.CreatedAt, ep.UpdatedAt)
	return err
}

func (r *WebhookRepository) GetEndpoint(id string) (*models.WebhookEndpoint, error) {
	row := r.db.QueryRow(`
		SELECT id, tenant_id, url, secret, events, description, enabled, created_at, updated_at
		FROM webhook_endpoints WHERE id = ?
	`, id)
	return scanEndpoint(row)
}

func (r *WebhookRepository) ListEndpoints(tenantID string) ([]*models.WebhookEndpoint, error) {
	rows, err := r.db.Query(`
		SELECT id, tenant_id, url, secret, events, description, enabled, created_at, updated_at
		FROM webhook_endpoints WHERE tenant_id = ? ORDER BY created_at
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var endpoints []*models.WebhookEndpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

func (r *WebhookRepository) DeleteEndpoint(id string) error {
	res, err := r.db.Exec(`DELETE FROM webhook_endpoints WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return webhooks.ErrNotFound
	}
	return nil
}

func (r *WebhookRepository) SaveDelivery(d *models.WebhookDelivery) error {
	attemptsJSON, err := json.Marshal(d.Attempts)
	if err != nil {
		return err
	}
	var completedAt sql.NullInt64
	if d.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: *d.CompletedAt, Valid: true}
	}
	_, err = r.db.Exec(`
		INSERT INTO webhook_deliveries (id, endpoint_id, tenant_id, event_id, event_type, payload, status, attempts, next_attempt, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status, attempts = excluded.attempts,
			next_attempt = excluded.next_attempt, completed_at = excluded.completed_at
	`, d.ID, d.EndpointID, d.TenantID, d.EventID, d.EventType, d.Payload, string(d.Status), string(attemptsJSON), d.NextAttempt, d.CreatedAt, completedAt)
	return err
}

func (r *WebhookRepository) GetDelivery(id string) (*models.WebhookDelivery, error) {
	row := r.db.QueryRow(`
		SELECT id, endpoint_id, tenant_id, event_id, event_type, payload, status, attempts, next_attempt, created_at, completed_at
		FROM webhook_deliveries WHERE id = ?
	`, id)
	return scanDelivery(row)
}

func (r *WebhookRepository) ListDueDeliveries(now int64, limit int) ([]*models.WebhookDelivery, error) {
	rows, err := r.db.Query(`
		SELECT id, endpoint_id, tenant_id, event_id, event_type, payload, status, attempts, next_attempt, created_at, completed_at
		FROM webhook_deliveries
		WHERE status IN (?, ?) AND next_attempt <= ?
		ORDER BY next_attempt LIMIT ?
	`, string(models.DeliveryPending), string(models.DeliveryRetrying), now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeliveries(rows)
}

func (r *WebhookRepository) ListDeliveriesByEndpoint(endpointID string, limit int) ([]*models.WebhookDelivery, error) {
	rows, err := r.db.Query(`
		SELECT id, endpoint_id, tenant_id, event_id, event_type, payload, status, attempts, next_attempt, created_at, completed_at
		FROM webhook_deliveries WHERE endpoint_id = ? ORDER BY created_at DESC LIMIT ?
	`, endpointID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDeliveries(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEndpoint(row rowScanner) (*models.WebhookEndpoint, error) {
	ep := &models.WebhookEndpoint{}
	var eventsStr string
	var description sql.NullString
	err := row.Scan(&ep.ID, &ep.TenantID, &ep.URL, &ep.Secret, &eventsStr, &description, &ep.Enabled, &ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, webhooks.ErrNotFound
		}
		return nil, err
	}
	if description.Valid {
		ep.Description = description.String
	}
	if err := json.Unmarshal([]byte(eventsStr), &ep.Events); err != nil {
		return nil, err
	}
	return ep, nil
}

func scanDelivery(row rowScanner) (*models.WebhookDelivery, error) {
	d := &models.WebhookDelivery{}
	var status, attemptsStr string
	var completedAt sql.NullInt64
	err := row.Scan(&d.ID, &d.EndpointID, &d.TenantID, &d.EventID, &d.EventType, &d.Payload, &status, &attemptsStr, &d.NextAttempt, &d.CreatedAt, &completedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, webhooks.ErrNotFound
		}
		return nil, err
	}
	d.Status = models.DeliveryStatus(status)
	if completedAt.Valid {
		d.CompletedAt = &completedAt.Int64
	}
	if err := json.Unmarshal([]byte(attemptsStr), &d.Attempts); err != nil {
		return nil, err
	}
	return d, nil
}

func collectDeliveries(rows *sql.Rows) ([]*models.WebhookDelivery, error) {
	var deliveries []*models.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}
