package repositories

import (
	"database/sql"
	"encoding/json"

	"bindery/internal/engine/partner"
	"bindery/internal/platform/models"
)

// PartnerRepository is the sqlite-backed partner.Store.
type PartnerRepository struct {
	db *sql.DB
}

var _ partner.Store = (*PartnerRepository)(nil)

func NewPartnerRepository(db *sql.DB) *PartnerRepository {
	return &PartnerRepository{db: db}
}

func (r *PartnerRepository) SaveApplication(app *models.PartnerApplication) error {
	callbacksJSON, err := json.Marshal(app.CallbackURLs)
	if err != nil {
		return err
	}
	scopesJSON, err := json.Marshal(app.RequestedScopes)
	if err != nil {
		return err
	}
	var approvedAt sql.NullInt64
	if app.ApprovedAt != nil {
		approvedAt = sql.NullInt64{Int64: *app.ApprovedAt, Valid: true}
	}
	_, err = r.db.Exec(`
		INSERT INTO partner_applications (id, name, partner_email, description, callback_urls, tier, requested_scopes, status, created_at, approved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, partner_email = excluded.partner_email, description = excluded.description,
			callback_urls = excluded.callback_urls, tier = excluded.tier, requested_scopes = excluded.requested_scopes,
			status = excluded.status, approved_at = excluded.approved_at
	`, app.ID, app.Name, app.PartnerEmail, app.Description, string(callbacksJSON), string(app.Tier), string(scopesJSON), string(app.Status), app.CreatedAt, approvedAt)
	return err
}

func (r *PartnerRepository) GetApplication(id string) (*models.PartnerApplication, error) {
	row := r.db.QueryRow(`
		SELECT id, name, partner_email, description, callback_urls, tier, requested_scopes, status, created_at, approved_at
		FROM partner_applications WHERE id = ?
	`, id)
	return scanApplication(row)
}

func (r *PartnerRepository) ListApplications(status models.ApplicationStatus) ([]*models.PartnerApplication, error) {
	query := `SELECT id, name, partner_email, description, callback_urls, tier, requested_scopes, status, created_at, approved_at FROM partner_applications`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []*models.PartnerApplication
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

func (r *PartnerRepository) SaveKey(key *models.ApiKey) error {
	scopesJSON, err := json.Marshal(key.Scopes)
	if err != nil {
		return err
	}
	allowlistJSON, err := json.Marshal(key.IPAllowlist)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(`
		INSERT INTO api_keys (id, application_id, tenant_id, name, key_hash, key_prefix, scopes, ip_allowlist, status, rate_limit_per_minute, rate_limit_per_day, last_used_at, expires_at, rotated_at, revoked_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, scopes = excluded.scopes, ip_allowlist = excluded.ip_allowlist,
			status = excluded.status, rate_limit_per_minute = excluded.rate_limit_per_minute,
			rate_limit_per_day = excluded.rate_limit_per_day,
			last_used_at = excluded.last_used_at, expires_at = excluded.expires_at,
			rotated_at = excluded.rotated_at, revoked_at = excluded.revoked_at
	`, key.ID, key.ApplicationID, key.TenantID, key.Name, key.KeyHash, key.KeyPrefix, string(scopesJSON), string(allowlistJSON),
		string(key.Status), nullInt(key.RateLimitPerMinute), nullInt(key.RateLimitPerDay),
		nullInt64(key.LastUsedAt), nullInt64(key.ExpiresAt), nullInt64(key.RotatedAt), nullInt64(key.RevokedAt), key.CreatedAt)
	return err
}

func (r *PartnerRepository) GetKey(id string) (*models.ApiKey, error) {
	row := r.db.QueryRow(keySelect+` WHERE id = ?`, id)
	return scanKey(row)
}

func (r *PartnerRepository) GetKeyByHash(hash string) (*models.ApiKey, error) {
	row := r.db.QueryRow(keySelect+` WHERE key_hash = ?`, hash)
	return scanKey(row)
}

func (r *PartnerRepository) ListKeysByApplication(appID string) ([]*models.ApiKey, error) {
	rows, err := r.db.Query(keySelect+` WHERE application_id = ? ORDER BY created_at`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*models.ApiKey
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (r *PartnerRepository) SaveQuota(q *models.UsageQuota) error {
	_, err := r.db.Exec(`
		INSERT INTO usage_quotas (application_id, period, quota_limit, used, reset_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(application_id, period) DO UPDATE SET
			quota_limit = excluded.quota_limit, used = excluded.used, reset_at = excluded.reset_at
	`, q.ApplicationID, q.Period, q.Limit, q.Used, q.ResetAt)
	return err
}

func (r *PartnerRepository) GetQuotas(appID string) ([]*models.UsageQuota, error) {
	rows, err := r.db.Query(`
		SELECT application_id, period, quota_limit, used, reset_at
		FROM usage_quotas WHERE application_id = ? ORDER BY period
	`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotas []*models.UsageQuota
	for rows.Next() {
		q := &models.UsageQuota{}
		if err := rows.Scan(&q.ApplicationID, &q.Period, &q.Limit, &q.Used, &q.ResetAt); err != nil {
			return nil, err
		}
		quotas = append(quotas, q)
	}
	return quotas, rows.Err()
}

func (r *PartnerRepository) AddUsageRecord(rec *models.UsageRecord) error {
	_, err := r.db.Exec(`
		INSERT INTO usage_records (id, application_id, key_id, endpoint, method, status_code, latency_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.ApplicationID, rec.KeyID, rec.Endpoint, rec.Method, rec.StatusCode, rec.LatencyMs, rec.Timestamp)
	return err
}

func (r *PartnerRepository) ListUsageRecords(appID string, from, to int64) ([]*models.UsageRecord, error) {
	rows, err := r.db.Query(`
		SELECT id, application_id, key_id, endpoint, method, status_code, latency_ms, timestamp
		FROM usage_records WHERE application_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp
	`, appID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.UsageRecord
	for rows.Next() {
		rec := &models.UsageRecord{}
		if err := rows.Scan(&rec.ID, &rec.ApplicationID, &rec.KeyID, &rec.Endpoint, &rec.Method, &rec.StatusCode, &rec.LatencyMs, &rec.Timestamp); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *PartnerRepository) SaveVersion(v *models.ApiVersion) error {
	_, err := r.db.Exec(`
		INSERT INTO api_versions (version, status, released_at, deprecated_at, sunset_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(version) DO UPDATE SET
			status = excluded.status, deprecated_at = excluded.deprecated_at, sunset_at = excluded.sunset_at
	`, v.Version, v.Status, v.ReleasedAt, nullInt64(v.DeprecatedAt), nullInt64(v.SunsetAt))
	return err
}

func (r *PartnerRepository) ListVersions() ([]*models.ApiVersion, error) {
	rows, err := r.db.Query(`SELECT version, status, released_at, deprecated_at, sunset_at FROM api_versions ORDER BY released_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*models.ApiVersion
	for rows.Next() {
		v := &models.ApiVersion{}
		var deprecatedAt, sunsetAt sql.NullInt64
		if err := rows.Scan(&v.Version, &v.Status, &v.ReleasedAt, &deprecatedAt, &sunsetAt); err != nil {
			return nil, err
		}
		if deprecatedAt.Valid {
			v.DeprecatedAt = &deprecatedAt.Int64
		}
		if sunsetAt.Valid {
			v.SunsetAt = &sunsetAt.Int64
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

const keySelect = `SELECT id, application_id, tenant_id, name, key_hash, key_prefix, scopes, ip_allowlist, status, rate_limit_per_minute, rate_limit_per_day, last_used_at, expires_at, rotated_at, revoked_at, created_at FROM api_keys`

func scanApplication(row rowScanner) (*models.PartnerApplication, error) {
	app := &models.PartnerApplication{}
	var description sql.NullString
	var callbacksStr, tier, scopesStr, status string
	var approvedAt sql.NullInt64
	err := row.Scan(&app.ID, &app.Name, &app.PartnerEmail, &description, &callbacksStr, &tier, &scopesStr, &status, &app.CreatedAt, &approvedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, partner.ErrNotFound
		}
		return nil, err
	}
	app.Tier = models.PartnerTier(tier)
	app.Status = models.ApplicationStatus(status)
	if description.Valid {
		app.Description = description.String
	}
	if approvedAt.Valid {
		app.ApprovedAt = &approvedAt.Int64
	}
	if err := json.Unmarshal([]byte(callbacksStr), &app.CallbackURLs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(scopesStr), &app.RequestedScopes); err != nil {
		return nil, err
	}
	return app, nil
}

func scanKey(row rowScanner) (*models.ApiKey, error) {
	key := &models.ApiKey{}
	var tenantID sql.NullString
	var scopesStr string
	var allowlistStr sql.NullString
	var status string
	var ratePerMinute, ratePerDay sql.NullInt64
	var lastUsedAt, expiresAt, rotatedAt, revokedAt sql.NullInt64
	err := row.Scan(&key.ID, &key.ApplicationID, &tenantID, &key.Name, &key.KeyHash, &key.KeyPrefix, &scopesStr, &allowlistStr,
		&status, &ratePerMinute, &ratePerDay, &lastUsedAt, &expiresAt, &rotatedAt, &revokedAt, &key.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, partner.ErrNotFound
		}
		return nil, err
	}
	key.Status = models.KeyStatus(status)
	if tenantID.Valid {
		key.TenantID = tenantID.String
	}
	if err := json.Unmarshal([]byte(scopesStr), &key.Scopes); err != nil {
		return nil, err
	}
	if allowlistStr.Valid && allowlistStr.String != "" {
		if err := json.Unmarshal([]byte(allowlistStr.String), &key.IPAllowlist); err != nil {
			return nil, err
		}
	}
	if ratePerMinute.Valid {
		v := int(ratePerMinute.Int64)
		key.RateLimitPerMinute = &v
	}
	if ratePerDay.Valid {
		v := int(ratePerDay.Int64)
		key.RateLimitPerDay = &v
	}
	if lastUsedAt.Valid {
		key.LastUsedAt = &lastUsedAt.Int64
	}
	if expiresAt.Valid {
		key.ExpiresAt = &expiresAt.Int64
	}
	if rotatedAt.Valid {
		key.RotatedAt = &rotatedAt.Int64
	}
	if revokedAt.Valid {
		key.RevokedAt = &revokedAt.Int64
	}
	return key, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
