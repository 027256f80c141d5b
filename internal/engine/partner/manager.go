package partner

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apierrors "bindery/internal/pkg/errors"
	"bindery/internal/pkg/signing"
	"bindery/internal/platform/metrics"
	"bindery/internal/platform/models"
)

const keyPrefixDisplayLen = 12

// Manager owns partner application lifecycle, key issuance and
// validation, quota accounting, and usage analytics.
type Manager struct {
	store Store
}

func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

type ApplicationInput struct {
	Name            string             `json:"name"`
	PartnerEmail    string             `json:"partner_email"`
	Description     string             `json:"description"`
	CallbackURLs    []string           `json:"callback_urls"`
	Tier            models.PartnerTier `json:"tier"`
	RequestedScopes []string           `json:"requested_scopes"`
}

func (m *Manager) RegisterApplication(in ApplicationInput) (*models.PartnerApplication, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("application name is required")
	}
	if !strings.Contains(in.PartnerEmail, "@") {
		return nil, fmt.Errorf("invalid partner email %q", in.PartnerEmail)
	}
	if !in.Tier.Valid() {
		return nil, fmt.Errorf("unknown tier %q", in.Tier)
	}
	for _, cb := range in.CallbackURLs {
		u, err := url.Parse(cb)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return nil, fmt.Errorf("callback url %q must be https", cb)
		}
	}
	for _, scope := range in.RequestedScopes {
		if _, ok := ScopeByID(scope); !ok {
			return nil, fmt.Errorf("unknown scope %q", scope)
		}
	}

	app := &models.PartnerApplication{
		ID:              "app_" + uuid.New().String(),
		Name:            in.Name,
		PartnerEmail:    in.PartnerEmail,
		Description:     in.Description,
		CallbackURLs:    in.CallbackURLs,
		Tier:            in.Tier,
		RequestedScopes: in.RequestedScopes,
		Status:          models.AppPending,
		CreatedAt:       time.Now().Unix(),
	}
	if err := m.store.SaveApplication(app); err != nil {
		return nil, err
	}
	log.Info().Str("application_id", app.ID).Str("tier", string(app.Tier)).Msg("partner application registered")
	return app, nil
}

// ApproveApplication moves a pending application to approved and
// initializes its quotas. Quotas are initialized exactly once.
func (m *Manager) ApproveApplication(id string) (*models.PartnerApplication, error) {
	app, err := m.store.GetApplication(id)
	if err != nil {
		return nil, err
	}
	if app.Status != models.AppPending {
		return nil, fmt.Errorf("application %s is %s, only pending applications can be approved", id, app.Status)
	}

	now := time.Now().Unix()
	app.Status = models.AppApproved
	app.ApprovedAt = &now
	if err := m.store.SaveApplication(app); err != nil {
		return nil, err
	}

	limits := TierLimits[app.Tier]
	quotas := []*models.UsageQuota{
		{ApplicationID: app.ID, Period: "minute", Limit: limits.RequestsPerMinute, ResetAt: nextBoundary(now, "minute")},
		{ApplicationID: app.ID, Period: "day", Limit: limits.RequestsPerDay, ResetAt: nextBoundary(now, "day")},
	}
	for _, q := range quotas {
		if err := m.store.SaveQuota(q); err != nil {
			return nil, err
		}
	}
	return app, nil
}

func (m *Manager) RejectApplication(id string) (*models.PartnerApplication, error) {
	return m.setApplicationStatus(id, models.AppPending, models.AppRejected)
}

func (m *Manager) SuspendApplication(id string) (*models.PartnerApplication, error) {
	return m.setApplicationStatus(id, models.AppApproved, models.AppSuspended)
}

func (m *Manager) setApplicationStatus(id string, from, to models.ApplicationStatus) (*models.PartnerApplication, error) {
	app, err := m.store.GetApplication(id)
	if err != nil {
		return nil, err
	}
	if app.Status != from {
		return nil, fmt.Errorf("application %s is %s, not %s", id, app.Status, from)
	}
	app.Status = to
	if err := m.store.SaveApplication(app); err != nil {
		return nil, err
	}
	return app, nil
}

func (m *Manager) GetApplication(id string) (*models.PartnerApplication, error) {
	return m.store.GetApplication(id)
}

func (m *Manager) ListApplications(status models.ApplicationStatus) ([]*models.PartnerApplication, error) {
	return m.store.ListApplications(status)
}

type KeyInput struct {
	Name          string   `json:"name"`
	Scopes        []string `json:"scopes"`
	TenantID      string   `json:"tenant_id"`
	IPAllowlist   []string `json:"ip_allowlist"`
	ExpiresInDays int      `json:"expires_in_days"`
	// Optional per-key rate limits; values above the tier limit are
	// clamped down to it, zero means the tier limit applies as-is.
	RequestsPerMinute int `json:"requests_per_minute"`
	RequestsPerDay    int `json:"requests_per_day"`
}

// rateOverride clamps a requested per-key limit to the tier ceiling.
// Returns nil for zero or negative requests, meaning no override.
func rateOverride(requested, tierLimit int) *int {
	if requested <= 0 {
		return nil
	}
	if requested > tierLimit {
		requested = tierLimit
	}
	return &requested
}

// CreateApiKey issues a key for an approved application. The plaintext
// is returned exactly once; only its SHA-256 hash is stored. Requested
// scopes above the application's tier are dropped without error, and
// requested rate limits above the tier's are clamped to it.
func (m *Manager) CreateApiKey(appID string, in KeyInput) (*models.ApiKey, string, error) {
	app, err := m.store.GetApplication(appID)
	if err != nil {
		return nil, "", err
	}
	if app.Status != models.AppApproved {
		return nil, "", fmt.Errorf("application %s is not approved", appID)
	}

	plaintext, err := signing.GenerateKey()
	if err != nil {
		return nil, "", err
	}

	limits := TierLimits[app.Tier]
	key := &models.ApiKey{
		ID:                 "key_" + uuid.New().String(),
		ApplicationID:      appID,
		TenantID:           in.TenantID,
		Name:               in.Name,
		KeyHash:            signing.HashKey(plaintext),
		KeyPrefix:          plaintext[:keyPrefixDisplayLen],
		Scopes:             FilterScopesForTier(in.Scopes, app.Tier),
		IPAllowlist:        in.IPAllowlist,
		Status:             models.KeyActive,
		RateLimitPerMinute: rateOverride(in.RequestsPerMinute, limits.RequestsPerMinute),
		RateLimitPerDay:    rateOverride(in.RequestsPerDay, limits.RequestsPerDay),
		CreatedAt:          time.Now().Unix(),
	}
	if in.ExpiresInDays > 0 {
		exp := time.Now().Add(time.Duration(in.ExpiresInDays) * 24 * time.Hour).Unix()
		key.ExpiresAt = &exp
	}
	if err := m.store.SaveKey(key); err != nil {
		return nil, "", err
	}
	log.Info().Str("key_id", key.ID).Str("application_id", appID).Str("prefix", key.KeyPrefix).Msg("api key created")
	return key, plaintext, nil
}

// ValidationResult carries the outcome of a key validation. Reason is
// one of the enumerable reason codes when Valid is false.
type ValidationResult struct {
	Valid       bool                       `json:"valid"`
	Reason      string                     `json:"reason,omitempty"`
	Key         *models.ApiKey             `json:"key,omitempty"`
	Application *models.PartnerApplication `json:"application,omitempty"`
}

// ValidateApiKey hashes the presented plaintext, looks the key up by
// hash, and fails closed with a specific reason. An ACTIVE key past its
// expiry is transitioned to EXPIRED as a side effect.
func (m *Manager) ValidateApiKey(plaintext string) (*ValidationResult, error) {
	if !strings.HasPrefix(plaintext, signing.KeyPrefix) || len(plaintext) != len(signing.KeyPrefix)+64 {
		metrics.KeyValidations.WithLabelValues(apierrors.ReasonMalformedKey).Inc()
		return &ValidationResult{Reason: apierrors.ReasonMalformedKey}, nil
	}

	key, err := m.store.GetKeyByHash(signing.HashKey(plaintext))
	if err != nil {
		if err == ErrNotFound {
			metrics.KeyValidations.WithLabelValues(apierrors.ReasonKeyNotFound).Inc()
			return &ValidationResult{Reason: apierrors.ReasonKeyNotFound}, nil
		}
		return nil, err
	}

	switch key.Status {
	case models.KeyRevoked:
		metrics.KeyValidations.WithLabelValues(apierrors.ReasonKeyRevoked).Inc()
		return &ValidationResult{Reason: apierrors.ReasonKeyRevoked, Key: key}, nil
	case models.KeyInactive:
		metrics.KeyValidations.WithLabelValues(apierrors.ReasonKeyInactive).Inc()
		return &ValidationResult{Reason: apierrors.ReasonKeyInactive, Key: key}, nil
	case models.KeyExpired:
		metrics.KeyValidations.WithLabelValues(apierrors.ReasonKeyExpired).Inc()
		return &ValidationResult{Reason: apierrors.ReasonKeyExpired, Key: key}, nil
	}

	if key.ExpiresAt != nil && *key.ExpiresAt <= time.Now().Unix() {
		key.Status = models.KeyExpired
		if err := m.store.SaveKey(key); err != nil {
			return nil, err
		}
		metrics.KeyValidations.WithLabelValues(apierrors.ReasonKeyExpired).Inc()
		return &ValidationResult{Reason: apierrors.ReasonKeyExpired, Key: key}, nil
	}

	app, err := m.store.GetApplication(key.ApplicationID)
	if err != nil {
		return nil, err
	}
	if app.Status != models.AppApproved {
		metrics.KeyValidations.WithLabelValues(apierrors.ReasonAppNotApproved).Inc()
		return &ValidationResult{Reason: apierrors.ReasonAppNotApproved, Key: key, Application: app}, nil
	}

	now := time.Now().Unix()
	key.LastUsedAt = &now
	if err := m.store.SaveKey(key); err != nil {
		return nil, err
	}
	metrics.KeyValidations.WithLabelValues("ok").Inc()
	return &ValidationResult{Valid: true, Key: key, Application: app}, nil
}

// RotateApiKey issues a brand-new key carrying over scopes, expiry,
// tenant binding, IP allowlist, and rate-limit overrides, and stamps
// the old key's rotated_at
// while leaving it ACTIVE. The caller owns the transition window and
// revokes the old key explicitly.
func (m *Manager) RotateApiKey(keyID string) (*models.ApiKey, string, error) {
	old, err := m.store.GetKey(keyID)
	if err != nil {
		return nil, "", err
	}
	if old.Status != models.KeyActive {
		return nil, "", fmt.Errorf("key %s is %s, only active keys can be rotated", keyID, old.Status)
	}

	plaintext, err := signing.GenerateKey()
	if err != nil {
		return nil, "", err
	}

	next := &models.ApiKey{
		ID:                 "key_" + uuid.New().String(),
		ApplicationID:      old.ApplicationID,
		TenantID:           old.TenantID,
		Name:               old.Name,
		KeyHash:            signing.HashKey(plaintext),
		KeyPrefix:          plaintext[:keyPrefixDisplayLen],
		Scopes:             append([]string(nil), old.Scopes...),
		IPAllowlist:        append([]string(nil), old.IPAllowlist...),
		Status:             models.KeyActive,
		RateLimitPerMinute: old.RateLimitPerMinute,
		RateLimitPerDay:    old.RateLimitPerDay,
		ExpiresAt:          old.ExpiresAt,
		CreatedAt:          time.Now().Unix(),
	}
	if err := m.store.SaveKey(next); err != nil {
		return nil, "", err
	}

	now := time.Now().Unix()
	old.RotatedAt = &now
	if err := m.store.SaveKey(old); err != nil {
		return nil, "", err
	}
	log.Info().Str("old_key_id", old.ID).Str("new_key_id", next.ID).Msg("api key rotated")
	return next, plaintext, nil
}

func (m *Manager) RevokeApiKey(keyID string) error {
	key, err := m.store.GetKey(keyID)
	if err != nil {
		return err
	}
	if key.Status == models.KeyRevoked {
		return nil
	}
	now := time.Now().Unix()
	key.Status = models.KeyRevoked
	key.RevokedAt = &now
	return m.store.SaveKey(key)
}

func (m *Manager) ListKeys(appID string) ([]*models.ApiKey, error) {
	return m.store.ListKeysByApplication(appID)
}

func (m *Manager) RegisterVersion(version, status string) (*models.ApiVersion, error) {
	if version == "" {
		return nil, fmt.Errorf("version is required")
	}
	switch status {
	case "active", "deprecated", "sunset":
	default:
		return nil, fmt.Errorf("unknown version status %q", status)
	}

	now := time.Now().Unix()
	v := &models.ApiVersion{Version: version, Status: status, ReleasedAt: now}
	if status == "deprecated" {
		v.DeprecatedAt = &now
	}
	if status == "sunset" {
		v.SunsetAt = &now
	}
	if err := m.store.SaveVersion(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (m *Manager) ListVersions() ([]*models.ApiVersion, error) {
	return m.store.ListVersions()
}
