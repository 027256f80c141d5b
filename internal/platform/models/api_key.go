package models

type PartnerTier string

const (
	TierDeveloper    PartnerTier = "DEVELOPER"
	TierStandard     PartnerTier = "STANDARD"
	TierProfessional PartnerTier = "PROFESSIONAL"
	TierEnterprise   PartnerTier = "ENTERPRISE"
)

var tierRank = map[PartnerTier]int{
	TierDeveloper:    0,
	TierStandard:     1,
	TierProfessional: 2,
	TierEnterprise:   3,
}

// AtLeast reports whether t is the same tier as min or a higher one.
func (t PartnerTier) AtLeast(min PartnerTier) bool {
	return tierRank[t] >= tierRank[min]
}

func (t PartnerTier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

type ApplicationStatus string

const (
	AppPending   ApplicationStatus = "pending"
	AppApproved  ApplicationStatus = "approved"
	AppRejected  ApplicationStatus = "rejected"
	AppSuspended ApplicationStatus = "suspended"
)

type PartnerApplication struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	PartnerEmail    string            `json:"partner_email"`
	Description     string            `json:"description,omitempty"`
	CallbackURLs    []string          `json:"callback_urls"` // JSON array in DB
	Tier            PartnerTier       `json:"tier"`
	RequestedScopes []string          `json:"requested_scopes"`
	Status          ApplicationStatus `json:"status"`
	CreatedAt       int64             `json:"created_at"`
	ApprovedAt      *int64            `json:"approved_at,omitempty"`
}

type KeyStatus string

const (
	KeyActive   KeyStatus = "ACTIVE"
	KeyInactive KeyStatus = "INACTIVE"
	KeyRevoked  KeyStatus = "REVOKED"
	KeyExpired  KeyStatus = "EXPIRED"
)

type ApiKey struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"application_id"`
	TenantID      string    `json:"tenant_id,omitempty"`
	Name          string    `json:"name"`
	KeyHash       string    `json:"-"`
	KeyPrefix     string    `json:"key_prefix"`
	Scopes        []string  `json:"scopes"` // JSON array in DB
	IPAllowlist   []string  `json:"ip_allowlist,omitempty"`
	Status        KeyStatus `json:"status"`
	// Optional per-key rate limits, always at or below the tier limit.
	RateLimitPerMinute *int   `json:"rate_limit_per_minute,omitempty"`
	RateLimitPerDay    *int   `json:"rate_limit_per_day,omitempty"`
	LastUsedAt         *int64 `json:"last_used_at,omitempty"`
	ExpiresAt          *int64 `json:"expires_at,omitempty"`
	RotatedAt          *int64 `json:"rotated_at,omitempty"`
	RevokedAt          *int64 `json:"revoked_at,omitempty"`
	CreatedAt          int64  `json:"created_at"`
}

// RateLimitFor returns the key's override for the quota period, or 0
// when the key has none and the application quota alone applies.
func (k *ApiKey) RateLimitFor(period string) int {
	switch period {
	case "minute":
		if k.RateLimitPerMinute != nil {
			return *k.RateLimitPerMinute
		}
	case "day":
		if k.RateLimitPerDay != nil {
			return *k.RateLimitPerDay
		}
	}
	return 0
}

// HasScope reports whether the key was granted the scope id.
func (k *ApiKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ApiScope is a static catalog entry; scope ids follow "<resource>:<action>".
type ApiScope struct {
	ID           string      `json:"id"`
	Category     string      `json:"category"`
	Description  string      `json:"description"`
	Resources    []string    `json:"resources"`
	Actions      []string    `json:"actions"`
	RequiredTier PartnerTier `json:"required_tier"`
}

// UsageQuota is one per-period counter; reset is lazy, computed on the
// next write or check once ResetAt has passed.
type UsageQuota struct {
	ApplicationID string `json:"application_id"`
	Period        string `json:"period"` // "minute", "day"
	Limit         int    `json:"limit"`
	Used          int    `json:"used"`
	ResetAt       int64  `json:"reset_at"`
}

type UsageRecord struct {
	ID            string `json:"id"`
	ApplicationID string `json:"application_id"`
	KeyID         string `json:"key_id"`
	Endpoint      string `json:"endpoint"`
	Method        string `json:"method"`
	StatusCode    int    `json:"status_code"`
	LatencyMs     int64  `json:"latency_ms"`
	Timestamp     int64  `json:"timestamp"`
}

// UsageStats aggregates usage records over an explicit time window.
type UsageStats struct {
	ApplicationID string         `json:"application_id"`
	WindowStart   int64          `json:"window_start"`
	WindowEnd     int64          `json:"window_end"`
	TotalRequests int            `json:"total_requests"`
	SuccessRate   float64        `json:"success_rate"`
	AvgLatencyMs  float64        `json:"avg_latency_ms"`
	ByEndpoint    map[string]int `json:"by_endpoint"`
	ByStatusCode  map[int]int    `json:"by_status_code"`
}

type ApiVersion struct {
	Version      string `json:"version"`
	Status       string `json:"status"` // active, deprecated, sunset
	ReleasedAt   int64  `json:"released_at"`
	DeprecatedAt *int64 `json:"deprecated_at,omitempty"`
	SunsetAt     *int64 `json:"sunset_at,omitempty"`
}
