package partner

import "bindery/internal/platform/models"

// Catalog is the static scope registry. Scope ids follow
// "<resource>:<action>"; RequiredTier gates issuance.
var Catalog = []models.ApiScope{
	{ID: "leases:read", Category: "leasing", Description: "Read lease records", Resources: []string{"leases"}, Actions: []string{"read"}, RequiredTier: models.TierDeveloper},
	{ID: "leases:write", Category: "leasing", Description: "Create and update leases", Resources: []string{"leases"}, Actions: []string{"write"}, RequiredTier: models.TierProfessional},
	{ID: "units:read", Category: "leasing", Description: "Read unit inventory", Resources: []string{"units"}, Actions: []string{"read"}, RequiredTier: models.TierDeveloper},
	{ID: "tenants:read", Category: "leasing", Description: "Read tenant profiles", Resources: []string{"tenants"}, Actions: []string{"read"}, RequiredTier: models.TierStandard},
	{ID: "payments:read", Category: "billing", Description: "Read payment history", Resources: []string{"payments", "invoices"}, Actions: []string{"read"}, RequiredTier: models.TierStandard},
	{ID: "payments:write", Category: "billing", Description: "Initiate payments and refunds", Resources: []string{"payments"}, Actions: []string{"write"}, RequiredTier: models.TierProfessional},
	{ID: "maintenance:read", Category: "operations", Description: "Read maintenance requests", Resources: []string{"maintenance"}, Actions: []string{"read"}, RequiredTier: models.TierDeveloper},
	{ID: "maintenance:write", Category: "operations", Description: "Create and update maintenance requests", Resources: []string{"maintenance"}, Actions: []string{"write"}, RequiredTier: models.TierStandard},
	{ID: "events:write", Category: "integration", Description: "Emit platform events", Resources: []string{"events"}, Actions: []string{"write"}, RequiredTier: models.TierStandard},
	{ID: "webhooks:manage", Category: "integration", Description: "Manage webhook endpoints", Resources: []string{"webhooks"}, Actions: []string{"read", "write"}, RequiredTier: models.TierStandard},
	{ID: "workflows:execute", Category: "integration", Description: "Trigger workflows", Resources: []string{"workflows"}, Actions: []string{"execute"}, RequiredTier: models.TierProfessional},
	{ID: "analytics:read", Category: "reporting", Description: "Read usage and portfolio analytics", Resources: []string{"analytics"}, Actions: []string{"read"}, RequiredTier: models.TierEnterprise},
}

var catalogByID = func() map[string]models.ApiScope {
	m := make(map[string]models.ApiScope, len(Catalog))
	for _, s := range Catalog {
		m[s.ID] = s
	}
	return m
}()

func ScopeByID(id string) (models.ApiScope, bool) {
	s, ok := catalogByID[id]
	return s, ok
}

// FilterScopesForTier drops requested scopes that are unknown or require
// a higher tier than the application's. The downgrade is silent: callers
// compare requested vs granted to detect it.
func FilterScopesForTier(requested []string, tier models.PartnerTier) []string {
	granted := make([]string, 0, len(requested))
	for _, id := range requested {
		scope, ok := catalogByID[id]
		if !ok {
			continue
		}
		if tier.AtLeast(scope.RequiredTier) {
			granted = append(granted, id)
		}
	}
	return granted
}

// TierLimit is the fixed rate limit applied to every key of a tier.
type TierLimit struct {
	RequestsPerMinute int
	RequestsPerDay    int
}

var TierLimits = map[models.PartnerTier]TierLimit{
	models.TierDeveloper:    {RequestsPerMinute: 30, RequestsPerDay: 5000},
	models.TierStandard:     {RequestsPerMinute: 120, RequestsPerDay: 50000},
	models.TierProfessional: {RequestsPerMinute: 600, RequestsPerDay: 500000},
	models.TierEnterprise:   {RequestsPerMinute: 3000, RequestsPerDay: 5000000},
}
