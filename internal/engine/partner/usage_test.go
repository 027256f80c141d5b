package partner

import (
	"strings"
	"testing"
	"time"

	"bindery/internal/platform/models"
)

func TestCheckQuota_DeniesAtLimit(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store)
	app := approvedApp(t, m, models.TierStandard)

	// Shrink the minute window to a limit of 2 for the test.
	store.SaveQuota(&models.UsageQuota{
		ApplicationID: app.ID, Period: "minute", Limit: 2,
		ResetAt: time.Now().Add(time.Minute).Unix(),
	})

	for i := 0; i < 2; i++ {
		ok, _, err := m.CheckQuota(app.ID)
		if err != nil || !ok {
			t.Fatalf("request %d should be allowed (err=%v)", i+1, err)
		}
		if err := m.RecordUsage(&models.UsageRecord{ApplicationID: app.ID, Endpoint: "/partner/v1/events", StatusCode: 200}); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}

	ok, reason, err := m.CheckQuota(app.ID)
	if err != nil {
		t.Fatalf("CheckQuota: %v", err)
	}
	if ok {
		t.Fatal("expected denial at used == limit")
	}
	if !strings.Contains(reason, "quota_exceeded") {
		t.Errorf("reason = %q, want quota_exceeded", reason)
	}
}

func TestCheckQuotaForKey_TighterOverrideWins(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store)
	app := approvedApp(t, m, models.TierStandard) // tier minute limit 120

	key, _, err := m.CreateApiKey(app.ID, KeyInput{Name: "throttled", RequestsPerMinute: 2})
	if err != nil {
		t.Fatalf("CreateApiKey: %v", err)
	}

	// Pin the minute window so it cannot close mid-test.
	store.SaveQuota(&models.UsageQuota{
		ApplicationID: app.ID, Period: "minute", Limit: 120,
		ResetAt: time.Now().Add(time.Minute).Unix(),
	})

	for i := 0; i < 2; i++ {
		ok, _, err := m.CheckQuotaForKey(key)
		if err != nil || !ok {
			t.Fatalf("request %d should be allowed (err=%v)", i+1, err)
		}
		if err := m.RecordUsage(&models.UsageRecord{ApplicationID: app.ID, KeyID: key.ID, Endpoint: "/partner/v1/events", StatusCode: 202}); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}

	// The key override of 2 binds even though the application quota of
	// 120 has plenty left.
	ok, reason, err := m.CheckQuotaForKey(key)
	if err != nil {
		t.Fatalf("CheckQuotaForKey: %v", err)
	}
	if ok {
		t.Fatal("expected denial at key override limit")
	}
	if !strings.Contains(reason, "quota of 2") {
		t.Errorf("reason = %q, want the override limit of 2", reason)
	}
	if ok, _, _ := m.CheckQuota(app.ID); !ok {
		t.Error("application-level quota should still allow")
	}
}

func TestCheckQuotaForKey_OverrideNeverLoosens(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store)
	app := approvedApp(t, m, models.TierStandard)

	key, _, err := m.CreateApiKey(app.ID, KeyInput{Name: "wide", RequestsPerMinute: 100})
	if err != nil {
		t.Fatalf("CreateApiKey: %v", err)
	}

	// An exhausted application counter denies regardless of a larger
	// per-key override.
	store.SaveQuota(&models.UsageQuota{
		ApplicationID: app.ID, Period: "minute", Limit: 1, Used: 1,
		ResetAt: time.Now().Add(time.Minute).Unix(),
	})
	if ok, _, _ := m.CheckQuotaForKey(key); ok {
		t.Error("key override must not loosen the application quota")
	}
}

func TestCheckQuota_AllowsAfterReset(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store)
	app := approvedApp(t, m, models.TierStandard)

	// A full counter whose window already closed counts as available.
	store.SaveQuota(&models.UsageQuota{
		ApplicationID: app.ID, Period: "minute", Limit: 1, Used: 1,
		ResetAt: time.Now().Add(-time.Second).Unix(),
	})

	ok, _, err := m.CheckQuota(app.ID)
	if err != nil || !ok {
		t.Fatalf("expected allowance after reset_at passed (ok=%v err=%v)", ok, err)
	}

	// The next write resets the counter to used=1 with a fresh boundary.
	if err := m.RecordUsage(&models.UsageRecord{ApplicationID: app.ID, Endpoint: "/x", StatusCode: 200}); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	quotas, _ := m.GetQuotas(app.ID)
	for _, q := range quotas {
		if q.Period != "minute" {
			continue
		}
		if q.Used != 1 {
			t.Errorf("minute used = %d, want 1 after lazy reset", q.Used)
		}
		if q.ResetAt <= time.Now().Unix() {
			t.Errorf("reset_at not advanced: %d", q.ResetAt)
		}
	}
}

func TestGetUsageStats(t *testing.T) {
	m := NewManager(NewMemoryStore())
	app := approvedApp(t, m, models.TierStandard)

	now := time.Now().Unix()
	records := []*models.UsageRecord{
		{ApplicationID: app.ID, Endpoint: "/partner/v1/events", Method: "POST", StatusCode: 202, LatencyMs: 40, Timestamp: now - 30},
		{ApplicationID: app.ID, Endpoint: "/partner/v1/events", Method: "POST", StatusCode: 202, LatencyMs: 60, Timestamp: now - 20},
		{ApplicationID: app.ID, Endpoint: "/partner/v1/usage", Method: "GET", StatusCode: 500, LatencyMs: 20, Timestamp: now - 10},
		// Outside the window, must not be counted.
		{ApplicationID: app.ID, Endpoint: "/partner/v1/usage", Method: "GET", StatusCode: 200, LatencyMs: 10, Timestamp: now - 3600},
	}
	for _, rec := range records {
		if err := m.RecordUsage(rec); err != nil {
			t.Fatalf("RecordUsage: %v", err)
		}
	}

	stats, err := m.GetUsageStats(app.ID, now-60, now)
	if err != nil {
		t.Fatalf("GetUsageStats: %v", err)
	}
	if stats.TotalRequests != 3 {
		t.Errorf("total = %d, want 3", stats.TotalRequests)
	}
	if got := stats.ByEndpoint["/partner/v1/events"]; got != 2 {
		t.Errorf("events endpoint count = %d, want 2", got)
	}
	if got := stats.ByStatusCode[500]; got != 1 {
		t.Errorf("500 count = %d, want 1", got)
	}
	if want := 2.0 / 3.0; stats.SuccessRate < want-0.001 || stats.SuccessRate > want+0.001 {
		t.Errorf("success rate = %v, want %v", stats.SuccessRate, want)
	}
	if want := 40.0; stats.AvgLatencyMs != want {
		t.Errorf("avg latency = %v, want %v", stats.AvgLatencyMs, want)
	}
}

func TestFilterScopesForTier(t *testing.T) {
	tests := []struct {
		name      string
		requested []string
		tier      models.PartnerTier
		want      []string
	}{
		{"developer gets developer scopes", []string{"leases:read", "units:read"}, models.TierDeveloper, []string{"leases:read", "units:read"}},
		{"developer loses standard scope", []string{"leases:read", "payments:read"}, models.TierDeveloper, []string{"leases:read"}},
		{"standard loses professional scope", []string{"payments:write"}, models.TierStandard, []string{}},
		{"enterprise gets everything requested", []string{"analytics:read", "payments:write"}, models.TierEnterprise, []string{"analytics:read", "payments:write"}},
		{"unknown scope dropped", []string{"leases:read", "bogus:scope"}, models.TierEnterprise, []string{"leases:read"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterScopesForTier(tt.requested, tt.tier)
			if len(got) != len(tt.want) {
				t.Fatalf("granted = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("granted = %v, want %v", got, tt.want)
				}
			}
		})
	}
}
