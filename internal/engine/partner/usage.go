package partner

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	apierrors "bindery/internal/pkg/errors"
	"bindery/internal/platform/metrics"
	"bindery/internal/platform/models"
)

// nextBoundary returns the unix time the period window ending after now
// closes: the next minute boundary or the next UTC midnight.
func nextBoundary(now int64, period string) int64 {
	t := time.Unix(now, 0).UTC()
	switch period {
	case "minute":
		return t.Truncate(time.Minute).Add(time.Minute).Unix()
	case "day":
		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return midnight.AddDate(0, 0, 1).Unix()
	default:
		return t.Add(time.Minute).Unix()
	}
}

// RecordUsage increments every period counter for the application and
// retains the record for analytics. Counters whose window has passed
// are reset to {used: 1, resetAt: next boundary} rather than by a
// background timer.
func (m *Manager) RecordUsage(rec *models.UsageRecord) error {
	if rec.ApplicationID == "" {
		return fmt.Errorf("application id is required")
	}
	if rec.ID == "" {
		rec.ID = "use_" + uuid.New().String()
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().Unix()
	}

	quotas, err := m.store.GetQuotas(rec.ApplicationID)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	for _, q := range quotas {
		if q.ResetAt <= now {
			q.Used = 1
			q.ResetAt = nextBoundary(now, q.Period)
		} else {
			q.Used++
		}
		if err := m.store.SaveQuota(q); err != nil {
			return err
		}
	}

	return m.store.AddUsageRecord(rec)
}

// CheckQuota denies when any non-expired counter has reached its limit.
// Expired windows count as available; they reset on the next write.
func (m *Manager) CheckQuota(appID string) (bool, string, error) {
	return m.checkQuota(appID, nil)
}

// CheckQuotaForKey applies the application quotas tightened by the
// key's per-period overrides, when it carries any.
func (m *Manager) CheckQuotaForKey(key *models.ApiKey) (bool, string, error) {
	return m.checkQuota(key.ApplicationID, key)
}

func (m *Manager) checkQuota(appID string, key *models.ApiKey) (bool, string, error) {
	quotas, err := m.store.GetQuotas(appID)
	if err != nil {
		return false, "", err
	}
	now := time.Now().Unix()
	for _, q := range quotas {
		if q.ResetAt <= now {
			continue
		}
		limit := q.Limit
		if key != nil {
			if o := key.RateLimitFor(q.Period); o > 0 && o < limit {
				limit = o
			}
		}
		if q.Used >= limit {
			metrics.QuotaDenials.WithLabelValues(q.Period).Inc()
			return false, fmt.Sprintf("%s: %s quota of %d reached", apierrors.ReasonQuotaExceeded, q.Period, limit), nil
		}
	}
	return true, "", nil
}

func (m *Manager) GetQuotas(appID string) ([]*models.UsageQuota, error) {
	return m.store.GetQuotas(appID)
}

// GetUsageStats aggregates retained usage records over [from, to].
func (m *Manager) GetUsageStats(appID string, from, to int64) (*models.UsageStats, error) {
	if to == 0 {
		to = time.Now().Unix()
	}
	records, err := m.store.ListUsageRecords(appID, from, to)
	if err != nil {
		return nil, err
	}

	stats := &models.UsageStats{
		ApplicationID: appID,
		WindowStart:   from,
		WindowEnd:     to,
		ByEndpoint:    make(map[string]int),
		ByStatusCode:  make(map[int]int),
	}

	var latencySum int64
	var successes int
	for _, rec := range records {
		stats.TotalRequests++
		stats.ByEndpoint[rec.Endpoint]++
		stats.ByStatusCode[rec.StatusCode]++
		latencySum += rec.LatencyMs
		if rec.StatusCode >= 200 && rec.StatusCode < 400 {
			successes++
		}
	}
	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(successes) / float64(stats.TotalRequests)
		stats.AvgLatencyMs = float64(latencySum) / float64(stats.TotalRequests)
	}
	return stats, nil
}
