package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apiContext "bindery/internal/api/context"
	"bindery/internal/engine/partner"
	"bindery/internal/pkg/errors"
	"bindery/internal/platform/models"
)

// QuotaMiddleware enforces per-application quotas and records every
// gateway request with its latency and status code. Runs after
// ApiKeyMiddleware.Handle.
type QuotaMiddleware struct {
	partners *partner.Manager
}

func NewQuotaMiddleware(partners *partner.Manager) *QuotaMiddleware {
	return &QuotaMiddleware{partners: partners}
}

func (m *QuotaMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Context().Value(apiContext.ApiKey).(*models.ApiKey)

		allowed, reason, err := m.partners.CheckQuotaForKey(key)
		if err != nil {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Quota check failed", nil)
			return
		}
		if !allowed {
			errors.WriteError(w, http.StatusTooManyRequests, errors.ErrCodeQuotaExceeded, "Usage quota exceeded", map[string]string{"reason": reason})
			return
		}

		rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next(rec, r)

		usage := &models.UsageRecord{
			ApplicationID: key.ApplicationID,
			KeyID:         key.ID,
			Endpoint:      r.URL.Path,
			Method:        r.Method,
			StatusCode:    rec.status,
			LatencyMs:     time.Since(start).Milliseconds(),
		}
		if err := m.partners.RecordUsage(usage); err != nil {
			log.Error().Err(err).Str("application_id", key.ApplicationID).Msg("failed to record usage")
		}
	}
}

type recordingWriter struct {
	http.ResponseWriter
	status int
}

func (w *recordingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
