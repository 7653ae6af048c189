// Package admin exposes read-only HTTP visibility into the outbox store,
// for operators checking on a tenant's recent delivery activity without a
// direct database connection.
package admin

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"aurum-outbox/internal/common/logging"
	types "aurum-outbox/internal/common/valueobjects"
	"aurum-outbox/internal/outbox"
)

const defaultListLimit = 50

// Router builds a mountable chi.Router exposing the outbox store's
// operational endpoints. Kept separate from the spending API's stdlib mux so
// this surface can be mounted under its own path prefix (e.g. "/admin") or
// omitted entirely in deployments that don't want it exposed.
func Router(store outbox.Store) chi.Router {
	r := chi.NewRouter()
	r.Get("/tenants/{tenant_id}/records", listRecordsHandler(store))
	return r
}

// recordView is the JSON projection of an outbox.Record for the admin API;
// it never exposes Payload, since operators checking delivery status don't
// need the domain event body and it may carry sensitive data.
type recordView struct {
	ID            string  `json:"id"`
	TypeTag       string  `json:"type_tag"`
	CorrelationID string  `json:"correlation_id"`
	OccurredAt    string  `json:"occurred_at"`
	ProcessedAt   *string `json:"processed_at,omitempty"`
	Attempts      int     `json:"attempts"`
	LastError     string  `json:"last_error,omitempty"`
	Quarantined   bool    `json:"quarantined"`
}

func listRecordsHandler(store outbox.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		tenantID, err := types.ParseTenantID(chi.URLParam(r, "tenant_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid tenant_id")
			return
		}

		limit := defaultListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = parsed
		}

		maxAttempts := 0
		if raw := r.URL.Query().Get("max_attempts"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err == nil {
				maxAttempts = parsed
			}
		}

		records, err := store.ListByTenant(ctx, tenantID, limit)
		if err != nil {
			logging.ErrorContext(ctx, "admin list records failed", "tenant_id", tenantID.String(), "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		views := make([]recordView, 0, len(records))
		for _, rec := range records {
			view := recordView{
				ID:            rec.ID.String(),
				TypeTag:       rec.TypeTag,
				CorrelationID: rec.CorrelationID.String(),
				OccurredAt:    rec.OccurredAt.Format("2006-01-02T15:04:05Z07:00"),
				Attempts:      rec.Attempts,
				LastError:     rec.LastError,
				Quarantined:   maxAttempts > 0 && rec.IsQuarantined(maxAttempts),
			}
			if rec.ProcessedAt != nil {
				formatted := rec.ProcessedAt.Format("2006-01-02T15:04:05Z07:00")
				view.ProcessedAt = &formatted
			}
			views = append(views, view)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(views)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
