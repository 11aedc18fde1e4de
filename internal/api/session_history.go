package api

import (
	"net/http"
	"time"

	"github.com/dennisdiepolder/monti/callrouter/internal/storage"
	"github.com/dennisdiepolder/monti/callrouter/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// SessionHistoryHandler provides REST endpoints for ended sessions
type SessionHistoryHandler struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewSessionHistoryHandler creates a new SessionHistoryHandler
func NewSessionHistoryHandler(store storage.Store, logger zerolog.Logger) *SessionHistoryHandler {
	return &SessionHistoryHandler{
		store:  store,
		logger: logger.With().Str("component", "session_history_handler").Logger(),
	}
}

// GetSessions returns session records for a company on a specific date
// GET /api/companies/{companyId}/sessions?date=YYYY-MM-DD
func (h *SessionHistoryHandler) GetSessions(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")
	if companyID == "" {
		writeError(w, http.StatusBadRequest, "companyId is required")
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		writeError(w, http.StatusBadRequest, "date query parameter is required (YYYY-MM-DD)")
		return
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	records, err := h.store.GetSessionRecords(r.Context(), companyID, date)
	if err != nil {
		h.logger.Error().Err(err).
			Str("company_id", companyID).
			Str("date", date).
			Msg("failed to get session records")
		writeError(w, http.StatusInternalServerError, "failed to retrieve sessions")
		return
	}

	if records == nil {
		records = []types.SessionRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}
