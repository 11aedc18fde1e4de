package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dennisdiepolder/monti/callrouter/internal/auth"
	"github.com/dennisdiepolder/monti/callrouter/internal/callqueue"
	"github.com/dennisdiepolder/monti/callrouter/internal/engine"
	"github.com/dennisdiepolder/monti/callrouter/internal/storage"
	"github.com/dennisdiepolder/monti/callrouter/internal/types"
	"github.com/rs/zerolog"
)

// Operator is the engine surface used by the operator API
type Operator interface {
	ForceEnd(ctx context.Context, sessionID string) error
	ForceLogout(ctx context.Context, companyID, agentHandle string) error
	Sessions(ctx context.Context) ([]types.CallSession, error)
	Presence(ctx context.Context, companyID string) ([]types.AgentPresence, error)
	QueueSnapshot(ctx context.Context, companyID string) (callqueue.QueueSnapshot, error)
	Stats(ctx context.Context) (engine.Stats, error)
}

// AdminHandler serves engine stats and storage resets
type AdminHandler struct {
	operator Operator
	store    storage.Store
	logger   zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(operator Operator, store storage.Store, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		operator: operator,
		store:    store,
		logger:   logger.With().Str("component", "admin").Logger(),
	}
}

// RequireAdmin middleware — only admin role allowed
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.GetUserFromContext(r.Context())
		if !ok || !auth.HasRole(claims, "admin") {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSupervisorOrAdmin middleware — supervisor or admin role allowed
func RequireSupervisorOrAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.GetUserFromContext(r.Context())
		if !ok || (claims.Role != "admin" && claims.Role != "supervisor") {
			writeError(w, http.StatusForbidden, "supervisor or admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetStats handles GET /api/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.operator.Stats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read engine stats")
		writeError(w, http.StatusServiceUnavailable, "engine unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// WipeStorage truncates the directory and session history
// POST /internal/admin/wipe-storage
func (h *AdminHandler) WipeStorage(w http.ResponseWriter, r *http.Request) {
	if err := h.store.TruncateAll(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("failed to truncate storage")
		writeError(w, http.StatusInternalServerError, "failed to truncate: "+err.Error())
		return
	}

	h.logger.Info().Msg("storage truncated")
	writeJSON(w, http.StatusOK, map[string]string{"message": "storage truncated"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
