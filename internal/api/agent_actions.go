package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/dennisdiepolder/monti/callrouter/internal/engine"
	"github.com/dennisdiepolder/monti/callrouter/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// AgentActionsHandler provides REST endpoints for operator control actions
// and live snapshots
type AgentActionsHandler struct {
	operator Operator
	logger   zerolog.Logger
}

// NewAgentActionsHandler creates a new AgentActionsHandler
func NewAgentActionsHandler(operator Operator, logger zerolog.Logger) *AgentActionsHandler {
	return &AgentActionsHandler{
		operator: operator,
		logger:   logger.With().Str("component", "agent_actions").Logger(),
	}
}

// engineStatus maps engine errors onto HTTP status codes
func engineStatus(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrStopped), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ForceEndSession handles POST /api/sessions/{sessionId}/end
func (h *AgentActionsHandler) ForceEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	if err := h.operator.ForceEnd(r.Context(), sessionID); err != nil {
		status := engineStatus(err)
		if status != http.StatusNotFound {
			h.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to force-end session")
		}
		writeError(w, status, "session not ended: "+err.Error())
		return
	}

	h.logger.Info().Str("session_id", sessionID).Msg("force-ended session via API")
	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "session ended",
		"sessionId": sessionID,
	})
}

// Logout handles POST /api/agents/{companyId}/{agentHandle}/logout
func (h *AgentActionsHandler) Logout(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")
	agentHandle := chi.URLParam(r, "agentHandle")
	if companyID == "" || agentHandle == "" {
		writeError(w, http.StatusBadRequest, "companyId and agentHandle are required")
		return
	}

	// Force-disconnect the presence connection (the engine handles cleanup)
	if err := h.operator.ForceLogout(r.Context(), companyID, agentHandle); err != nil {
		status := engineStatus(err)
		msg := "agent not connected"
		if status != http.StatusNotFound {
			msg = err.Error()
			h.logger.Error().Err(err).Msg("failed to force-logout agent")
		}
		writeError(w, status, msg)
		return
	}

	h.logger.Info().
		Str("company_id", companyID).
		Str("agent_handle", agentHandle).
		Msg("force-disconnected agent via API")

	writeJSON(w, http.StatusOK, map[string]string{
		"message":     "agent logged out",
		"companyId":   companyID,
		"agentHandle": agentHandle,
	})
}

// ListSessions handles GET /api/sessions
func (h *AgentActionsHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.operator.Sessions(r.Context())
	if err != nil {
		writeError(w, engineStatus(err), err.Error())
		return
	}
	if sessions == nil {
		sessions = []types.CallSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetPresence handles GET /api/companies/{companyId}/presence
func (h *AgentActionsHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")
	presence, err := h.operator.Presence(r.Context(), companyID)
	if err != nil {
		writeError(w, engineStatus(err), err.Error())
		return
	}
	if presence == nil {
		presence = []types.AgentPresence{}
	}
	writeJSON(w, http.StatusOK, presence)
}

// GetQueue handles GET /api/companies/{companyId}/queue
func (h *AgentActionsHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyId")
	snapshot, err := h.operator.QueueSnapshot(r.Context(), companyID)
	if err != nil {
		writeError(w, engineStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}
