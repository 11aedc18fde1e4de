package callqueue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dennisdiepolder/monti/callrouter/internal/types"
	"github.com/rs/zerolog"
)

// CallRouter is the synchronous routing surface used by the widget
type CallRouter interface {
	RouteCall(ctx context.Context, req types.RouteRequest) (types.RouteResult, error)
	QueueStatus(ctx context.Context, companyID string) (types.QueueStatus, error)
}

// CallHandler handles the widget's HTTP routing endpoints
type CallHandler struct {
	router CallRouter
	logger zerolog.Logger
}

// NewCallHandler creates a new CallHandler
func NewCallHandler(router CallRouter, logger zerolog.Logger) *CallHandler {
	return &CallHandler{
		router: router,
		logger: logger.With().Str("component", "call_handler").Logger(),
	}
}

// HandleRouteCall handles POST /api/widget/route-call
func (h *CallHandler) HandleRouteCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, types.RouteResult{Reason: "invalid JSON body"})
		return
	}

	result, err := h.router.RouteCall(r.Context(), req)
	if err != nil {
		var verr *types.ValidationError
		switch {
		case errors.As(err, &verr):
			writeJSON(w, http.StatusBadRequest, types.RouteResult{Reason: verr.Reason})
		case errors.Is(err, types.ErrNotFound):
			writeJSON(w, http.StatusNotFound, types.RouteResult{Reason: err.Error()})
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			writeJSON(w, http.StatusServiceUnavailable, types.RouteResult{Reason: "routing unavailable"})
		default:
			h.logger.Error().Err(err).Str("company_id", req.CompanyID).Msg("route-call failed")
			writeJSON(w, http.StatusBadGateway, types.RouteResult{Reason: "routing failed"})
		}
		return
	}

	if !result.Success && !result.Queued {
		writeJSON(w, http.StatusBadRequest, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleQueueStatus handles GET /api/widget/queue-status?companyId=
func (h *CallHandler) HandleQueueStatus(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("companyId")
	if companyID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing companyId"})
		return
	}

	status, err := h.router.QueueStatus(r.Context(), companyID)
	if err != nil {
		h.logger.Error().Err(err).Str("company_id", companyID).Msg("queue-status failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue status unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
