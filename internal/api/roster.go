package api

import (
	"encoding/json"
	"net/http"

	"github.com/dennisdiepolder/monti/callrouter/internal/storage"
	"github.com/dennisdiepolder/monti/callrouter/internal/types"
	"github.com/rs/zerolog"
)

// CompanyEntry represents a tenant in the roster payload
type CompanyEntry struct {
	CompanyID        string `json:"companyId"`
	Name             string `json:"name"`
	FallbackEligible *bool  `json:"fallbackEligible"` // defaults to true
}

// AgentEntry represents a single agent in the roster payload
type AgentEntry struct {
	CompanyID   string   `json:"companyId"`
	AgentHandle string   `json:"agentHandle"`
	DisplayName string   `json:"displayName"`
	Skills      []string `json:"skills"`
	MaxLoad     int      `json:"maxLoad"`
}

// Roster seeds the company and agent directories
type Roster struct {
	Companies []CompanyEntry `json:"companies"`
	Agents    []AgentEntry   `json:"agents"`
}

// RosterHandler handles the roster registration endpoint
type RosterHandler struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewRosterHandler creates a new RosterHandler
func NewRosterHandler(store storage.Store, logger zerolog.Logger) *RosterHandler {
	return &RosterHandler{
		store:  store,
		logger: logger.With().Str("component", "roster").Logger(),
	}
}

// HandleRoster handles POST /internal/agents/roster
func (h *RosterHandler) HandleRoster(w http.ResponseWriter, r *http.Request) {
	var roster Roster
	if err := json.NewDecoder(r.Body).Decode(&roster); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	for _, c := range roster.Companies {
		if c.CompanyID == "" {
			writeError(w, http.StatusBadRequest, "companyId is required for every company")
			return
		}
	}
	for _, a := range roster.Agents {
		if a.CompanyID == "" || a.AgentHandle == "" {
			writeError(w, http.StatusBadRequest, "companyId and agentHandle are required for every agent")
			return
		}
		if a.MaxLoad < 0 {
			writeError(w, http.StatusBadRequest, "maxLoad must not be negative")
			return
		}
	}

	companies, agents := 0, 0
	for _, c := range roster.Companies {
		eligible := true
		if c.FallbackEligible != nil {
			eligible = *c.FallbackEligible
		}
		err := h.store.PutCompany(r.Context(), types.CompanyRecord{
			CompanyID:        c.CompanyID,
			Name:             c.Name,
			FallbackEligible: eligible,
		})
		if err != nil {
			h.logger.Error().Err(err).Str("company_id", c.CompanyID).Msg("failed to save company")
			writeError(w, http.StatusInternalServerError, "failed to save roster")
			return
		}
		companies++
	}

	for _, a := range roster.Agents {
		err := h.store.PutAgent(r.Context(), types.AgentRecord{
			CompanyID:   a.CompanyID,
			AgentHandle: a.AgentHandle,
			DisplayName: a.DisplayName,
			Skills:      a.Skills,
			MaxLoad:     a.MaxLoad,
		})
		if err != nil {
			h.logger.Error().Err(err).
				Str("company_id", a.CompanyID).
				Str("agent_handle", a.AgentHandle).
				Msg("failed to save agent")
			writeError(w, http.StatusInternalServerError, "failed to save roster")
			return
		}
		agents++
	}

	h.logger.Info().Int("companies", companies).Int("agents", agents).Msg("roster received")

	writeJSON(w, http.StatusOK, map[string]int{"companies": companies, "agents": agents})
}
