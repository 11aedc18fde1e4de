package cache

import (
	"sort"
	"time"

	"github.com/dennisdiepolder/monti/callrouter/internal/types"
)

// PresenceStore tracks agent presence and load per company.
// It is not safe for concurrent use; the engine goroutine owns it.
type PresenceStore struct {
	companies map[string]map[string]*types.AgentPresence // companyID -> handle -> presence
	now       func() time.Time
}

// NewPresenceStore creates an empty presence store
func NewPresenceStore() *PresenceStore {
	return &PresenceStore{
		companies: make(map[string]map[string]*types.AgentPresence),
		now:       time.Now,
	}
}

// SetClock overrides the time source
func (s *PresenceStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *PresenceStore) get(companyID, handle string) (*types.AgentPresence, bool) {
	agents, ok := s.companies[companyID]
	if !ok {
		return nil, false
	}
	p, ok := agents[handle]
	return p, ok
}

// SetOnline binds the agent to connID and marks it online, creating the
// record on first registration. maxLoad <= 0 keeps the current value.
func (s *PresenceStore) SetOnline(companyID, handle, connID string, maxLoad int) types.AgentPresence {
	p, ok := s.get(companyID, handle)
	if !ok {
		if s.companies[companyID] == nil {
			s.companies[companyID] = make(map[string]*types.AgentPresence)
		}
		p = &types.AgentPresence{
			CompanyID:   companyID,
			AgentHandle: handle,
			MaxLoad:     1,
		}
		s.companies[companyID][handle] = p
	}
	if maxLoad > 0 {
		p.MaxLoad = maxLoad
	}
	p.ConnectionID = connID
	p.Availability = types.AvailabilityOnline
	p.LastActivity = s.now()
	return *p
}

// SetOffline clears the agent's connection. The record is kept.
func (s *PresenceStore) SetOffline(companyID, handle string) bool {
	p, ok := s.get(companyID, handle)
	if !ok {
		return false
	}
	p.ConnectionID = ""
	p.Availability = types.AvailabilityOffline
	return true
}

// SetAvailability applies an agent's explicit status update
func (s *PresenceStore) SetAvailability(companyID, handle string, availability types.Availability) (types.AgentPresence, error) {
	p, ok := s.get(companyID, handle)
	if !ok {
		return types.AgentPresence{}, types.ErrNotFound
	}
	p.Availability = availability
	p.LastActivity = s.now()
	return *p, nil
}

// IncrementLoad adds one unit of load unless the agent is already at
// maxLoad. A load above a lowered maxLoad is left alone so it keeps
// matching the agent's live sessions.
func (s *PresenceStore) IncrementLoad(companyID, handle string) (int, bool) {
	p, ok := s.get(companyID, handle)
	if !ok {
		return 0, false
	}
	if p.CurrentLoad < p.MaxLoad {
		p.CurrentLoad++
	}
	p.LastActivity = s.now()
	return p.CurrentLoad, true
}

// DecrementLoad removes one unit of load, clamped at zero
func (s *PresenceStore) DecrementLoad(companyID, handle string) (int, bool) {
	p, ok := s.get(companyID, handle)
	if !ok {
		return 0, false
	}
	p.CurrentLoad--
	clamp(p)
	return p.CurrentLoad, true
}

// Get returns a copy of the agent's presence
func (s *PresenceStore) Get(companyID, handle string) (types.AgentPresence, bool) {
	p, ok := s.get(companyID, handle)
	if !ok {
		return types.AgentPresence{}, false
	}
	return *p, true
}

// ListAvailable returns online agents with spare capacity, least loaded
// first, then least recently active.
func (s *PresenceStore) ListAvailable(companyID string) []types.AgentPresence {
	agents := s.companies[companyID]
	available := make([]types.AgentPresence, 0, len(agents))
	for _, p := range agents {
		if p.Availability == types.AvailabilityOnline &&
			p.ConnectionID != "" &&
			p.CurrentLoad < p.MaxLoad {
			available = append(available, *p)
		}
	}

	sort.Slice(available, func(i, j int) bool {
		a, b := available[i], available[j]
		if a.CurrentLoad != b.CurrentLoad {
			return a.CurrentLoad < b.CurrentLoad
		}
		if !a.LastActivity.Equal(b.LastActivity) {
			return a.LastActivity.Before(b.LastActivity)
		}
		return a.AgentHandle < b.AgentHandle
	})
	return available
}

// GetByCompany returns all agents of a company, sorted by handle
func (s *PresenceStore) GetByCompany(companyID string) []types.AgentPresence {
	agents := s.companies[companyID]
	out := make([]types.AgentPresence, 0, len(agents))
	for _, p := range agents {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentHandle < out[j].AgentHandle })
	return out
}

// GetConnectionStats returns online, busy and offline counts across all companies
func (s *PresenceStore) GetConnectionStats() (online, busy, offline int) {
	for _, agents := range s.companies {
		for _, p := range agents {
			switch {
			case p.ConnectionID == "" || p.Availability == types.AvailabilityOffline:
				offline++
			case p.Availability == types.AvailabilityBusy:
				busy++
			default:
				online++
			}
		}
	}
	return
}

// clamp keeps CurrentLoad from going negative
func clamp(p *types.AgentPresence) {
	if p.CurrentLoad < 0 {
		p.CurrentLoad = 0
	}
}
