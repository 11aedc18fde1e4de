package session

import (
	"sort"

	"github.com/dennisdiepolder/monti/callrouter/internal/types"
)

// Table holds the live call sessions keyed by session id.
// Not safe for concurrent use; the engine goroutine owns it.
type Table struct {
	sessions map[string]*types.CallSession
}

// NewTable creates an empty session table
func NewTable() *Table {
	return &Table{sessions: make(map[string]*types.CallSession)}
}

// Open adds a session. An existing session with the same id is replaced.
func (t *Table) Open(s *types.CallSession) {
	t.sessions[s.SessionID] = s
}

// Get returns the live session with the given id
func (t *Table) Get(sessionID string) (*types.CallSession, bool) {
	s, ok := t.sessions[sessionID]
	return s, ok
}

// Remove deletes a session
func (t *Table) Remove(sessionID string) {
	delete(t.sessions, sessionID)
}

// Len returns the number of live sessions
func (t *Table) Len() int {
	return len(t.sessions)
}

// ByConnection returns sessions in which connID is the visitor leg, the
// agent leg, or the invited agent connection of a ringing session.
func (t *Table) ByConnection(connID string) []*types.CallSession {
	var out []*types.CallSession
	for _, s := range t.sessions {
		if s.VisitorConnectionID == connID ||
			s.AgentConnectionID == connID ||
			(s.Status == types.SessionRinging && s.InvitedConnectionID == connID) {
			out = append(out, s)
		}
	}
	sortByStart(out)
	return out
}

// ForAgent returns the live sessions served by agent
func (t *Table) ForAgent(agent types.AgentKey) []*types.CallSession {
	var out []*types.CallSession
	for _, s := range t.sessions {
		if s.AgentKey() == agent {
			out = append(out, s)
		}
	}
	sortByStart(out)
	return out
}

// Ringing returns sessions still waiting for the agent to accept
func (t *Table) Ringing() []*types.CallSession {
	var out []*types.CallSession
	for _, s := range t.sessions {
		if s.Status == types.SessionRinging {
			out = append(out, s)
		}
	}
	sortByStart(out)
	return out
}

// All returns copies of every live session, oldest first
func (t *Table) All() []types.CallSession {
	list := make([]*types.CallSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		list = append(list, s)
	}
	sortByStart(list)
	out := make([]types.CallSession, len(list))
	for i, s := range list {
		out[i] = *s
	}
	return out
}

func sortByStart(list []*types.CallSession) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].StartedAt.Equal(list[j].StartedAt) {
			return list[i].StartedAt.Before(list[j].StartedAt)
		}
		return list[i].SessionID < list[j].SessionID
	})
}
