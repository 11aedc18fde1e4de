package types

import "time"

// SessionStatus is the lifecycle state of a call session
type SessionStatus string

const (
	SessionRinging   SessionStatus = "ringing"   // Invitation sent, agent has not accepted
	SessionConnected SessionStatus = "connected" // Agent accepted
	SessionEnded     SessionStatus = "ended"     // Terminal
)

// End reasons
const (
	ReasonTransportLost = "transport_lost"
	ReasonForceEnded    = "force_ended"
	ReasonHangup        = "hangup"
	ReasonRingTimeout   = "ring_timeout"
	ReasonQueueTimeout  = "queue_timeout"
)

// LegState is the per-leg sub-state of a session
type LegState struct {
	HasAudio    bool `json:"hasAudio"`
	IsMuted     bool `json:"isMuted"`
	IsConnected bool `json:"isConnected"`
}

// CallSession is one active interaction between a visitor and an agent
type CallSession struct {
	SessionID           string        `json:"sessionId"`
	RequestID           string        `json:"requestId"`
	CompanyID           string        `json:"companyId"`
	Kind                RequestKind   `json:"kind"`
	VisitorID           string        `json:"visitorId"`
	VisitorConnectionID string        `json:"visitorConnectionId"`
	AgentConnectionID   string        `json:"agentConnectionId,omitempty"`
	AgentHandle         string        `json:"agentHandle"`
	AgentCompanyID      string        `json:"agentCompanyId"` // differs from CompanyID when served by the fallback pool
	Status              SessionStatus `json:"status"`
	StartedAt           time.Time     `json:"startedAt"`
	ConnectedAt         *time.Time    `json:"connectedAt,omitempty"`
	EndReason           string        `json:"endReason,omitempty"`
	Visitor             LegState      `json:"visitor"`
	Agent               LegState      `json:"agent"`

	// InvitedConnectionID is the agent presence connection the invitation
	// went to. It receives session broadcasts until a leg accepts.
	InvitedConnectionID string `json:"-"`

	// Request is the originating queue entry, kept so a declined or
	// expired invitation can be requeued.
	Request *QueueEntry `json:"-"`
}

// AgentKey returns the key of the agent serving the session
func (s *CallSession) AgentKey() AgentKey {
	return AgentKey{CompanyID: s.AgentCompanyID, AgentHandle: s.AgentHandle}
}

// AgentTarget returns the connection that currently represents the agent leg
func (s *CallSession) AgentTarget() string {
	if s.AgentConnectionID != "" {
		return s.AgentConnectionID
	}
	return s.InvitedConnectionID
}

// LegFor returns the role of connID within the session, if any
func (s *CallSession) LegFor(connID string) (Role, bool) {
	switch {
	case connID == "":
		return "", false
	case connID == s.VisitorConnectionID:
		return RoleVisitor, true
	case connID == s.AgentConnectionID:
		return RoleAgent, true
	}
	return "", false
}
