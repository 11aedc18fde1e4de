package types

import "time"

// Outbound message types
const (
	MsgConnected       = "connected"
	MsgAgentRegistered = "agent-registered"
	MsgCallRouted      = "call-routed"
	MsgQueueUpdate     = "queue-update"
	MsgIncomingCall    = "incoming-call"
	MsgCallStatus      = "call-status"
	MsgCallStateSync   = "call-state-sync"
	MsgError           = "error"
)

// call-state-sync events
const (
	SyncCallConnected     = "call-connected"
	SyncCallEnded         = "call-ended"
	SyncAudioStateChanged = "audio-state-changed"
	SyncMuteStateChanged  = "mute-state-changed"
	SyncWebRTCConnected   = "webrtc-connected"
)

// call-status values
const (
	StatusRinging   = "ringing"
	StatusQueued    = "queued"
	StatusExpired   = "expired"
	StatusWithdrawn = "withdrawn"
	StatusAbandoned = "abandoned"
)

// Connected greets a new connection with its id
type Connected struct {
	Type         string `json:"type"` // "connected"
	ConnectionID string `json:"connectionId"`
}

// AgentRegistered acknowledges register-agent
type AgentRegistered struct {
	Type        string `json:"type"` // "agent-registered"
	CompanyID   string `json:"companyId"`
	AgentHandle string `json:"agentHandle"`
	MaxLoad     int    `json:"maxLoad"`
}

// CallRouted is the routing outcome pushed to the requester
type CallRouted struct {
	Type string `json:"type"` // "call-routed"
	RouteResult
}

// QueueUpdate refreshes a waiting requester's position and estimate
type QueueUpdate struct {
	Type      string `json:"type"` // "queue-update"
	SessionID string `json:"sessionId"`
	Position  int    `json:"position"`
	Estimate  int    `json:"estimate"` // seconds
}

// IncomingCall invites an agent to a session
type IncomingCall struct {
	Type        string      `json:"type"` // "incoming-call"
	SessionID   string      `json:"sessionId"`
	CompanyID   string      `json:"companyId"`
	VisitorID   string      `json:"visitorId"`
	Kind        RequestKind `json:"kind"`
	RequestedAt time.Time   `json:"requestedAt"`
}

// CallStatus reports a routing-level status change to one party
type CallStatus struct {
	Type        string `json:"type"` // "call-status"
	SessionID   string `json:"sessionId"`
	Status      string `json:"status"`
	AgentHandle string `json:"agentHandle,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// ICEServer is handed to both legs when a call connects
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// CallStateSync broadcasts a session state change. Partial updates carry
// only the fields that changed.
type CallStateSync struct {
	Type             string        `json:"type"` // "call-state-sync"
	Event            string        `json:"event"`
	SessionID        string        `json:"sessionId"`
	Status           SessionStatus `json:"status"`
	AgentHandle      string        `json:"agentHandle,omitempty"`
	ShowCallControls *bool         `json:"showCallControls,omitempty"`
	EnableAudio      *bool         `json:"enableAudio,omitempty"`
	ICEServers       []ICEServer   `json:"iceServers,omitempty"`
	Role             Role          `json:"role,omitempty"`
	HasAudio         *bool         `json:"hasAudio,omitempty"`
	IsMuted          *bool         `json:"isMuted,omitempty"`
	Reason           string        `json:"reason,omitempty"`
	Visitor          *LegState     `json:"visitor,omitempty"`
	Agent            *LegState     `json:"agent,omitempty"`
	Timestamp        time.Time     `json:"timestamp"`
}

// ErrorMessage tells the origin connection why its frame was dropped
type ErrorMessage struct {
	Type   string    `json:"type"` // "error"
	Event  EventType `json:"event,omitempty"`
	Reason string    `json:"reason"`
}

// Bool returns a pointer to b, for partial updates
func Bool(b bool) *bool {
	return &b
}
