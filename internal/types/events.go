package types

import (
	"encoding/json"
	"time"
)

// EventType is the "type" discriminator of a transport frame
type EventType string

// Inbound event types
const (
	EventRegisterAgent    EventType = "register-agent"
	EventCallRequest      EventType = "call-request"
	EventAcceptCall       EventType = "accept-call"
	EventRejectCall       EventType = "reject-call"
	EventWebRTCOffer      EventType = "webrtc-offer"
	EventWebRTCAnswer     EventType = "webrtc-answer"
	EventWebRTCCandidate  EventType = "webrtc-ice-candidate"
	EventAudioStateChange EventType = "audio-state-change"
	EventToggleMute       EventType = "toggle-mute"
	EventEndCall          EventType = "end-call"
	EventSetAvailability  EventType = "set-availability"
	EventWatchSession     EventType = "watch-session"
)

// Inbound is a decoded, validated event received from a connection
type Inbound interface {
	EventType() EventType
}

// RegisterAgent binds the sending connection as the agent's presence connection
type RegisterAgent struct {
	CompanyID   string `json:"companyId"`
	AgentHandle string `json:"agentHandle"`
	MaxLoad     int    `json:"maxLoad,omitempty"` // filled from the agent directory
}

// CallRequest asks for an agent on behalf of the sending visitor connection
type CallRequest struct {
	CompanyID   string      `json:"companyId"`
	Kind        RequestKind `json:"kind"`
	VisitorID   string      `json:"visitorId"`
	RequestedAt time.Time   `json:"-"`
	NoFallback  bool        `json:"-"` // set from the company directory
}

// AcceptCall is the invited agent taking the call
type AcceptCall struct {
	SessionID   string `json:"sessionId"`
	AgentHandle string `json:"agentHandle"`
}

// RejectCall is the invited agent declining the call
type RejectCall struct {
	SessionID   string `json:"sessionId"`
	AgentHandle string `json:"agentHandle"`
}

// Signal is an offer, answer or ICE candidate to be relayed to the other leg.
// Payload holds the original bytes of the offer/answer/candidate field.
type Signal struct {
	Kind      EventType
	SessionID string
	Payload   json.RawMessage
}

// AudioStateChange reports whether a leg currently has an audio track
type AudioStateChange struct {
	SessionID string `json:"sessionId"`
	HasAudio  bool   `json:"hasAudio"`
	Role      Role   `json:"role"`
}

// ToggleMute reports a leg muting or unmuting
type ToggleMute struct {
	SessionID string `json:"sessionId"`
	IsMuted   bool   `json:"isMuted"`
	Role      Role   `json:"role"`
}

// EndCall is an explicit termination by either leg
type EndCall struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

// SetAvailability is an agent's explicit status update
type SetAvailability struct {
	Availability Availability `json:"availability"`
}

// WatchSession joins the sending connection to a session's broadcast group
type WatchSession struct {
	SessionID string `json:"sessionId"`
}

func (RegisterAgent) EventType() EventType    { return EventRegisterAgent }
func (CallRequest) EventType() EventType      { return EventCallRequest }
func (AcceptCall) EventType() EventType       { return EventAcceptCall }
func (RejectCall) EventType() EventType       { return EventRejectCall }
func (s Signal) EventType() EventType         { return s.Kind }
func (AudioStateChange) EventType() EventType { return EventAudioStateChange }
func (ToggleMute) EventType() EventType       { return EventToggleMute }
func (EndCall) EventType() EventType          { return EventEndCall }
func (SetAvailability) EventType() EventType  { return EventSetAvailability }
func (WatchSession) EventType() EventType     { return EventWatchSession }
