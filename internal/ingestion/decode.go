package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dennisdiepolder/monti/callrouter/internal/types"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

type envelope struct {
	Type types.EventType `json:"type"`
}

type sessionFrame struct {
	SessionID   string `json:"sessionId"`
	AgentHandle string `json:"agentHandle"`
}

type audioFrame struct {
	SessionID string     `json:"sessionId"`
	HasAudio  *bool      `json:"hasAudio"`
	Role      types.Role `json:"role"`
}

type muteFrame struct {
	SessionID string     `json:"sessionId"`
	IsMuted   *bool      `json:"isMuted"`
	Role      types.Role `json:"role"`
}

type signalFrame struct {
	SessionID string          `json:"sessionId"`
	Offer     json.RawMessage `json:"offer"`
	Answer    json.RawMessage `json:"answer"`
	Candidate json.RawMessage `json:"candidate"`
}

func invalid(event types.EventType, field, reason string) *types.ValidationError {
	return &types.ValidationError{Event: event, Field: field, Reason: reason}
}

func missing(event types.EventType, field string) *types.ValidationError {
	return invalid(event, field, "missing "+field)
}

// Decode parses a transport frame into its tagged variant and enforces the
// fields each event requires. Every failure is a *types.ValidationError.
func Decode(raw []byte) (types.Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, invalid("", "", "malformed JSON")
	}
	if env.Type == "" {
		return nil, missing("", "type")
	}

	unmarshal := func(v interface{}) error {
		if err := json.Unmarshal(raw, v); err != nil {
			return invalid(env.Type, "", fmt.Sprintf("malformed payload: %v", err))
		}
		return nil
	}

	switch env.Type {
	case types.EventRegisterAgent:
		var ev types.RegisterAgent
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		switch {
		case ev.CompanyID == "":
			return nil, missing(env.Type, "companyId")
		case ev.AgentHandle == "":
			return nil, missing(env.Type, "agentHandle")
		}
		ev.MaxLoad = 0 // taken from the directory, never from the client
		return ev, nil

	case types.EventCallRequest:
		var ev types.CallRequest
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		if err := validateRequest(ev.CompanyID, ev.Kind); err != nil {
			return nil, err
		}
		return ev, nil

	case types.EventAcceptCall, types.EventRejectCall:
		var f sessionFrame
		if err := unmarshal(&f); err != nil {
			return nil, err
		}
		if f.SessionID == "" {
			return nil, missing(env.Type, "sessionId")
		}
		if env.Type == types.EventAcceptCall {
			return types.AcceptCall{SessionID: f.SessionID, AgentHandle: f.AgentHandle}, nil
		}
		return types.RejectCall{SessionID: f.SessionID, AgentHandle: f.AgentHandle}, nil

	case types.EventWebRTCOffer, types.EventWebRTCAnswer, types.EventWebRTCCandidate:
		var f signalFrame
		if err := unmarshal(&f); err != nil {
			return nil, err
		}
		if f.SessionID == "" {
			return nil, missing(env.Type, "sessionId")
		}
		payload, err := signalPayload(env.Type, f)
		if err != nil {
			return nil, err
		}
		return types.Signal{Kind: env.Type, SessionID: f.SessionID, Payload: payload}, nil

	case types.EventAudioStateChange:
		var f audioFrame
		if err := unmarshal(&f); err != nil {
			return nil, err
		}
		switch {
		case f.SessionID == "":
			return nil, missing(env.Type, "sessionId")
		case f.HasAudio == nil:
			return nil, missing(env.Type, "hasAudio")
		case f.Role != "" && !f.Role.Valid():
			return nil, invalid(env.Type, "role", "unknown role")
		}
		return types.AudioStateChange{SessionID: f.SessionID, HasAudio: *f.HasAudio, Role: f.Role}, nil

	case types.EventToggleMute:
		var f muteFrame
		if err := unmarshal(&f); err != nil {
			return nil, err
		}
		switch {
		case f.SessionID == "":
			return nil, missing(env.Type, "sessionId")
		case f.IsMuted == nil:
			return nil, missing(env.Type, "isMuted")
		case f.Role != "" && !f.Role.Valid():
			return nil, invalid(env.Type, "role", "unknown role")
		}
		return types.ToggleMute{SessionID: f.SessionID, IsMuted: *f.IsMuted, Role: f.Role}, nil

	case types.EventEndCall:
		var ev types.EndCall
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		if ev.SessionID == "" {
			return nil, missing(env.Type, "sessionId")
		}
		return ev, nil

	case types.EventSetAvailability:
		var ev types.SetAvailability
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		if !ev.Availability.Valid() {
			return nil, invalid(env.Type, "availability", "must be online, busy or offline")
		}
		return ev, nil

	case types.EventWatchSession:
		var ev types.WatchSession
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		if ev.SessionID == "" {
			return nil, missing(env.Type, "sessionId")
		}
		return ev, nil
	}

	return nil, invalid(env.Type, "type", "unknown event type")
}

func validateRequest(companyID string, kind types.RequestKind) error {
	switch {
	case companyID == "":
		return missing(types.EventCallRequest, "companyId")
	case kind == "":
		return missing(types.EventCallRequest, "kind")
	case !kind.Valid():
		return invalid(types.EventCallRequest, "kind", "must be call or chat")
	}
	return nil
}

// signalPayload returns the untouched bytes of the offer, answer or
// candidate field after checking they have the shape pion expects.
func signalPayload(kind types.EventType, f signalFrame) (json.RawMessage, error) {
	switch kind {
	case types.EventWebRTCOffer:
		return sessionDescription(kind, "offer", f.Offer, webrtc.SDPTypeOffer)
	case types.EventWebRTCAnswer:
		return sessionDescription(kind, "answer", f.Answer, webrtc.SDPTypeAnswer)
	}

	if len(f.Candidate) == 0 || string(f.Candidate) == "null" {
		return nil, missing(kind, "candidate")
	}
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(f.Candidate, &cand); err != nil {
		return nil, invalid(kind, "candidate", "not an ICE candidate")
	}
	// an empty candidate string signals end of candidates
	if cand.Candidate != "" && !strings.HasPrefix(cand.Candidate, "candidate:") {
		return nil, invalid(kind, "candidate", "candidate must start with candidate:")
	}
	return f.Candidate, nil
}

func sessionDescription(kind types.EventType, field string, raw json.RawMessage, want webrtc.SDPType) (json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, missing(kind, field)
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, invalid(kind, field, "not a session description")
	}
	if desc.Type != want {
		return nil, invalid(kind, field, fmt.Sprintf("expected type %s, got %s", want, desc.Type))
	}
	if desc.SDP == "" {
		return nil, missing(kind, field+".sdp")
	}
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return nil, invalid(kind, field+".sdp", "unparseable SDP")
	}
	return raw, nil
}
