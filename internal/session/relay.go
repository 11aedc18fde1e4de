package session

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dennisdiepolder/monti/callrouter/internal/types"
	"github.com/rs/zerolog"
)

// Relay forwards WebRTC negotiation messages between the two legs of a
// session. It never queues or retries: the media layer renegotiates.
type Relay struct {
	table  *Table
	sender Sender
	sync   *Synchronizer
	logger zerolog.Logger
}

// NewRelay creates a relay over the synchronizer's table
func NewRelay(sync *Synchronizer, sender Sender, logger zerolog.Logger) *Relay {
	return &Relay{
		table:  sync.Table(),
		sender: sender,
		sync:   sync,
		logger: logger.With().Str("component", "relay").Logger(),
	}
}

// payloadField maps a signaling kind to the field carrying its payload
func payloadField(kind types.EventType) (string, bool) {
	switch kind {
	case types.EventWebRTCOffer:
		return "offer", true
	case types.EventWebRTCAnswer:
		return "answer", true
	case types.EventWebRTCCandidate:
		return "candidate", true
	}
	return "", false
}

// Forward re-emits payload to the other leg of sessionID, tagged with the
// origin connection id. It reports whether the message was delivered.
func (r *Relay) Forward(sessionID string, kind types.EventType, payload json.RawMessage, origin string) bool {
	log := r.logger.With().
		Str("session_id", sessionID).
		Str("kind", string(kind)).
		Str("connection_id", origin).
		Logger()

	field, ok := payloadField(kind)
	if !ok {
		log.Warn().Msg("dropping unknown signaling kind")
		return false
	}

	sess, ok := r.table.Get(sessionID)
	if !ok {
		log.Warn().Msg("dropping signal for unknown session")
		return false
	}

	var target string
	switch origin {
	case "":
		log.Warn().Msg("dropping signal without origin")
		return false
	case sess.VisitorConnectionID:
		target = sess.AgentConnectionID
	case sess.AgentConnectionID:
		target = sess.VisitorConnectionID
	default:
		log.Warn().Msg("dropping signal from a connection outside the session")
		return false
	}
	if target == "" {
		log.Warn().Msg("dropping signal, target leg not connected yet")
		return false
	}

	frame, err := encodeSignal(kind, sessionID, origin, field, payload)
	if err != nil {
		log.Warn().Err(err).Msg("dropping unencodable signal")
		return false
	}
	if !r.sender.Send(target, frame) {
		log.Warn().Str("target_connection_id", target).Msg("dropping signal, target connection gone")
		return false
	}

	if kind == types.EventWebRTCAnswer {
		r.sync.MarkWebRTCConnected(sessionID)
	}
	return true
}

// encodeSignal builds the forwarded frame by hand so the payload bytes are
// passed through untouched.
func encodeSignal(kind types.EventType, sessionID, origin, field string, payload json.RawMessage) ([]byte, error) {
	if len(payload) == 0 || !json.Valid(payload) {
		return nil, fmt.Errorf("invalid %s payload", field)
	}
	head, err := json.Marshal(struct {
		Type             types.EventType `json:"type"`
		SessionID        string          `json:"sessionId"`
		FromConnectionID string          `json:"fromConnectionId"`
	}{kind, sessionID, origin})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(head) + len(field) + len(payload) + 4)
	buf.Write(head[:len(head)-1])
	buf.WriteString(`,"`)
	buf.WriteString(field)
	buf.WriteString(`":`)
	buf.Write(payload)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
