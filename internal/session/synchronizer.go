package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dennisdiepolder/monti/callrouter/internal/types"
	"github.com/rs/zerolog"
)

// Sender delivers frames to connections and session broadcast groups
type Sender interface {
	Send(connID string, msg []byte) bool
	SendToGroup(group string, msg []byte) int
	JoinGroup(group, connID string)
	DropGroup(group string)
}

// GroupName returns the broadcast group of a session
func GroupName(sessionID string) string {
	return "session:" + sessionID
}

// Synchronizer owns session state transitions and keeps both legs and the
// session's broadcast group in agreement about them.
type Synchronizer struct {
	table      *Table
	sender     Sender
	iceServers []types.ICEServer
	now        func() time.Time
	logger     zerolog.Logger
}

// NewSynchronizer creates a synchronizer over table
func NewSynchronizer(table *Table, sender Sender, iceServers []types.ICEServer, logger zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		table:      table,
		sender:     sender,
		iceServers: iceServers,
		now:        time.Now,
		logger:     logger.With().Str("component", "synchronizer").Logger(),
	}
}

// SetClock overrides the time source
func (s *Synchronizer) SetClock(now func() time.Time) {
	s.now = now
}

// Table returns the session table
func (s *Synchronizer) Table() *Table {
	return s.table
}

// Ring opens a session for an invitation that has not been accepted yet
func (s *Synchronizer) Ring(sess *types.CallSession) {
	sess.Status = types.SessionRinging
	if sess.StartedAt.IsZero() {
		sess.StartedAt = s.now()
	}
	s.table.Open(sess)
}

// Accept moves a ringing session to connected and binds connID as the agent leg
func (s *Synchronizer) Accept(sessionID, agentHandle, connID string) (*types.CallSession, error) {
	sess, ok := s.table.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("accept %s: %w", sessionID, types.ErrNotFound)
	}
	if sess.Status != types.SessionRinging {
		return nil, fmt.Errorf("accept %s in %s: %w", sessionID, sess.Status, types.ErrStale)
	}
	if agentHandle != "" && agentHandle != sess.AgentHandle {
		return nil, fmt.Errorf("accept %s by %s: %w", sessionID, agentHandle, types.ErrForbidden)
	}

	now := s.now()
	sess.AgentConnectionID = connID
	sess.Status = types.SessionConnected
	sess.ConnectedAt = &now

	visitor, agent := sess.Visitor, sess.Agent
	s.broadcast(sess, types.CallStateSync{
		Type:             types.MsgCallStateSync,
		Event:            types.SyncCallConnected,
		SessionID:        sess.SessionID,
		Status:           sess.Status,
		AgentHandle:      sess.AgentHandle,
		ShowCallControls: types.Bool(true),
		EnableAudio:      types.Bool(true),
		ICEServers:       s.iceServers,
		Visitor:          &visitor,
		Agent:            &agent,
		Timestamp:        now,
	})

	s.logger.Info().
		Str("session_id", sess.SessionID).
		Str("agent_handle", sess.AgentHandle).
		Str("connection_id", connID).
		Msg("call connected")
	return sess, nil
}

// Withdraw removes a ringing session without announcing an end, used when
// the invitation is declined or expires and the request goes back to the queue.
func (s *Synchronizer) Withdraw(sessionID string) (*types.CallSession, bool) {
	sess, ok := s.table.Get(sessionID)
	if !ok || sess.Status != types.SessionRinging {
		return nil, false
	}
	s.table.Remove(sessionID)
	s.sender.DropGroup(GroupName(sessionID))
	return sess, true
}

// End terminates a session: call-ended goes to both legs and the group,
// then the session is removed. Ending an absent session is a logged no-op.
func (s *Synchronizer) End(sessionID, reason string) (*types.CallSession, bool) {
	sess, ok := s.table.Get(sessionID)
	if !ok || sess.Status == types.SessionEnded {
		s.logger.Debug().Str("session_id", sessionID).Str("reason", reason).Msg("end for absent session ignored")
		return nil, false
	}
	if reason == "" {
		reason = types.ReasonHangup
	}

	sess.Status = types.SessionEnded
	sess.EndReason = reason
	s.broadcast(sess, types.CallStateSync{
		Type:      types.MsgCallStateSync,
		Event:     types.SyncCallEnded,
		SessionID: sess.SessionID,
		Status:    sess.Status,
		Reason:    reason,
		Timestamp: s.now(),
	})

	s.table.Remove(sessionID)
	s.sender.DropGroup(GroupName(sessionID))

	s.logger.Info().
		Str("session_id", sessionID).
		Str("agent_handle", sess.AgentHandle).
		Str("reason", reason).
		Msg("call ended")
	return sess, true
}

// SetAudio records whether the origin leg has audio and broadcasts the change
func (s *Synchronizer) SetAudio(sessionID, origin string, role types.Role, hasAudio bool) error {
	sess, leg, err := s.connectedLeg(sessionID, origin, role)
	if err != nil {
		return err
	}
	state := s.legState(sess, leg)
	state.HasAudio = hasAudio
	s.broadcast(sess, types.CallStateSync{
		Type:      types.MsgCallStateSync,
		Event:     types.SyncAudioStateChanged,
		SessionID: sess.SessionID,
		Status:    sess.Status,
		Role:      leg,
		HasAudio:  types.Bool(hasAudio),
		Timestamp: s.now(),
	})
	return nil
}

// SetMute records the origin leg's mute state and broadcasts the change
func (s *Synchronizer) SetMute(sessionID, origin string, role types.Role, isMuted bool) error {
	sess, leg, err := s.connectedLeg(sessionID, origin, role)
	if err != nil {
		return err
	}
	state := s.legState(sess, leg)
	state.IsMuted = isMuted
	s.broadcast(sess, types.CallStateSync{
		Type:      types.MsgCallStateSync,
		Event:     types.SyncMuteStateChanged,
		SessionID: sess.SessionID,
		Status:    sess.Status,
		Role:      leg,
		IsMuted:   types.Bool(isMuted),
		Timestamp: s.now(),
	})
	return nil
}

// MarkWebRTCConnected flips both legs to connected once an answer has been
// relayed. This is a signaling milestone only; media may still fail.
func (s *Synchronizer) MarkWebRTCConnected(sessionID string) {
	sess, ok := s.table.Get(sessionID)
	if !ok || sess.Status != types.SessionConnected {
		return
	}
	if sess.Visitor.IsConnected && sess.Agent.IsConnected {
		return
	}
	sess.Visitor.IsConnected = true
	sess.Agent.IsConnected = true

	visitor, agent := sess.Visitor, sess.Agent
	s.broadcast(sess, types.CallStateSync{
		Type:      types.MsgCallStateSync,
		Event:     types.SyncWebRTCConnected,
		SessionID: sess.SessionID,
		Status:    sess.Status,
		Visitor:   &visitor,
		Agent:     &agent,
		Timestamp: s.now(),
	})
}

// Watch adds an observer connection to the session's broadcast group
func (s *Synchronizer) Watch(sessionID, connID string) error {
	sess, ok := s.table.Get(sessionID)
	if !ok {
		return fmt.Errorf("watch %s: %w", sessionID, types.ErrNotFound)
	}
	if _, isLeg := sess.LegFor(connID); isLeg {
		return nil
	}
	s.sender.JoinGroup(GroupName(sessionID), connID)
	return nil
}

func (s *Synchronizer) connectedLeg(sessionID, origin string, role types.Role) (*types.CallSession, types.Role, error) {
	sess, ok := s.table.Get(sessionID)
	if !ok {
		return nil, "", fmt.Errorf("session %s: %w", sessionID, types.ErrNotFound)
	}
	if sess.Status != types.SessionConnected {
		return nil, "", fmt.Errorf("session %s in %s: %w", sessionID, sess.Status, types.ErrStale)
	}
	leg, ok := sess.LegFor(origin)
	if !ok || (role != "" && role != leg) {
		return nil, "", fmt.Errorf("session %s from %s: %w", sessionID, origin, types.ErrForbidden)
	}
	return sess, leg, nil
}

func (s *Synchronizer) legState(sess *types.CallSession, role types.Role) *types.LegState {
	if role == types.RoleAgent {
		return &sess.Agent
	}
	return &sess.Visitor
}

// broadcast sends msg to the visitor leg, the agent leg (or invited
// connection while ringing) and the session's broadcast group.
func (s *Synchronizer) broadcast(sess *types.CallSession, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sess.SessionID).Msg("failed to marshal session broadcast")
		return
	}
	if sess.VisitorConnectionID != "" {
		s.sender.Send(sess.VisitorConnectionID, data)
	}
	if target := sess.AgentTarget(); target != "" && target != sess.VisitorConnectionID {
		s.sender.Send(target, data)
	}
	s.sender.SendToGroup(GroupName(sess.SessionID), data)
}
