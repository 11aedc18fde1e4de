package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dennisdiepolder/monti/callrouter/internal/cache"
	"github.com/dennisdiepolder/monti/callrouter/internal/callqueue"
	"github.com/dennisdiepolder/monti/callrouter/internal/metrics"
	"github.com/dennisdiepolder/monti/callrouter/internal/types"
	"github.com/google/uuid"
)

func (e *Engine) dispatch(connID string, ev types.Inbound) {
	reg, ok := e.registry.Resolve(connID)
	if !ok {
		e.logger.Debug().Str("connection_id", connID).Str("type", string(ev.EventType())).Msg("event from unregistered connection ignored")
		return
	}
	metrics.Get().RecordInbound(string(ev.EventType()))

	switch ev := ev.(type) {
	case types.RegisterAgent:
		e.registerAgent(reg, ev)
	case types.CallRequest:
		if _, err := e.routeCall(connID, ev, true); err != nil {
			e.sendError(connID, ev.EventType(), err.Error())
		}
	case types.AcceptCall:
		e.acceptCall(reg, ev)
	case types.RejectCall:
		e.rejectCall(reg, ev.SessionID, ev.AgentHandle)
	case types.Signal:
		metrics.Get().RecordRelay(string(ev.Kind), e.relay.Forward(ev.SessionID, ev.Kind, ev.Payload, connID))
	case types.AudioStateChange:
		e.logStateError(ev.SessionID, ev.EventType(), e.sync.SetAudio(ev.SessionID, connID, ev.Role, ev.HasAudio))
	case types.ToggleMute:
		e.logStateError(ev.SessionID, ev.EventType(), e.sync.SetMute(ev.SessionID, connID, ev.Role, ev.IsMuted))
	case types.EndCall:
		e.endCall(reg, ev)
	case types.SetAvailability:
		e.setAvailability(reg, ev)
	case types.WatchSession:
		e.watchSession(reg, ev)
	default:
		e.logger.Warn().Str("type", string(ev.EventType())).Msg("unhandled event type")
	}
}

func (e *Engine) registerAgent(reg cache.Registration, ev types.RegisterAgent) {
	if reg.Role != types.RoleAgent {
		e.sendError(reg.ConnectionID, ev.EventType(), "register-agent requires an agent connection")
		return
	}
	if reg.Identity != "" && (reg.Identity != ev.AgentHandle || reg.CompanyID != ev.CompanyID) {
		e.logger.Warn().
			Str("connection_id", reg.ConnectionID).
			Str("agent_handle", ev.AgentHandle).
			Msg("register-agent does not match authenticated identity")
		e.sendError(reg.ConnectionID, ev.EventType(), "agent identity mismatch")
		return
	}

	maxLoad := ev.MaxLoad
	if maxLoad <= 0 {
		maxLoad = e.cfg.DefaultMaxLoad
	}
	e.registry.Register(reg.ConnectionID, types.RoleAgent, ev.CompanyID, ev.AgentHandle)
	p := e.presence.SetOnline(ev.CompanyID, ev.AgentHandle, reg.ConnectionID, maxLoad)

	e.sendJSON(reg.ConnectionID, types.AgentRegistered{
		Type:        types.MsgAgentRegistered,
		CompanyID:   p.CompanyID,
		AgentHandle: p.AgentHandle,
		MaxLoad:     p.MaxLoad,
	})
	e.logger.Info().
		Str("company_id", p.CompanyID).
		Str("agent_handle", p.AgentHandle).
		Str("connection_id", reg.ConnectionID).
		Int("max_load", p.MaxLoad).
		Msg("agent online")

	e.drainFor(p.CompanyID)
}

func (e *Engine) routeCall(connID string, req types.CallRequest, push bool) (types.RouteResult, error) {
	reg, ok := e.registry.Resolve(connID)
	if !ok {
		return types.RouteResult{}, fmt.Errorf("connection %s: %w", connID, types.ErrNotFound)
	}
	if reg.Role != types.RoleVisitor {
		return types.RouteResult{}, &types.ValidationError{Event: types.EventCallRequest, Field: "connectionId", Reason: "not a visitor connection"}
	}

	requestedAt := req.RequestedAt
	if requestedAt.IsZero() {
		requestedAt = e.now()
	}
	entry := &types.QueueEntry{
		CompanyID:           req.CompanyID,
		RequestID:           uuid.NewString(),
		SessionID:           uuid.NewString(),
		VisitorID:           req.VisitorID,
		VisitorConnectionID: connID,
		RequestedAt:         requestedAt,
		Kind:                req.Kind,
		NoFallback:          req.NoFallback,
	}

	primary, drained := e.router.Route(entry)
	metrics.Get().RecordRouting(string(primary.Outcome))

	var result types.RouteResult
	switch primary.Outcome {
	case callqueue.OutcomeRejected:
		result = types.RouteResult{Reason: primary.Reason}
	case callqueue.OutcomeQueued:
		result = types.RouteResult{
			Queued:    true,
			SessionID: entry.SessionID,
			Position:  primary.Position,
			Estimate:  primary.Estimate,
		}
	case callqueue.OutcomeRouted:
		e.invite(primary)
		result = types.RouteResult{
			Success:     true,
			SessionID:   entry.SessionID,
			AgentHandle: primary.Agent.AgentHandle,
		}
	}

	if push {
		e.sendJSON(connID, types.CallRouted{Type: types.MsgCallRouted, RouteResult: result})
	}
	e.applyRouted(drained)
	return result, nil
}

// invite opens a ringing session for a routed decision and rings the agent
func (e *Engine) invite(d callqueue.Decision) {
	entry := d.Entry
	sess := &types.CallSession{
		SessionID:           entry.SessionID,
		RequestID:           entry.RequestID,
		CompanyID:           entry.CompanyID,
		Kind:                entry.Kind,
		VisitorID:           entry.VisitorID,
		VisitorConnectionID: entry.VisitorConnectionID,
		AgentHandle:         d.Agent.AgentHandle,
		AgentCompanyID:      d.Agent.CompanyID,
		InvitedConnectionID: d.Agent.ConnectionID,
		StartedAt:           e.now(),
		Request:             entry,
	}
	e.sync.Ring(sess)

	if !e.sendJSON(d.Agent.ConnectionID, types.IncomingCall{
		Type:        types.MsgIncomingCall,
		SessionID:   sess.SessionID,
		CompanyID:   sess.CompanyID,
		VisitorID:   sess.VisitorID,
		Kind:        sess.Kind,
		RequestedAt: entry.RequestedAt,
	}) {
		e.logger.Warn().
			Str("session_id", sess.SessionID).
			Str("agent_handle", sess.AgentHandle).
			Msg("invitation not delivered, waiting for ring timeout")
	}
}

// applyRouted rings agents for requests routed out of a queue and tells
// the waiting visitors
func (e *Engine) applyRouted(decisions []callqueue.Decision) {
	for _, d := range decisions {
		if d.Outcome != callqueue.OutcomeRouted {
			continue
		}
		metrics.Get().RecordRouting(string(d.Outcome))
		e.invite(d)
		e.sendJSON(d.Entry.VisitorConnectionID, types.CallStatus{
			Type:        types.MsgCallStatus,
			SessionID:   d.Entry.SessionID,
			Status:      types.StatusRinging,
			AgentHandle: d.Agent.AgentHandle,
		})
	}
}

// drainFor re-evaluates the queues an agent of companyID can serve
func (e *Engine) drainFor(companyID string) {
	if companyID != "" && companyID == e.cfg.FallbackCompanyID {
		e.applyRouted(e.router.DrainAll())
		return
	}
	e.applyRouted(e.router.Drain(companyID))
}

func (e *Engine) acceptCall(reg cache.Registration, ev types.AcceptCall) {
	if reg.Role != types.RoleAgent || reg.Identity == "" {
		e.sendError(reg.ConnectionID, ev.EventType(), "accept-call requires a registered agent")
		return
	}
	if ev.AgentHandle != "" && ev.AgentHandle != reg.Identity {
		e.sendError(reg.ConnectionID, ev.EventType(), "agent identity mismatch")
		return
	}
	if sess, ok := e.sync.Table().Get(ev.SessionID); ok && sess.AgentCompanyID != reg.CompanyID {
		e.sendError(reg.ConnectionID, ev.EventType(), "session belongs to another agent")
		return
	}

	if _, err := e.sync.Accept(ev.SessionID, reg.Identity, reg.ConnectionID); err != nil {
		if errors.Is(err, types.ErrForbidden) {
			e.sendError(reg.ConnectionID, ev.EventType(), "session belongs to another agent")
		}
		e.logStateError(ev.SessionID, ev.EventType(), err)
	}
}

// rejectCall handles an explicit decline of a ringing invitation
func (e *Engine) rejectCall(reg cache.Registration, sessionID, handle string) {
	sess, ok := e.sync.Table().Get(sessionID)
	if !ok || sess.Status != types.SessionRinging {
		e.logger.Debug().Str("session_id", sessionID).Msg("reject for session that is not ringing ignored")
		return
	}
	if reg.Role != types.RoleAgent || reg.Identity != sess.AgentHandle || reg.CompanyID != sess.AgentCompanyID ||
		(handle != "" && handle != sess.AgentHandle) {
		e.sendError(reg.ConnectionID, types.EventRejectCall, "session belongs to another agent")
		return
	}
	e.requeueRinging(sessionID, true)
	e.logger.Info().
		Str("session_id", sessionID).
		Str("agent_handle", sess.AgentHandle).
		Msg("invitation declined")
}

// requeueRinging withdraws a ringing session and returns its request to the
// front of the queue, then rechecks the queue for another agent.
func (e *Engine) requeueRinging(sessionID string, exclude bool) {
	sess, ok := e.sync.Withdraw(sessionID)
	if !ok || sess.Request == nil {
		return
	}
	pos := e.router.Requeue(sess.Request, sess.AgentKey(), exclude)
	e.sendJSON(sess.VisitorConnectionID, types.QueueUpdate{
		Type:      types.MsgQueueUpdate,
		SessionID: sess.SessionID,
		Position:  pos,
		Estimate:  e.router.Estimate(pos),
	})
	e.applyRouted(e.router.Drain(sess.Request.CompanyID))
}

func (e *Engine) endCall(reg cache.Registration, ev types.EndCall) {
	sess, ok := e.sync.Table().Get(ev.SessionID)
	if !ok {
		e.logger.Debug().Str("session_id", ev.SessionID).Msg("end-call for absent session ignored")
		return
	}

	isAgent := reg.Role == types.RoleAgent &&
		reg.Identity == sess.AgentHandle && reg.CompanyID == sess.AgentCompanyID
	if sess.Status == types.SessionRinging && isAgent {
		e.rejectCall(reg, ev.SessionID, "")
		return
	}
	if _, isLeg := sess.LegFor(reg.ConnectionID); !isLeg && !isAgent {
		e.logger.Warn().
			Str("session_id", ev.SessionID).
			Str("connection_id", reg.ConnectionID).
			Msg("end-call from a connection outside the session")
		return
	}
	e.endSession(ev.SessionID, ev.Reason)
}

// endSession ends a session, releases the agent's load and lets the next
// waiting request have the agent. Safe to call for absent sessions.
func (e *Engine) endSession(sessionID, reason string) {
	sess, ok := e.sync.End(sessionID, reason)
	if !ok {
		return
	}
	e.router.Release(sess.AgentKey())
	metrics.Get().RecordSessionEnded(sess.EndReason)
	e.record(sess)
	e.drainFor(sess.AgentCompanyID)
}

func (e *Engine) setAvailability(reg cache.Registration, ev types.SetAvailability) {
	if reg.Role != types.RoleAgent || reg.Identity == "" {
		e.sendError(reg.ConnectionID, ev.EventType(), "set-availability requires a registered agent")
		return
	}
	p, err := e.presence.SetAvailability(reg.CompanyID, reg.Identity, ev.Availability)
	if err != nil {
		e.sendError(reg.ConnectionID, ev.EventType(), "register-agent first")
		return
	}
	e.logger.Info().
		Str("company_id", p.CompanyID).
		Str("agent_handle", p.AgentHandle).
		Str("availability", string(p.Availability)).
		Msg("agent availability changed")
	if p.Availability == types.AvailabilityOnline {
		e.drainFor(p.CompanyID)
	}
}

func (e *Engine) watchSession(reg cache.Registration, ev types.WatchSession) {
	sess, ok := e.sync.Table().Get(ev.SessionID)
	if !ok {
		e.sendError(reg.ConnectionID, ev.EventType(), "unknown session")
		return
	}
	if reg.Role != types.RoleAgent || (reg.CompanyID != sess.CompanyID && reg.CompanyID != sess.AgentCompanyID) {
		e.sendError(reg.ConnectionID, ev.EventType(), "not allowed to watch this session")
		return
	}
	e.logStateError(ev.SessionID, ev.EventType(), e.sync.Watch(ev.SessionID, reg.ConnectionID))
}

// connectionClosed resolves every session and queue entry bound to connID
func (e *Engine) connectionClosed(connID string) {
	reg, ok := e.registry.Unregister(connID)
	if !ok {
		return
	}

	if reg.Role == types.RoleAgent && reg.Identity != "" {
		if p, ok := e.presence.Get(reg.CompanyID, reg.Identity); ok && p.ConnectionID == connID {
			e.presence.SetOffline(reg.CompanyID, reg.Identity)
			e.logger.Info().
				Str("company_id", reg.CompanyID).
				Str("agent_handle", reg.Identity).
				Msg("agent offline")
		}
	}

	if abandoned := e.router.AbandonConnection(connID); len(abandoned) > 0 {
		e.logger.Debug().Str("connection_id", connID).Int("count", len(abandoned)).Msg("queued requests abandoned")
	}

	for _, sess := range e.sync.Table().ByConnection(connID) {
		if sess.Status == types.SessionRinging && sess.InvitedConnectionID == connID &&
			sess.VisitorConnectionID != connID {
			e.requeueRinging(sess.SessionID, false)
			continue
		}
		e.endSession(sess.SessionID, types.ReasonTransportLost)
	}
}

func (e *Engine) logStateError(sessionID string, event types.EventType, err error) {
	switch {
	case err == nil:
	case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrStale):
		e.logger.Debug().Err(err).Str("session_id", sessionID).Str("type", string(event)).Msg("stale event ignored")
	default:
		e.logger.Warn().Err(err).Str("session_id", sessionID).Str("type", string(event)).Msg("event rejected")
	}
}

func (e *Engine) sendError(connID string, event types.EventType, reason string) {
	e.sendJSON(connID, types.ErrorMessage{Type: types.MsgError, Event: event, Reason: reason})
}

func (e *Engine) sendJSON(connID string, v interface{}) bool {
	if connID == "" {
		return false
	}
	data, err := json.Marshal(v)
	if err != nil {
		e.logger.Error().Err(err).Str("connection_id", connID).Msg("failed to marshal message")
		return false
	}
	return e.sender.Send(connID, data)
}
