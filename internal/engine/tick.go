package engine

import (
	"context"
	"sort"
	"time"

	"github.com/dennisdiepolder/monti/callrouter/internal/metrics"
	"github.com/dennisdiepolder/monti/callrouter/internal/types"
)

// updateCursor is where the next queue-update pass starts
type updateCursor struct {
	companyID string
	offset    int
}

func (e *Engine) tick() {
	start := time.Now()
	now := e.now()

	if e.cfg.RingTimeout > 0 {
		for _, sess := range e.sync.Table().Ringing() {
			if now.Sub(sess.StartedAt) < e.cfg.RingTimeout {
				continue
			}
			invited, handle := sess.InvitedConnectionID, sess.AgentHandle
			e.sendJSON(invited, types.CallStatus{
				Type:        types.MsgCallStatus,
				SessionID:   sess.SessionID,
				Status:      types.StatusExpired,
				AgentHandle: handle,
				Reason:      types.ReasonRingTimeout,
			})
			e.requeueRinging(sess.SessionID, true)
			e.logger.Info().
				Str("session_id", sess.SessionID).
				Str("agent_handle", handle).
				Msg("invitation expired")
		}
	}

	for _, entry := range e.router.ExpireStale(e.cfg.QueueMaxWait) {
		e.sendJSON(entry.VisitorConnectionID, types.CallStatus{
			Type:      types.MsgCallStatus,
			SessionID: entry.SessionID,
			Status:    types.StatusAbandoned,
			Reason:    types.ReasonQueueTimeout,
		})
		e.logger.Info().
			Str("company_id", entry.CompanyID).
			Str("request_id", entry.RequestID).
			Msg("queued request timed out")
	}

	e.applyRouted(e.router.DrainAll())
	sent := e.pushQueueUpdates()

	m := metrics.Get()
	m.SetQueueDepth(e.router.Queues().Total())
	m.SetActiveSessions(e.sync.Table().Len())
	m.ObserveTick(time.Since(start).Seconds())

	if sent > 0 {
		e.logger.Debug().Int("updates", sent).Msg("queue updates pushed")
	}
}

// pushQueueUpdates sends position and estimate to waiting visitors. At most
// QueueUpdateBatch frames go out per tick. The cursor remembers the company
// and offset where the budget ran out and the next tick resumes there, so
// every waiting visitor is reached within ceil(waiting/batch) ticks.
func (e *Engine) pushQueueUpdates() int {
	queues := e.router.Queues()
	companies := queues.Companies()
	total := queues.Total()
	if len(companies) == 0 || total == 0 {
		e.cursor = updateCursor{}
		return 0
	}
	budget := e.cfg.QueueUpdateBatch
	if budget <= 0 || budget > total {
		budget = total
	}

	idx := sort.SearchStrings(companies, e.cursor.companyID)
	offset := 0
	if idx < len(companies) && companies[idx] == e.cursor.companyID {
		offset = e.cursor.offset
	}
	if idx == len(companies) {
		idx = 0
	}

	entries := queues.Entries(companies[idx])
	sent := 0
	for sent < budget {
		if offset >= len(entries) {
			idx = (idx + 1) % len(companies)
			offset = 0
			entries = queues.Entries(companies[idx])
			continue
		}
		position := offset + 1
		e.sendJSON(entries[offset].VisitorConnectionID, types.QueueUpdate{
			Type:      types.MsgQueueUpdate,
			SessionID: entries[offset].SessionID,
			Position:  position,
			Estimate:  e.router.Estimate(position),
		})
		offset++
		sent++
	}
	e.cursor = updateCursor{companyID: companies[idx], offset: offset}
	return sent
}

// record persists an ended session off the worker goroutine
func (e *Engine) record(sess *types.CallSession) {
	if e.recorder == nil {
		return
	}
	rec := sessionRecord(sess, e.now())
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RecordTimeout)
		defer cancel()
		if err := e.recorder.SaveSessionRecord(ctx, rec); err != nil {
			e.logger.Error().Err(err).Str("session_id", rec.SessionID).Msg("failed to save session record")
		}
	}()
}

func sessionRecord(sess *types.CallSession, endedAt time.Time) types.SessionRecord {
	rec := types.SessionRecord{
		CompanyDate:    types.CompanyDateKey(sess.CompanyID, sess.StartedAt.UTC().Format("2006-01-02")),
		SessionID:      sess.SessionID,
		CompanyID:      sess.CompanyID,
		AgentCompanyID: sess.AgentCompanyID,
		AgentHandle:    sess.AgentHandle,
		VisitorID:      sess.VisitorID,
		Kind:           string(sess.Kind),
		StartedAt:      sess.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:        endedAt.UTC().Format(time.RFC3339),
		EndReason:      sess.EndReason,
	}
	if sess.ConnectedAt != nil {
		rec.ReachedConnected = true
		rec.ConnectedAt = sess.ConnectedAt.UTC().Format(time.RFC3339)
		rec.RingTime = sess.ConnectedAt.Sub(sess.StartedAt).Seconds()
		rec.TalkTime = endedAt.Sub(*sess.ConnectedAt).Seconds()
	} else {
		rec.RingTime = endedAt.Sub(sess.StartedAt).Seconds()
	}
	return rec
}
