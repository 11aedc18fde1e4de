package callqueue

import (
	"time"

	"github.com/dennisdiepolder/monti/callrouter/internal/cache"
	"github.com/dennisdiepolder/monti/callrouter/internal/types"
	"github.com/rs/zerolog"
)

// Outcome is the terminal state of a routing attempt
type Outcome string

const (
	OutcomeRouted   Outcome = "routed"
	OutcomeQueued   Outcome = "queued"
	OutcomeRejected Outcome = "rejected"
)

// Decision is what the Router decided for one request. The router only
// mutates presence load and the queue; emitting messages is left to the caller.
type Decision struct {
	Outcome  Outcome
	Entry    *types.QueueEntry
	Agent    types.AgentPresence
	Fallback bool
	Position int
	Estimate int
	Reason   string
}

// RouterConfig holds the routing policy knobs
type RouterConfig struct {
	FallbackCompanyID string
	UnitSeconds       int
	Cooldown          time.Duration
}

// Router assigns requests to agents or queues them. It is the only writer of
// AgentPresence.CurrentLoad. Not safe for concurrent use.
type Router struct {
	presence *cache.PresenceStore
	queues   *Queues
	strategy RoutingStrategy
	cfg      RouterConfig
	now      func() time.Time
	logger   zerolog.Logger
}

// NewRouter creates a router over the given presence store and queues
func NewRouter(presence *cache.PresenceStore, queues *Queues, strategy RoutingStrategy, cfg RouterConfig, logger zerolog.Logger) *Router {
	if strategy == nil {
		strategy = LeastLoadedFirst{}
	}
	return &Router{
		presence: presence,
		queues:   queues,
		strategy: strategy,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With().Str("component", "router").Logger(),
	}
}

// SetClock overrides the time source
func (r *Router) SetClock(now func() time.Time) {
	r.now = now
}

// Queues exposes the underlying queue set
func (r *Router) Queues() *Queues {
	return r.queues
}

// Route decides a new request. When the company already has waiting
// requests the new one joins the back and the queue is drained, so it never
// overtakes. The primary decision always describes entry; drained holds
// decisions for other entries routed on the way.
func (r *Router) Route(entry *types.QueueEntry) (primary Decision, drained []Decision) {
	if entry.CompanyID == "" {
		return Decision{Outcome: OutcomeRejected, Entry: entry, Reason: "missing companyId"}, nil
	}

	if r.queues.Len(entry.CompanyID) > 0 {
		r.queues.Enqueue(entry.CompanyID, entry)
		for _, d := range r.Drain(entry.CompanyID) {
			if d.Entry.RequestID == entry.RequestID {
				primary = d
				continue
			}
			drained = append(drained, d)
		}
		if primary.Outcome == "" {
			primary = r.queuedDecision(entry)
		}
		return primary, drained
	}

	if agent, fallback, ok := r.pick(entry); ok {
		return r.assign(entry, agent, fallback), nil
	}

	r.queues.Enqueue(entry.CompanyID, entry)
	d := r.queuedDecision(entry)
	r.logger.Debug().
		Str("company_id", entry.CompanyID).
		Str("request_id", entry.RequestID).
		Int("position", d.Position).
		Msg("no agent available, request queued")
	return d, nil
}

// Drain routes waiting requests of a company in FIFO order for as long as
// agents are available. An entry whose only candidates are excluded is
// skipped, not blocking the ones behind it.
func (r *Router) Drain(companyID string) []Decision {
	var out []Decision
	for _, entry := range r.queues.Entries(companyID) {
		if !r.hasCapacity(companyID) {
			break
		}
		agent, fallback, ok := r.pick(entry)
		if !ok {
			continue
		}
		r.queues.Remove(companyID, entry.RequestID)
		out = append(out, r.assign(entry, agent, fallback))
	}
	return out
}

// DrainAll drains every non-empty company queue
func (r *Router) DrainAll() []Decision {
	var out []Decision
	for _, companyID := range r.queues.Companies() {
		out = append(out, r.Drain(companyID)...)
	}
	return out
}

// Requeue puts a request back at the front of its queue after an invitation
// failed, returning the agent's provisional load. With exclude set the agent
// is not offered this request again until the cooldown passes.
func (r *Router) Requeue(entry *types.QueueEntry, agent types.AgentKey, exclude bool) int {
	r.Release(agent)
	if exclude && agent.AgentHandle != "" {
		entry.Exclude(agent, r.now().Add(r.cfg.Cooldown))
	}
	pos := r.queues.EnqueueFront(entry.CompanyID, entry)
	r.logger.Debug().
		Str("company_id", entry.CompanyID).
		Str("request_id", entry.RequestID).
		Str("agent_handle", agent.AgentHandle).
		Msg("request requeued at front")
	return pos
}

// Release returns one unit of load for agent
func (r *Router) Release(agent types.AgentKey) {
	if agent.AgentHandle == "" {
		return
	}
	if _, ok := r.presence.DecrementLoad(agent.CompanyID, agent.AgentHandle); !ok {
		r.logger.Warn().
			Str("company_id", agent.CompanyID).
			Str("agent_handle", agent.AgentHandle).
			Msg("release for unknown agent")
	}
}

// Abandon removes a waiting request, e.g. when it is withdrawn
func (r *Router) Abandon(companyID, requestID string) (*types.QueueEntry, bool) {
	entry, ok := r.queues.Remove(companyID, requestID)
	if ok {
		r.queues.RecordAbandoned(companyID, 1)
	}
	return entry, ok
}

// AbandonConnection removes every request queued by a visitor connection
func (r *Router) AbandonConnection(connID string) []*types.QueueEntry {
	return r.abandonWhere(func(e *types.QueueEntry) bool {
		return e.VisitorConnectionID == connID
	})
}

// ExpireStale removes requests that have waited longer than maxWait
func (r *Router) ExpireStale(maxWait time.Duration) []*types.QueueEntry {
	if maxWait <= 0 {
		return nil
	}
	cutoff := r.now().Add(-maxWait)
	return r.abandonWhere(func(e *types.QueueEntry) bool {
		return e.RequestedAt.Before(cutoff)
	})
}

func (r *Router) abandonWhere(fn func(*types.QueueEntry) bool) []*types.QueueEntry {
	removed := r.queues.RemoveWhere(fn)
	for _, entry := range removed {
		r.queues.RecordAbandoned(entry.CompanyID, 1)
	}
	return removed
}

// Estimate returns the wait estimate in seconds for a position
func (r *Router) Estimate(position int) int {
	return Estimate(position, r.cfg.UnitSeconds)
}

// QueueStatus builds the widget queue-status read for a company
func (r *Router) QueueStatus(companyID string) types.QueueStatus {
	n := r.queues.Len(companyID)
	status := types.QueueStatus{
		CompanyID:   companyID,
		QueueLength: n,
		Queue:       make([]types.QueuePosition, 0, n),
	}
	for i := 1; i <= n; i++ {
		status.Queue = append(status.Queue, types.QueuePosition{
			Position:          i,
			EstimatedWaitTime: r.Estimate(i),
		})
	}
	return status
}

func (r *Router) queuedDecision(entry *types.QueueEntry) Decision {
	pos, _ := r.queues.PositionOf(entry.CompanyID, entry.RequestID)
	return Decision{
		Outcome:  OutcomeQueued,
		Entry:    entry,
		Position: pos,
		Estimate: r.Estimate(pos),
	}
}

// pick returns the agent to invite for entry, trying the fallback pool when
// the company has nobody. The guard on the fallback id stops recursion.
func (r *Router) pick(entry *types.QueueEntry) (types.AgentPresence, bool, bool) {
	if agent := r.strategy.SelectAgent(r.candidates(entry.CompanyID, entry)); agent != nil {
		return *agent, false, true
	}
	if !entry.NoFallback && r.fallbackApplies(entry.CompanyID) {
		if agent := r.strategy.SelectAgent(r.candidates(r.cfg.FallbackCompanyID, entry)); agent != nil {
			return *agent, true, true
		}
	}
	return types.AgentPresence{}, false, false
}

func (r *Router) candidates(companyID string, entry *types.QueueEntry) []types.AgentPresence {
	all := r.presence.ListAvailable(companyID)
	if len(entry.Excluded) == 0 {
		return all
	}
	now := r.now()
	out := all[:0]
	for _, p := range all {
		if !entry.IsExcluded(p.Key(), now) {
			out = append(out, p)
		}
	}
	return out
}

func (r *Router) hasCapacity(companyID string) bool {
	if len(r.presence.ListAvailable(companyID)) > 0 {
		return true
	}
	return r.fallbackApplies(companyID) && len(r.presence.ListAvailable(r.cfg.FallbackCompanyID)) > 0
}

func (r *Router) fallbackApplies(companyID string) bool {
	return r.cfg.FallbackCompanyID != "" && companyID != r.cfg.FallbackCompanyID
}

func (r *Router) assign(entry *types.QueueEntry, agent types.AgentPresence, fallback bool) Decision {
	load, _ := r.presence.IncrementLoad(agent.CompanyID, agent.AgentHandle)
	agent.CurrentLoad = load
	r.queues.RecordRouted(entry.CompanyID, r.now().Sub(entry.RequestedAt))

	r.logger.Info().
		Str("company_id", entry.CompanyID).
		Str("request_id", entry.RequestID).
		Str("agent_company_id", agent.CompanyID).
		Str("agent_handle", agent.AgentHandle).
		Bool("fallback", fallback).
		Int("load", load).
		Msg("request routed")

	return Decision{
		Outcome:  OutcomeRouted,
		Entry:    entry,
		Agent:    agent,
		Fallback: fallback,
	}
}
