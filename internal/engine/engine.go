package engine

import (
	"context"
	"errors"
	"time"

	"github.com/dennisdiepolder/monti/callrouter/internal/cache"
	"github.com/dennisdiepolder/monti/callrouter/internal/callqueue"
	"github.com/dennisdiepolder/monti/callrouter/internal/session"
	"github.com/dennisdiepolder/monti/callrouter/internal/types"
	"github.com/rs/zerolog"
)

// ErrStopped is returned when the engine is no longer running
var ErrStopped = errors.New("engine stopped")

// Requests routed within serviceLevelSeconds count towards the service level
const (
	serviceLevelTarget  = 80
	serviceLevelSeconds = 20
)

// Sender delivers frames to live connections
type Sender interface {
	session.Sender
	Disconnect(connID string) bool
}

// Recorder persists ended sessions
type Recorder interface {
	SaveSessionRecord(ctx context.Context, record types.SessionRecord) error
}

// Config holds engine timing and routing policy
type Config struct {
	FallbackCompanyID string
	QueueUnitSeconds  int
	QueueUpdateBatch  int
	QueueMaxWait      time.Duration
	RingTimeout       time.Duration
	DeclineCooldown   time.Duration
	DefaultMaxLoad    int
	ICEServers        []types.ICEServer
	CommandBuffer     int
	RecordTimeout     time.Duration
}

// Engine is the single worker that owns all routing and session state.
// Every operation is a closure run to completion on the Run goroutine, so
// the registry, presence store, queues and session table need no locks.
type Engine struct {
	cmds chan func()
	done chan struct{}

	registry *cache.Registry
	presence *cache.PresenceStore
	router   *callqueue.Router
	sync     *session.Synchronizer
	relay    *session.Relay
	sender   Sender
	recorder Recorder

	cfg    Config
	now    func() time.Time
	cursor updateCursor
	logger zerolog.Logger
}

// New creates an engine. Run must be started before any other call returns.
func New(cfg Config, sender Sender, recorder Recorder, logger zerolog.Logger) *Engine {
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = 1024
	}
	if cfg.DefaultMaxLoad <= 0 {
		cfg.DefaultMaxLoad = 1
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = 5 * time.Second
	}

	presence := cache.NewPresenceStore()
	router := callqueue.NewRouter(presence, callqueue.NewQueues(serviceLevelTarget, serviceLevelSeconds), callqueue.LeastLoadedFirst{}, callqueue.RouterConfig{
		FallbackCompanyID: cfg.FallbackCompanyID,
		UnitSeconds:       cfg.QueueUnitSeconds,
		Cooldown:          cfg.DeclineCooldown,
	}, logger)
	synchronizer := session.NewSynchronizer(session.NewTable(), sender, cfg.ICEServers, logger)

	return &Engine{
		cmds:     make(chan func(), cfg.CommandBuffer),
		done:     make(chan struct{}),
		registry: cache.NewRegistry(),
		presence: presence,
		router:   router,
		sync:     synchronizer,
		relay:    session.NewRelay(synchronizer, sender, logger),
		sender:   sender,
		recorder: recorder,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With().Str("component", "engine").Logger(),
	}
}

// SetClock overrides the time source of the engine and its components.
// Call before Run.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.presence.SetClock(now)
	e.router.SetClock(now)
	e.sync.SetClock(now)
}

// Run processes commands until ctx is cancelled
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info().Msg("engine started")
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("engine stopped")
			return
		case cmd := <-e.cmds:
			cmd()
		}
	}
}

// submit queues fn for the worker without waiting for it to run
func (e *Engine) submit(ctx context.Context, fn func()) error {
	select {
	case e.cmds <- fn:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs fn on the worker and waits for its result
func call[T any](ctx context.Context, e *Engine, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	var zero T
	err := e.submit(ctx, func() {
		v, err := fn()
		ch <- result{v, err}
	})
	if err != nil {
		return zero, err
	}
	select {
	case r := <-ch:
		return r.v, r.err
	case <-e.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// ConnectionOpened registers a new transport connection. Agent connections
// authenticated upstream carry their company and handle as identity.
func (e *Engine) ConnectionOpened(ctx context.Context, connID string, role types.Role, companyID, identity string) error {
	_, err := call(ctx, e, func() (struct{}, error) {
		e.registry.Register(connID, role, companyID, identity)
		e.logger.Debug().
			Str("connection_id", connID).
			Str("role", string(role)).
			Str("company_id", companyID).
			Msg("connection registered")
		return struct{}{}, nil
	})
	return err
}

// HandleInbound processes a decoded event from connID asynchronously
func (e *Engine) HandleInbound(ctx context.Context, connID string, ev types.Inbound) error {
	return e.submit(ctx, func() { e.dispatch(connID, ev) })
}

// ConnectionClosed tears down everything bound to connID
func (e *Engine) ConnectionClosed(ctx context.Context, connID string) error {
	return e.submit(ctx, func() { e.connectionClosed(connID) })
}

// RouteCall routes a request for the visitor connection connID and returns
// its single terminal outcome.
func (e *Engine) RouteCall(ctx context.Context, connID string, req types.CallRequest) (types.RouteResult, error) {
	return call(ctx, e, func() (types.RouteResult, error) {
		return e.routeCall(connID, req, false)
	})
}

// QueueStatus returns the widget queue-status read for a company
func (e *Engine) QueueStatus(ctx context.Context, companyID string) (types.QueueStatus, error) {
	return call(ctx, e, func() (types.QueueStatus, error) {
		return e.router.QueueStatus(companyID), nil
	})
}

// Tick runs the periodic work: ring timeouts, queue staleness, draining and
// queue-update pushes. It waits for the tick to finish.
func (e *Engine) Tick(ctx context.Context) error {
	_, err := call(ctx, e, func() (struct{}, error) {
		e.tick()
		return struct{}{}, nil
	})
	return err
}

// ForceEnd ends a session on behalf of an operator
func (e *Engine) ForceEnd(ctx context.Context, sessionID string) error {
	_, err := call(ctx, e, func() (struct{}, error) {
		if _, ok := e.sync.Table().Get(sessionID); !ok {
			return struct{}{}, types.ErrNotFound
		}
		e.endSession(sessionID, types.ReasonForceEnded)
		return struct{}{}, nil
	})
	return err
}

// ForceLogout disconnects the agent's presence connection. The close is
// handled like any other transport loss.
func (e *Engine) ForceLogout(ctx context.Context, companyID, agentHandle string) error {
	connID, err := call(ctx, e, func() (string, error) {
		p, ok := e.presence.Get(companyID, agentHandle)
		if !ok || p.ConnectionID == "" {
			return "", types.ErrNotFound
		}
		return p.ConnectionID, nil
	})
	if err != nil {
		return err
	}
	e.sender.Disconnect(connID)
	return nil
}

// Sessions returns copies of all live sessions
func (e *Engine) Sessions(ctx context.Context) ([]types.CallSession, error) {
	return call(ctx, e, func() ([]types.CallSession, error) {
		return e.sync.Table().All(), nil
	})
}

// Presence returns the presence records of a company
func (e *Engine) Presence(ctx context.Context, companyID string) ([]types.AgentPresence, error) {
	return call(ctx, e, func() ([]types.AgentPresence, error) {
		return e.presence.GetByCompany(companyID), nil
	})
}

// QueueSnapshot returns the operator view of a company queue
func (e *Engine) QueueSnapshot(ctx context.Context, companyID string) (callqueue.QueueSnapshot, error) {
	return call(ctx, e, func() (callqueue.QueueSnapshot, error) {
		return e.router.Queues().Snapshot(companyID, e.now()), nil
	})
}

// Stats summarises engine state for health and operator views
type Stats struct {
	Connections   int `json:"connections"`
	Sessions      int `json:"sessions"`
	Queued        int `json:"queued"`
	AgentsOnline  int `json:"agentsOnline"`
	AgentsBusy    int `json:"agentsBusy"`
	AgentsOffline int `json:"agentsOffline"`
}

// Stats returns counters over the current state
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	return call(ctx, e, func() (Stats, error) {
		online, busy, offline := e.presence.GetConnectionStats()
		return Stats{
			Connections:   e.registry.Count(),
			Sessions:      e.sync.Table().Len(),
			Queued:        e.router.Queues().Total(),
			AgentsOnline:  online,
			AgentsBusy:    busy,
			AgentsOffline: offline,
		}, nil
	})
}
