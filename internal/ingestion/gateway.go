package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dennisdiepolder/monti/callrouter/internal/metrics"
	"github.com/dennisdiepolder/monti/callrouter/internal/types"
	"github.com/rs/zerolog"
)

// GatewayConfig controls directory resolution
type GatewayConfig struct {
	// RequireKnownCompany rejects requests for companies the directory does not know
	RequireKnownCompany bool
	LookupTimeout       time.Duration
}

// Gateway sits between the transports and the engine. It decodes frames,
// resolves directory data and only then hands events to the sink, so the
// engine never waits on I/O.
type Gateway struct {
	sink   EventSink
	dir    Directory
	cfg    GatewayConfig
	logger zerolog.Logger
}

// NewGateway creates a gateway. dir may be nil, in which case directory
// lookups are skipped.
func NewGateway(sink EventSink, dir Directory, cfg GatewayConfig, logger zerolog.Logger) *Gateway {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 2 * time.Second
	}
	return &Gateway{
		sink:   sink,
		dir:    dir,
		cfg:    cfg,
		logger: logger.With().Str("component", "gateway").Logger(),
	}
}

// Opened registers a new connection with the engine
func (g *Gateway) Opened(ctx context.Context, connID string, role types.Role, companyID, identity string) error {
	return g.sink.ConnectionOpened(ctx, connID, role, companyID, identity)
}

// Closed reports a transport close
func (g *Gateway) Closed(ctx context.Context, connID string) error {
	return g.sink.ConnectionClosed(ctx, connID)
}

// HandleFrame decodes, resolves and submits one inbound frame. A returned
// *types.ValidationError means the frame was dropped.
func (g *Gateway) HandleFrame(ctx context.Context, connID string, raw []byte) error {
	ev, err := Decode(raw)
	if err != nil {
		var verr *types.ValidationError
		if errors.As(err, &verr) {
			metrics.Get().RecordValidationError(string(verr.Event))
		}
		return err
	}

	switch e := ev.(type) {
	case types.RegisterAgent:
		e.MaxLoad = g.agentMaxLoad(ctx, e.CompanyID, e.AgentHandle)
		ev = e
	case types.CallRequest:
		noFallback, err := g.resolveCompany(ctx, e.CompanyID)
		if err != nil {
			return err
		}
		e.NoFallback = noFallback
		ev = e
	}
	return g.sink.HandleInbound(ctx, connID, ev)
}

// RouteCall serves the synchronous route-call surface
func (g *Gateway) RouteCall(ctx context.Context, req types.RouteRequest) (types.RouteResult, error) {
	if err := validateRequest(req.CompanyID, req.Kind); err != nil {
		return types.RouteResult{}, err
	}
	if req.ConnectionID == "" {
		return types.RouteResult{}, missing(types.EventCallRequest, "connectionId")
	}
	noFallback, err := g.resolveCompany(ctx, req.CompanyID)
	if err != nil {
		return types.RouteResult{}, err
	}
	return g.sink.RouteCall(ctx, req.ConnectionID, types.CallRequest{
		CompanyID:  req.CompanyID,
		Kind:       req.Kind,
		VisitorID:  req.VisitorID,
		NoFallback: noFallback,
	})
}

// QueueStatus serves the widget queue-status read
func (g *Gateway) QueueStatus(ctx context.Context, companyID string) (types.QueueStatus, error) {
	return g.sink.QueueStatus(ctx, companyID)
}

// agentMaxLoad returns the directory maxLoad, or 0 to let the engine apply
// its default
func (g *Gateway) agentMaxLoad(ctx context.Context, companyID, handle string) int {
	if g.dir == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.LookupTimeout)
	defer cancel()

	rec, err := g.dir.LookupAgent(ctx, companyID, handle)
	if err != nil {
		if !errors.Is(err, types.ErrNotFound) {
			g.logger.Warn().Err(err).Str("company_id", companyID).Str("agent_handle", handle).Msg("agent lookup failed, using default max load")
		}
		return 0
	}
	return rec.MaxLoad
}

// resolveCompany reports whether the company is excluded from the fallback pool
func (g *Gateway) resolveCompany(ctx context.Context, companyID string) (noFallback bool, err error) {
	if g.dir == nil {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.LookupTimeout)
	defer cancel()

	rec, err := g.dir.LookupCompany(ctx, companyID)
	switch {
	case err == nil:
		return !rec.FallbackEligible, nil
	case errors.Is(err, types.ErrNotFound):
		if g.cfg.RequireKnownCompany {
			return false, fmt.Errorf("company %s: %w", companyID, types.ErrNotFound)
		}
		return false, nil
	default:
		g.logger.Warn().Err(err).Str("company_id", companyID).Msg("company lookup failed")
		return false, nil
	}
}
