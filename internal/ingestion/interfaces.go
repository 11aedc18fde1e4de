package ingestion

import (
	"context"

	"github.com/dennisdiepolder/monti/callrouter/internal/types"
)

// EventSink consumes validated events and connection lifecycle signals.
// The engine implements it.
type EventSink interface {
	ConnectionOpened(ctx context.Context, connID string, role types.Role, companyID, identity string) error
	HandleInbound(ctx context.Context, connID string, ev types.Inbound) error
	ConnectionClosed(ctx context.Context, connID string) error
	RouteCall(ctx context.Context, connID string, req types.CallRequest) (types.RouteResult, error)
	QueueStatus(ctx context.Context, companyID string) (types.QueueStatus, error)
}

// Directory is the external agent and company record collaborator
type Directory interface {
	LookupAgent(ctx context.Context, companyID, agentHandle string) (types.AgentRecord, error)
	LookupCompany(ctx context.Context, companyID string) (types.CompanyRecord, error)
}
