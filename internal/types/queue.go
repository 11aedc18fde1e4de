package types

import "time"

// QueueEntry is a pending request waiting for an agent. Its position is
// never stored; it is the entry's index in the company queue.
type QueueEntry struct {
	CompanyID           string      `json:"companyId"`
	RequestID           string      `json:"requestId"`
	SessionID           string      `json:"sessionId"`
	VisitorID           string      `json:"visitorId"`
	VisitorConnectionID string      `json:"-"`
	RequestedAt         time.Time   `json:"requestedAt"`
	Kind                RequestKind `json:"kind"`

	// NoFallback is set for companies the directory marks as not eligible
	// for the platform agent pool.
	NoFallback bool `json:"-"`

	// Excluded holds agents that declined or let this request ring out,
	// mapped to the end of their exclusion window.
	Excluded map[AgentKey]time.Time `json:"-"`
}

// Exclude keeps agent from being offered this request until until
func (e *QueueEntry) Exclude(agent AgentKey, until time.Time) {
	if e.Excluded == nil {
		e.Excluded = make(map[AgentKey]time.Time)
	}
	e.Excluded[agent] = until
}

// IsExcluded reports whether agent is still within its exclusion window at now
func (e *QueueEntry) IsExcluded(agent AgentKey, now time.Time) bool {
	until, ok := e.Excluded[agent]
	return ok && now.Before(until)
}

// QueuePosition is one row of the queue-status read
type QueuePosition struct {
	Position          int `json:"position"`
	EstimatedWaitTime int `json:"estimatedWaitTime"` // seconds
}

// QueueStatus is the queue-status read returned to the widget
type QueueStatus struct {
	CompanyID   string          `json:"companyId"`
	QueueLength int             `json:"queueLength"`
	Queue       []QueuePosition `json:"queue"`
}

// RouteRequest is the synchronous route-call input
type RouteRequest struct {
	CompanyID    string      `json:"companyId"`
	Kind         RequestKind `json:"kind"`
	VisitorID    string      `json:"visitorId"`
	ConnectionID string      `json:"connectionId"`
}

// RouteResult is the single terminal outcome of a routing attempt
type RouteResult struct {
	Success     bool   `json:"success"`
	Queued      bool   `json:"queued,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	AgentHandle string `json:"agentHandle,omitempty"`
	Position    int    `json:"position,omitempty"`
	Estimate    int    `json:"estimate,omitempty"` // seconds
	Reason      string `json:"reason,omitempty"`
}
