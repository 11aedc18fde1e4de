package types

import "time"

// Role identifies which side of an interaction a connection belongs to
type Role string

const (
	RoleVisitor Role = "visitor"
	RoleAgent   Role = "agent"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleVisitor || r == RoleAgent
}

// Availability is the agent-controlled presence status
type Availability string

const (
	AvailabilityOnline  Availability = "online"
	AvailabilityOffline Availability = "offline"
	AvailabilityBusy    Availability = "busy"
)

// Valid reports whether a is a known availability
func (a Availability) Valid() bool {
	switch a {
	case AvailabilityOnline, AvailabilityOffline, AvailabilityBusy:
		return true
	}
	return false
}

// RequestKind is the interaction a visitor asks for
type RequestKind string

const (
	KindCall RequestKind = "call"
	KindChat RequestKind = "chat"
)

// Valid reports whether k is a known request kind
func (k RequestKind) Valid() bool {
	return k == KindCall || k == KindChat
}

// AgentPresence is the live presence record of one agent within a company.
// ConnectionID is empty while the agent is offline; the record itself is
// kept so load and activity survive reconnects.
type AgentPresence struct {
	CompanyID    string       `json:"companyId"`
	AgentHandle  string       `json:"agentHandle"`
	ConnectionID string       `json:"connectionId,omitempty"`
	Availability Availability `json:"availability"`
	CurrentLoad  int          `json:"currentLoad"`
	MaxLoad      int          `json:"maxLoad"`
	LastActivity time.Time    `json:"lastActivity"`
}

// Key returns the company-scoped identity of the agent
func (p AgentPresence) Key() AgentKey {
	return AgentKey{CompanyID: p.CompanyID, AgentHandle: p.AgentHandle}
}

// AgentKey identifies an agent across companies
type AgentKey struct {
	CompanyID   string
	AgentHandle string
}

func (k AgentKey) String() string {
	return k.CompanyID + "/" + k.AgentHandle
}

// AgentRecord is what the agent directory knows about an agent
type AgentRecord struct {
	CompanyID   string   `json:"companyId" dynamodbav:"CompanyID"`
	AgentHandle string   `json:"agentHandle" dynamodbav:"AgentHandle"`
	DisplayName string   `json:"displayName,omitempty" dynamodbav:"DisplayName"`
	Skills      []string `json:"skills,omitempty" dynamodbav:"Skills"`
	MaxLoad     int      `json:"maxLoad" dynamodbav:"MaxLoad"`
}

// CompanyRecord is what the company directory knows about a tenant
type CompanyRecord struct {
	CompanyID        string `json:"companyId" dynamodbav:"CompanyID"`
	Name             string `json:"name,omitempty" dynamodbav:"Name"`
	FallbackEligible bool   `json:"fallbackEligible" dynamodbav:"FallbackEligible"`
}
