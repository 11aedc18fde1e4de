package cache

import (
	"time"

	"github.com/dennisdiepolder/monti/callrouter/internal/types"
)

// Registration binds a live connection to a role and identity
type Registration struct {
	ConnectionID string
	Role         types.Role
	CompanyID    string
	Identity     string // agent handle or visitor id
	RegisteredAt time.Time
}

// Registry maps live connections to identities.
// It is not safe for concurrent use; the engine goroutine owns it.
type Registry struct {
	conns map[string]*Registration
	now   func() time.Time
}

// NewRegistry creates an empty connection registry
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Registration),
		now:   time.Now,
	}
}

// Register associates connID with a role and identity, replacing any prior binding
func (r *Registry) Register(connID string, role types.Role, companyID, identity string) Registration {
	reg := &Registration{
		ConnectionID: connID,
		Role:         role,
		CompanyID:    companyID,
		Identity:     identity,
		RegisteredAt: r.now(),
	}
	r.conns[connID] = reg
	return *reg
}

// Resolve returns the registration of connID
func (r *Registry) Resolve(connID string) (Registration, bool) {
	reg, ok := r.conns[connID]
	if !ok {
		return Registration{}, false
	}
	return *reg, true
}

// Unregister removes connID. Unknown ids are ignored.
func (r *Registry) Unregister(connID string) (Registration, bool) {
	reg, ok := r.conns[connID]
	if !ok {
		return Registration{}, false
	}
	delete(r.conns, connID)
	return *reg, true
}

// Count returns the number of registered connections
func (r *Registry) Count() int {
	return len(r.conns)
}
