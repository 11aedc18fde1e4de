package callqueue

import (
	"github.com/dennisdiepolder/monti/callrouter/internal/types"
)

// RoutingStrategy selects the agent to invite from an ordered candidate list
type RoutingStrategy interface {
	SelectAgent(candidates []types.AgentPresence) *types.AgentPresence
}

// LeastLoadedFirst takes the head of the presence ordering: lowest load,
// then least recently active.
type LeastLoadedFirst struct{}

// SelectAgent returns the first candidate
func (LeastLoadedFirst) SelectAgent(candidates []types.AgentPresence) *types.AgentPresence {
	if len(candidates) == 0 {
		return nil
	}
	return &candidates[0]
}

// Estimate returns the heuristic wait in seconds for a queue position
func Estimate(position, unitSeconds int) int {
	if position <= 0 {
		return 0
	}
	return position * unitSeconds
}
