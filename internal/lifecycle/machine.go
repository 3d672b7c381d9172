// Package lifecycle owns the instance state machine: which
// (status, role) transitions are legal. It is pure; durable enforcement
// lives in the store's version-checked transition functions.
package lifecycle

import (
	"fmt"

	"github.com/spotguard/spotguard/pkg/types"
)

// State is one node of the instance state machine
type State struct {
	Status types.InstanceStatus
	Role   types.InstanceRole
}

func (s State) String() string {
	return fmt.Sprintf("%s/%s", s.Status, s.Role)
}

// transitions maps each state to the set of states reachable from it.
// A demoted former primary becomes ZOMBIE/ZOMBIE and can only move toward
// termination; there is deliberately no edge back to PRIMARY.
var transitions = map[State][]State{
	{types.InstanceStatusLaunching, types.RolePrimary}: {
		{types.InstanceStatusRunning, types.RolePrimary},
		{types.InstanceStatusTerminating, types.RolePrimary},
	},
	{types.InstanceStatusLaunching, types.RoleReplica}: {
		{types.InstanceStatusRunning, types.RoleReplica},
		{types.InstanceStatusTerminating, types.RoleReplica},
	},
	{types.InstanceStatusRunning, types.RolePrimary}: {
		{types.InstanceStatusZombie, types.RoleZombie},
		{types.InstanceStatusTerminating, types.RolePrimary},
	},
	{types.InstanceStatusRunning, types.RoleReplica}: {
		{types.InstanceStatusPromoting, types.RoleReplica},
		// Single-step promotion used by the emergency path, where the
		// promote and the primary demotion commit in one transaction.
		{types.InstanceStatusRunning, types.RolePrimary},
		{types.InstanceStatusZombie, types.RoleZombie},
		{types.InstanceStatusTerminating, types.RoleReplica},
	},
	{types.InstanceStatusPromoting, types.RoleReplica}: {
		{types.InstanceStatusRunning, types.RolePrimary},
		{types.InstanceStatusZombie, types.RoleZombie},
	},
	{types.InstanceStatusZombie, types.RoleZombie}: {
		{types.InstanceStatusTerminating, types.RoleZombie},
	},
	{types.InstanceStatusTerminating, types.RolePrimary}: {
		{types.InstanceStatusTerminated, types.RolePrimary},
	},
	{types.InstanceStatusTerminating, types.RoleReplica}: {
		{types.InstanceStatusTerminated, types.RoleReplica},
	},
	{types.InstanceStatusTerminating, types.RoleZombie}: {
		{types.InstanceStatusTerminated, types.RoleZombie},
	},
}

// CanTransition reports whether the edge from -> to is legal
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Validate returns a descriptive error when the edge from -> to is illegal
func Validate(from, to State) error {
	if from.Status.Terminal() {
		return fmt.Errorf("instance is terminal in state %s", from)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("transition %s -> %s is not permitted", from, to)
	}
	return nil
}
