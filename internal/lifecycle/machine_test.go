package lifecycle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/spotguard/spotguard/internal/lifecycle"
	"github.com/spotguard/spotguard/pkg/types"
)

func state(status types.InstanceStatus, role types.InstanceRole) lifecycle.State {
	return lifecycle.State{Status: status, Role: role}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from lifecycle.State
		to   lifecycle.State
		ok   bool
	}{
		{
			name: "launch confirms to running primary",
			from: state(types.InstanceStatusLaunching, types.RolePrimary),
			to:   state(types.InstanceStatusRunning, types.RolePrimary),
			ok:   true,
		},
		{
			name: "replica enters promoting",
			from: state(types.InstanceStatusRunning, types.RoleReplica),
			to:   state(types.InstanceStatusPromoting, types.RoleReplica),
			ok:   true,
		},
		{
			name: "promoting completes as primary",
			from: state(types.InstanceStatusPromoting, types.RoleReplica),
			to:   state(types.InstanceStatusRunning, types.RolePrimary),
			ok:   true,
		},
		{
			name: "single step emergency promote",
			from: state(types.InstanceStatusRunning, types.RoleReplica),
			to:   state(types.InstanceStatusRunning, types.RolePrimary),
			ok:   true,
		},
		{
			name: "primary demotes to zombie",
			from: state(types.InstanceStatusRunning, types.RolePrimary),
			to:   state(types.InstanceStatusZombie, types.RoleZombie),
			ok:   true,
		},
		{
			name: "zombie moves to terminating",
			from: state(types.InstanceStatusZombie, types.RoleZombie),
			to:   state(types.InstanceStatusTerminating, types.RoleZombie),
			ok:   true,
		},
		{
			name: "zombie never reacquires primary",
			from: state(types.InstanceStatusZombie, types.RoleZombie),
			to:   state(types.InstanceStatusRunning, types.RolePrimary),
			ok:   false,
		},
		{
			name: "zombie never promotes",
			from: state(types.InstanceStatusZombie, types.RoleZombie),
			to:   state(types.InstanceStatusPromoting, types.RoleZombie),
			ok:   false,
		},
		{
			name: "terminated is terminal",
			from: state(types.InstanceStatusTerminated, types.RoleZombie),
			to:   state(types.InstanceStatusRunning, types.RolePrimary),
			ok:   false,
		},
		{
			name: "no promoting a terminated instance",
			from: state(types.InstanceStatusTerminated, types.RoleReplica),
			to:   state(types.InstanceStatusPromoting, types.RoleReplica),
			ok:   false,
		},
		{
			name: "primary cannot skip demotion to terminated",
			from: state(types.InstanceStatusRunning, types.RolePrimary),
			to:   state(types.InstanceStatusTerminated, types.RolePrimary),
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, lifecycle.CanTransition(tt.from, tt.to))
		})
	}
}

func TestValidate(t *testing.T) {
	t.Run("legal edge passes", func(t *testing.T) {
		err := lifecycle.Validate(
			state(types.InstanceStatusRunning, types.RoleReplica),
			state(types.InstanceStatusPromoting, types.RoleReplica),
		)
		assert.NoError(t, err)
	})

	t.Run("terminal state names itself in the error", func(t *testing.T) {
		err := lifecycle.Validate(
			state(types.InstanceStatusTerminated, types.RolePrimary),
			state(types.InstanceStatusRunning, types.RolePrimary),
		)
		assert.ErrorContains(t, err, "terminal")
	})

	t.Run("illegal edge names both states", func(t *testing.T) {
		err := lifecycle.Validate(
			state(types.InstanceStatusZombie, types.RoleZombie),
			state(types.InstanceStatusRunning, types.RolePrimary),
		)
		assert.ErrorContains(t, err, "not permitted")
	})
}

// Every reachable state must eventually reach TERMINATED so the reaper can
// drain the fleet; walk the graph from each launch state.
func TestAllPathsReachTerminated(t *testing.T) {
	starts := []lifecycle.State{
		state(types.InstanceStatusLaunching, types.RolePrimary),
		state(types.InstanceStatusLaunching, types.RoleReplica),
	}

	var reaches func(from lifecycle.State, seen map[lifecycle.State]bool) bool
	reaches = func(from lifecycle.State, seen map[lifecycle.State]bool) bool {
		if from.Status == types.InstanceStatusTerminated {
			return true
		}
		if seen[from] {
			return false
		}
		seen[from] = true

		for _, next := range allNextStates(from) {
			if reaches(next, seen) {
				return true
			}
		}
		return false
	}

	for _, s := range starts {
		assert.True(t, reaches(s, map[lifecycle.State]bool{}), "no path to TERMINATED from %s", s)
	}
}

func allNextStates(from lifecycle.State) []lifecycle.State {
	statuses := []types.InstanceStatus{
		types.InstanceStatusLaunching,
		types.InstanceStatusRunning,
		types.InstanceStatusPromoting,
		types.InstanceStatusZombie,
		types.InstanceStatusTerminating,
		types.InstanceStatusTerminated,
	}
	roles := []types.InstanceRole{types.RolePrimary, types.RoleReplica, types.RoleZombie}

	var next []lifecycle.State
	for _, st := range statuses {
		for _, r := range roles {
			to := lifecycle.State{Status: st, Role: r}
			if lifecycle.CanTransition(from, to) {
				next = append(next, to)
			}
		}
	}
	return next
}
