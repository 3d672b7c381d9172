// Package cloud abstracts the capacity provider. The orchestrator only
// needs three verbs: launch an instance into a pool, terminate one, and
// describe one. Everything pool-specific (instance type, zone, image)
// comes from the pool catalog entry, so callers deal in pool names.
package cloud

import (
	"context"

	"github.com/spotguard/spotguard/internal/pool"
)

// LaunchRequest asks for one instance in a specific pool
type LaunchRequest struct {
	Pool    *pool.Pool
	AgentID string
	// Emergency launches use stable capacity, which cannot be preempted
	// while a replacement is still warming up
	StableCapacity bool
}

// LaunchResult reports the provider-side identity of a new instance
type LaunchResult struct {
	ProviderID string
	Zone       string
}

// InstanceInfo is the provider's view of a running instance
type InstanceInfo struct {
	ProviderID string
	State      string
	Zone       string
}

// Provider launches and terminates instances
type Provider interface {
	Launch(ctx context.Context, req LaunchRequest) (*LaunchResult, error)
	Terminate(ctx context.Context, providerID string) error
	Describe(ctx context.Context, providerID string) (*InstanceInfo, error)
}
