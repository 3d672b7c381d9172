package pool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Registry provides fast in-memory access to the pool catalog
type Registry struct {
	mu     sync.RWMutex
	pools  map[string]*Pool // keyed by pool name
	loader *Loader
}

// NewRegistry creates a new pool registry and loads the catalog
func NewRegistry(loader *Loader) (*Registry, error) {
	r := &Registry{
		pools:  make(map[string]*Pool),
		loader: loader,
	}

	if err := r.Reload(); err != nil {
		return nil, fmt.Errorf("initial catalog load: %w", err)
	}

	return r, nil
}

// Get retrieves a pool by name
func (r *Registry) Get(name string) (*Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pool, exists := r.pools[name]
	if !exists {
		return nil, fmt.Errorf("pool not found: %s", name)
	}

	if !pool.Enabled {
		return nil, fmt.Errorf("pool disabled: %s", name)
	}

	return pool, nil
}

// List returns all enabled pools
func (r *Registry) List() []*Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pools := make([]*Pool, 0, len(r.pools))
	for _, pool := range r.pools {
		if pool.Enabled {
			pools = append(pools, pool)
		}
	}

	sort.Slice(pools, func(i, j int) bool { return pools[i].Name < pools[j].Name })
	return pools
}

// ListAll returns all pools including disabled ones
func (r *Registry) ListAll() []*Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pools := make([]*Pool, 0, len(r.pools))
	for _, pool := range r.pools {
		pools = append(pools, pool)
	}

	sort.Slice(pools, func(i, j int) bool { return pools[i].Name < pools[j].Name })
	return pools
}

// Exists checks if a pool exists and is enabled
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pool, exists := r.pools[name]
	return exists && pool.Enabled
}

// Safest returns the enabled pool with the lowest fallback rank. Ties
// break on lower interruption risk, then name for determinism.
func (r *Registry) Safest() (*Pool, error) {
	pools := r.List()
	if len(pools) == 0 {
		return nil, fmt.Errorf("no enabled pools in catalog")
	}

	sort.Slice(pools, func(i, j int) bool {
		if pools[i].Risk.FallbackRank != pools[j].Risk.FallbackRank {
			return pools[i].Risk.FallbackRank < pools[j].Risk.FallbackRank
		}
		if pools[i].Risk.InterruptionRisk != pools[j].Risk.InterruptionRisk {
			return pools[i].Risk.InterruptionRisk < pools[j].Risk.InterruptionRisk
		}
		return pools[i].Name < pools[j].Name
	})

	return pools[0], nil
}

// StablePrice returns the on-demand hourly rate for a pool
func (r *Registry) StablePrice(name string) (decimal.Decimal, error) {
	pool, err := r.Get(name)
	if err != nil {
		return decimal.Zero, err
	}
	return pool.StablePrice()
}

// Reload reloads the catalog from disk
func (r *Registry) Reload() error {
	pools, err := r.loader.LoadAll()
	if err != nil {
		return fmt.Errorf("load pools: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.pools = make(map[string]*Pool)
	for _, pool := range pools {
		r.pools[pool.Name] = pool
	}

	return nil
}
