package orchestrator

import (
	"context"

	"github.com/spotguard/spotguard/internal/store"
	"github.com/spotguard/spotguard/pkg/types"
)

// StorePromoter performs promotion against the database through the
// store's single three-row promotion transaction.
type StorePromoter struct {
	store *store.Store
}

// NewStorePromoter wraps the store
func NewStorePromoter(st *store.Store) *StorePromoter {
	return &StorePromoter{store: st}
}

// Promote swaps the replica in for the primary
func (p *StorePromoter) Promote(ctx context.Context, replica *types.Replica, replicaInstance, primary *types.Instance) error {
	_, err := p.store.PromoteReplica(ctx, replica, replicaInstance, primary)
	return err
}
