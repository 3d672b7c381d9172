package store

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Store provides database operations
type Store struct {
	pool *pgxpool.Pool

	Agents      *AgentStore
	Instances   *InstanceStore
	Replicas    *ReplicaStore
	Samples     *SampleStore
	PricePoints *PricePointStore
	Commands    *CommandStore
	Jobs        *ConsolidationJobStore
	Audit       *AuditStore
}

// New creates a new Store with all sub-stores initialized
func New(pool *pgxpool.Pool) *Store {
	s := &Store{
		pool: pool,
	}

	s.Agents = &AgentStore{pool: pool}
	s.Instances = &InstanceStore{pool: pool}
	s.Replicas = &ReplicaStore{pool: pool}
	s.Samples = &SampleStore{pool: pool}
	s.PricePoints = &PricePointStore{pool: pool}
	s.Commands = &CommandStore{pool: pool}
	s.Jobs = &ConsolidationJobStore{pool: pool}
	s.Audit = &AuditStore{pool: pool}

	return s
}

// BeginTx starts a new transaction
func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

// WithTx executes a function within a transaction
// If the function returns an error, the transaction is rolled back
// Otherwise, the transaction is committed
func (s *Store) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	err = fn(tx)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Close closes the database connection pool
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the database connection is alive
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Stats returns database pool statistics
func (s *Store) Stats() *pgxpool.Stat {
	return s.pool.Stat()
}

// NewStore creates a new Store from a database URL
func NewStore(databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, err
	}
	return New(pool), nil
}

// Migrate applies the embedded schema. Every statement is idempotent, so
// this is safe to run on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
