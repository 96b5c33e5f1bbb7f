package store

import "database/sql"

// Store provides access to the PostgreSQL database: tenants, persisted
// filter configurations, and trust-profile snapshots.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying pool for components that run their own
// queries, such as the API-key authenticator.
func (s *Store) DB() *sql.DB {
	return s.db
}
