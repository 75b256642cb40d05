package database

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// Store is the Postgres implementation of the forecast engine's history
// accessor and prediction writer.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the underlying handle for handlers that run ad-hoc queries.
func (s *Store) DB() *sqlx.DB {
	return s.db
}
