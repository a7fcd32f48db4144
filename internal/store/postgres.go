package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nhle/mailwatch/internal/model"
)

// PostgresStore implements DedupStore on a Postgres table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to connString, verifies the connection and
// creates the processed table if needed.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating processed table: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// IsProcessed reports whether id has been recorded.
func (s *PostgresStore) IsProcessed(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM processed WHERE id = $1)", id,
	).Scan(&exists)
	if err != nil {
		return false, &PersistenceError{Op: "checking processed", ID: id, Err: err}
	}
	return exists, nil
}

// MarkProcessed records id; conflicts on the primary key are ignored.
func (s *PostgresStore) MarkProcessed(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO processed (id) VALUES ($1) ON CONFLICT (id) DO NOTHING", id,
	)
	if err != nil {
		return &PersistenceError{Op: "marking processed", ID: id, Err: err}
	}
	return nil
}

// Get retrieves the record for id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*model.ProcessedRecord, error) {
	var rec model.ProcessedRecord
	err := s.pool.QueryRow(ctx,
		"SELECT id, ts FROM processed WHERE id = $1", id,
	).Scan(&rec.ID, &rec.FirstSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "getting record", ID: id, Err: err}
	}
	return &rec, nil
}

// Count returns the number of recorded ids.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM processed").Scan(&n); err != nil {
		return 0, &PersistenceError{Op: "counting records", Err: err}
	}
	return n, nil
}
