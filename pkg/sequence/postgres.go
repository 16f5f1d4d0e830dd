package sequence

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresSequence backs counters with a row per name in the sequences
// table. The upsert takes a row lock, so concurrent callers serialise and
// each sees a distinct value.
type PostgresSequence struct {
	db *sql.DB
}

// NewPostgresSequence creates a PostgresSequence
func NewPostgresSequence(db *sql.DB) *PostgresSequence {
	return &PostgresSequence{db: db}
}

// Next increments and returns the named counter
func (s *PostgresSequence) Next(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("sequence name is required")
	}

	query := `
		INSERT INTO sequences (name, value)
		VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = sequences.value + 1, updated_at = NOW()
		RETURNING value
	`
	var v int64
	if err := s.db.QueryRowContext(ctx, query, name).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to advance sequence %s: %w", name, err)
	}
	return v, nil
}

// Current returns the last value handed out, 0 if the counter is unused
func (s *PostgresSequence) Current(ctx context.Context, name string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sequences WHERE name = $1`, name).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence %s: %w", name, err)
	}
	return v, nil
}
