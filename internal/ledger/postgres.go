// Package ledger records per-key run outcomes to Postgres. It is an
// operational aid: every method is best effort and the ingestion run never
// depends on it.
package ledger

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS ingest_results (
	run_id      TEXT        NOT NULL,
	driver      TEXT        NOT NULL,
	output_key  TEXT        NOT NULL,
	status      TEXT        NOT NULL,
	message     TEXT        NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, driver, output_key)
)`

// Store writes one row per processed output key, keyed by run id.
type Store struct {
	pool   *pgxpool.Pool
	runID  string
	logger *log.Logger
}

// Open connects and ensures the schema. The run id is fresh per process.
func Open(ctx context.Context, databaseURL string, logger *log.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := pool.Exec(initCtx, schema); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool, runID: uuid.NewString(), logger: logger}, nil
}

func (s *Store) RunID() string { return s.runID }

// Record inserts one outcome row. Conflicts (re-processing inside one run)
// and write errors are swallowed after logging.
func (s *Store) Record(ctx context.Context, driver, key, status, message string) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingest_results (run_id, driver, output_key, status, message)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (run_id, driver, output_key) DO UPDATE SET status = $4, message = $5, recorded_at = now()`,
		s.runID, driver, key, status, message)
	if err != nil && s.logger != nil {
		s.logger.Printf("ledger: record failed driver=%s key=%s: %v", driver, key, err)
	}
}

func (s *Store) Close() {
	s.pool.Close()
}
