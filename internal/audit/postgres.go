package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS violation_log (
	id TEXT PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL,
	session_id TEXT NOT NULL,
	fingerprint TEXT,
	kind TEXT,
	severity INTEGER NOT NULL,
	score INTEGER NOT NULL,
	level TEXT NOT NULL,
	disposition TEXT NOT NULL,
	metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_violation_session ON violation_log(session_id);
CREATE INDEX IF NOT EXISTS idx_violation_timestamp ON violation_log(timestamp);
`

// PostgresStore is the violation sink backed by Postgres, for deployments
// where several instances share one log.
type PostgresStore struct {
	pool   *pgxpool.Pool
	writes chan Entry
	done   chan struct{}
	logger *slog.Logger
}

// NewPostgresStore connects to the given database and ensures the schema
// exists.
func NewPostgresStore(ctx context.Context, url string, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		writes: make(chan Entry, 256),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.writeLoop()
	return s, nil
}

// Emit enqueues a violation entry for async writing.
func (s *PostgresStore) Emit(entry Entry) {
	select {
	case s.writes <- entry:
	default:
		s.logger.Warn("violation log buffer full, dropping entry", "id", entry.ID)
	}
}

// Close flushes pending writes and releases the pool.
func (s *PostgresStore) Close() error {
	close(s.writes)
	<-s.done
	s.pool.Close()
	return nil
}

func (s *PostgresStore) writeLoop() {
	defer close(s.done)
	for entry := range s.writes {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := s.pool.Exec(ctx,
			`INSERT INTO violation_log (id, timestamp, session_id, fingerprint, kind, severity, score, level, disposition, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			entry.ID, entry.Timestamp, entry.SessionID, entry.Fingerprint, entry.Kind,
			entry.Severity, entry.Score, entry.Level, entry.Disposition, entry.Metadata,
		)
		cancel()
		if err != nil {
			s.logger.Error("violation log write failed", "id", entry.ID, "error", err)
		}
	}
}
