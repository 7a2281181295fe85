package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS violation_log (
	id TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
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
CREATE INDEX IF NOT EXISTS idx_violation_disposition ON violation_log(disposition);
`

// Store manages the SQLite violation log. Writes go through a buffered
// channel so emitting never blocks the scoring path.
type Store struct {
	db      *sql.DB
	writes  chan Entry
	done    chan struct{}
	logger  *slog.Logger
	retDays int
}

// NewStore opens (or creates) the SQLite violation database. retentionDays
// of 0 keeps entries forever.
func NewStore(dbPath string, logger *slog.Logger, retentionDays int) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening violation db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("setting WAL mode: %w (also: close: %v)", err, cerr)
		}
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("creating schema: %w (also: close: %v)", err, cerr)
		}
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &Store{
		db:      db,
		writes:  make(chan Entry, 256),
		done:    make(chan struct{}),
		logger:  logger,
		retDays: retentionDays,
	}

	if err := s.purgeExpired(); err != nil {
		logger.Warn("retention purge failed", "error", err)
	}

	go s.writeLoop()
	return s, nil
}

// Emit enqueues a violation entry for async writing.
func (s *Store) Emit(entry Entry) {
	select {
	case s.writes <- entry:
	default:
		s.logger.Warn("violation log buffer full, dropping entry", "id", entry.ID)
	}
}

// Query returns violation entries matching the given filters, newest first.
func (s *Store) Query(opts QueryOpts) ([]Entry, error) {
	query := "SELECT id, timestamp, session_id, fingerprint, kind, severity, score, level, disposition, metadata FROM violation_log WHERE 1=1"
	var args []any

	if opts.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, opts.SessionID)
	}
	if opts.Kind != "" {
		query += " AND kind = ?"
		args = append(args, opts.Kind)
	}
	if opts.Level != "" {
		query += " AND level = ?"
		args = append(args, opts.Level)
	}
	if opts.Disposition != "" {
		query += " AND disposition = ?"
		args = append(args, opts.Disposition)
	}
	if opts.Since != "" {
		query += " AND timestamp >= ?"
		args = append(args, opts.Since)
	}

	query += " ORDER BY timestamp DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	} else {
		query += " LIMIT 50"
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying violation log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var fp, kind, meta sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.SessionID, &fp, &kind,
			&e.Severity, &e.Score, &e.Level, &e.Disposition, &meta); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		e.Fingerprint = fp.String
		e.Kind = kind.String
		e.Metadata = meta.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close flushes pending writes and closes the database.
func (s *Store) Close() error {
	close(s.writes)
	<-s.done
	return s.db.Close()
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for entry := range s.writes {
		_, err := s.db.Exec(
			`INSERT INTO violation_log (id, timestamp, session_id, fingerprint, kind, severity, score, level, disposition, metadata) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.Timestamp, entry.SessionID, entry.Fingerprint, entry.Kind,
			entry.Severity, entry.Score, entry.Level, entry.Disposition, entry.Metadata,
		)
		if err != nil {
			s.logger.Error("violation log write failed", "id", entry.ID, "error", err)
		}
	}
}

// purgeExpired deletes entries older than the retention window.
func (s *Store) purgeExpired() error {
	if s.retDays <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retDays).Format(time.RFC3339)
	res, err := s.db.Exec("DELETE FROM violation_log WHERE timestamp < ?", cutoff)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Info("purged expired violation entries", "count", n, "retention_days", s.retDays)
	}
	return nil
}
