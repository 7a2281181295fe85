package audit

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "violations.db")
	s, err := NewStore(path, testLogger(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func entryAt(ts time.Time, sessionID, kind, disposition string, score int) Entry {
	return Entry{
		ID:          uuid.NewString(),
		Timestamp:   ts.UTC().Format(time.RFC3339),
		SessionID:   sessionID,
		Kind:        kind,
		Severity:    10,
		Score:       score,
		Level:       "NONE",
		Disposition: disposition,
	}
}

func flush(t *testing.T, s *Store, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries, err := s.Query(QueryOpts{Limit: 1000})
		require.NoError(t, err)
		if len(entries) >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("store did not flush %d entries in time", want)
}

func TestStoreEmitAndQuery(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	s.Emit(entryAt(now, "sess-1", "COPY_ATTEMPT", DispositionScored, 10))
	s.Emit(entryAt(now.Add(time.Second), "sess-1", "PRINT_ATTEMPT", DispositionScored, 25))
	s.Emit(entryAt(now.Add(2*time.Second), "sess-2", "DEVTOOLS_OPEN", DispositionScored, 25))
	flush(t, s, 3)

	entries, err := s.Query(QueryOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	// newest first
	assert.Equal(t, "DEVTOOLS_OPEN", entries[0].Kind)

	bySession, err := s.Query(QueryOpts{SessionID: "sess-1"})
	require.NoError(t, err)
	assert.Len(t, bySession, 2)

	byKind, err := s.Query(QueryOpts{Kind: "COPY_ATTEMPT"})
	require.NoError(t, err)
	require.Len(t, byKind, 1)
	assert.Equal(t, "sess-1", byKind[0].SessionID)
}

func TestStoreQueryFilters(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	s.Emit(entryAt(now, "sess-1", "COPY_ATTEMPT", DispositionScored, 10))
	e := entryAt(now.Add(time.Second), "sess-1", "", DispositionLevelUp, 35)
	e.Level = "L1_WARN"
	s.Emit(e)
	s.Emit(entryAt(now.Add(2*time.Second), "sess-3", "COPY_ATTEMPT", DispositionBypassDiscard, 0))
	flush(t, s, 3)

	ups, err := s.Query(QueryOpts{Disposition: DispositionLevelUp})
	require.NoError(t, err)
	require.Len(t, ups, 1)
	assert.Equal(t, "L1_WARN", ups[0].Level)

	byLevel, err := s.Query(QueryOpts{Level: "L1_WARN"})
	require.NoError(t, err)
	assert.Len(t, byLevel, 1)

	since, err := s.Query(QueryOpts{Since: now.Add(time.Second).UTC().Format(time.RFC3339)})
	require.NoError(t, err)
	assert.Len(t, since, 2)
}

func TestStoreQueryLimit(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	for i := 0; i < 10; i++ {
		s.Emit(entryAt(now.Add(time.Duration(i)*time.Second), fmt.Sprintf("sess-%d", i), "COPY_ATTEMPT", DispositionScored, 10))
	}
	flush(t, s, 10)

	entries, err := s.Query(QueryOpts{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestStoreCloseFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "violations.db")
	s, err := NewStore(path, testLogger(), 0)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		s.Emit(entryAt(time.Now(), "sess-1", "COPY_ATTEMPT", DispositionScored, i))
	}
	require.NoError(t, s.Close())

	reopened, err := NewStore(path, testLogger(), 0)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	entries, err := reopened.Query(QueryOpts{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, entries, 50)
}

func TestStoreRetentionPurge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "violations.db")
	s, err := NewStore(path, testLogger(), 0)
	require.NoError(t, err)

	s.Emit(entryAt(time.Now().AddDate(0, 0, -30), "sess-old", "COPY_ATTEMPT", DispositionScored, 10))
	s.Emit(entryAt(time.Now(), "sess-new", "COPY_ATTEMPT", DispositionScored, 10))
	flush(t, s, 2)
	require.NoError(t, s.Close())

	// reopening with a 7 day window purges the old entry
	s2, err := NewStore(path, testLogger(), 7)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	entries, err := s2.Query(QueryOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "sess-new", entries[0].SessionID)
}

func TestNopSink(t *testing.T) {
	var sink Sink = Nop{}
	sink.Emit(Entry{ID: "x"})
	assert.NoError(t, sink.Close())
}
