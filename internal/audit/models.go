package audit

// Disposition says what the engine did with the signal that produced an
// entry. Every ingested event lands in the log with one of these; there is
// no code path that consumes an event without a trace.
const (
	DispositionScored        = "scored"
	DispositionBypassDiscard = "bypass_discard"
	DispositionLevelUp       = "level_up"
	DispositionLevelDown     = "level_down"
	DispositionBlockReset    = "block_reset"
)

// Entry is a single violation-log record: one recorded event or one level
// transition, with the score and level that resulted.
type Entry struct {
	ID          string `json:"id"`
	Timestamp   string `json:"timestamp"`
	SessionID   string `json:"session_id"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Severity    int    `json:"severity"`
	Score       int    `json:"score"`
	Level       string `json:"level"`
	Disposition string `json:"disposition"`
	Metadata    string `json:"metadata,omitempty"` // JSON object, audit context only
}

// Sink is the boundary the engine writes through. Emit must never block the
// scoring path; implementations buffer and drop with a warning on overflow.
type Sink interface {
	Emit(e Entry)
	Close() error
}

// Nop discards entries. Used in tests and as a fallback.
type Nop struct{}

func (Nop) Emit(Entry)   {}
func (Nop) Close() error { return nil }

// QueryOpts holds filters for violation log queries.
type QueryOpts struct {
	SessionID   string
	Kind        string
	Level       string
	Disposition string
	Since       string
	Limit       int
}
