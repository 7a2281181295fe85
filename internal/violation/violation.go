package violation

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies a suspicious client action reported by a signal producer.
//
// The set is closed but extensible: producers may send kinds this build does
// not know about, and those resolve to the table's default severity rather
// than erroring. New producer code must never be able to crash the scorer.
type Kind string

const (
	KindCopyAttempt        Kind = "COPY_ATTEMPT"
	KindPrintAttempt       Kind = "PRINT_ATTEMPT"
	KindCaptureAttempt     Kind = "CAPTURE_ATTEMPT"
	KindDevtoolsOpen       Kind = "DEVTOOLS_OPEN"
	KindInspectAttempt     Kind = "INSPECT_ATTEMPT"
	KindAutomationDetected Kind = "AUTOMATION_DETECTED"
	KindVisibilityAnomaly  Kind = "VISIBILITY_ANOMALY"
	KindGestureAnomaly     Kind = "GESTURE_ANOMALY"
	KindForgedFingerprint  Kind = "FORGED_FINGERPRINT"
)

// Kinds lists every kind this build knows about, in severity-table order.
func Kinds() []Kind {
	return []Kind{
		KindCopyAttempt,
		KindPrintAttempt,
		KindCaptureAttempt,
		KindDevtoolsOpen,
		KindInspectAttempt,
		KindAutomationDetected,
		KindVisibilityAnomaly,
		KindGestureAnomaly,
		KindForgedFingerprint,
	}
}

// Event is a single classified violation signal.
// Metadata is audit context only; it never affects scoring.
type Event struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	Severity   int               `json:"severity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// New creates an event for the given kind with a fresh ID. The severity is
// filled in later by the taxonomy lookup on the record path.
func New(kind Kind, metadata map[string]string) Event {
	return Event{
		ID:         uuid.New().String(),
		Kind:       kind,
		Metadata:   metadata,
		OccurredAt: time.Now().UTC(),
	}
}
