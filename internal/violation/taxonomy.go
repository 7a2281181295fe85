package violation

import (
	"fmt"
	"sync"
)

// Default base severities. The table is data, not logic: deployments override
// it from the policy file, and the serve command hot-reloads it on change.
var defaultSeverities = map[Kind]int{
	KindCopyAttempt:        10,
	KindPrintAttempt:       15,
	KindCaptureAttempt:     30,
	KindDevtoolsOpen:       25,
	KindInspectAttempt:     25,
	KindAutomationDetected: 20,
	KindVisibilityAnomaly:  5,
	KindGestureAnomaly:     5,
	KindForgedFingerprint:  40,
}

// DefaultSeverity is used for kinds absent from the table. Conservative and
// non-zero so an unknown producer still moves the score.
const DefaultSeverity = 10

// Table maps violation kinds to base severities. Lookups for unknown kinds
// fall back to the table's default instead of erroring. Safe for concurrent
// use; Replace swaps the whole table atomically for hot reload.
type Table struct {
	mu         sync.RWMutex
	severities map[Kind]int
	fallback   int
}

// NewTable builds a table from per-kind severities, filling kinds missing
// from overrides with the built-in defaults. A nil map yields the defaults.
func NewTable(overrides map[Kind]int, fallback int) (*Table, error) {
	if fallback < 0 {
		return nil, fmt.Errorf("default severity must not be negative, got %d", fallback)
	}
	sev := make(map[Kind]int, len(defaultSeverities))
	for k, v := range defaultSeverities {
		sev[k] = v
	}
	for k, v := range overrides {
		if v < 0 {
			return nil, fmt.Errorf("severity for %s must not be negative, got %d", k, v)
		}
		sev[k] = v
	}
	return &Table{severities: sev, fallback: fallback}, nil
}

// DefaultTable returns the built-in severity table.
func DefaultTable() *Table {
	t, _ := NewTable(nil, DefaultSeverity)
	return t
}

// SeverityOf returns the base severity for kind, or the default severity if
// the kind is not in the table.
func (t *Table) SeverityOf(kind Kind) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.severities[kind]; ok {
		return s
	}
	return t.fallback
}

// Known reports whether the kind has an explicit table entry.
func (t *Table) Known(kind Kind) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.severities[kind]
	return ok
}

// Replace swaps in a new severity table. Used by policy hot reload; failed
// validation keeps the old table in place.
func (t *Table) Replace(overrides map[Kind]int, fallback int) error {
	next, err := NewTable(overrides, fallback)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.severities = next.severities
	t.fallback = next.fallback
	t.mu.Unlock()
	return nil
}
