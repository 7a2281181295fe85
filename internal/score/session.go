package score

import (
	"sync"
	"time"

	"github.com/pagelock/riskd/internal/escalate"
)

// session is the per-actor scoring state. All mutable fields are guarded by
// mu; cross-session operations never need more than the store's map lock.
type session struct {
	mu sync.Mutex

	id          string
	fingerprint string
	unverified  bool
	bypassed    bool

	score          int
	level          escalate.Level
	levelEnteredAt time.Time
	lastDecayAt    time.Time
	lastEventAt    time.Time

	// Set on eviction so in-flight calls holding a stale pointer fail fast
	// instead of operating on a zombie session.
	evicted bool
}

// Seed carries the identity facts resolved before a session is created:
// fingerprint, verification state, and the cached exemption decision. The
// resolution may touch the network and therefore always happens outside the
// session's critical section.
type Seed struct {
	Fingerprint string
	Unverified  bool
	Bypassed    bool
}

// Snap is a read-only view of a session with decay already applied.
type Snap struct {
	ID             string         `json:"id"`
	Fingerprint    string         `json:"fingerprint"`
	Unverified     bool           `json:"unverified"`
	Bypassed       bool           `json:"bypassed"`
	Score          int            `json:"score"`
	Level          escalate.Level `json:"level"`
	LevelEnteredAt time.Time      `json:"level_entered_at"`
	LastEventAt    time.Time      `json:"last_event_at"`
}

func (s *session) snapLocked() Snap {
	return Snap{
		ID:             s.id,
		Fingerprint:    s.fingerprint,
		Unverified:     s.unverified,
		Bypassed:       s.bypassed,
		Score:          s.score,
		Level:          s.level,
		LevelEnteredAt: s.levelEnteredAt,
		LastEventAt:    s.lastEventAt,
	}
}
