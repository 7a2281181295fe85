// Package score owns the per-session risk accumulator: additive increments
// from violation events, lazy linear decay over elapsed time, and idle
// session eviction. It is the only mutation path for a session's score.
package score

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pagelock/riskd/internal/escalate"
	"github.com/pagelock/riskd/internal/violation"
)

var (
	// ErrSessionEvicted tells the caller the session ended mid-flight;
	// recreate it by recording again.
	ErrSessionEvicted = errors.New("session evicted, recreate")

	// ErrSessionNotFound is returned for lookups of sessions that were
	// never created or have been garbage-collected.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNotBlocked guards the external reset: only L4_BLOCK resets.
	ErrNotBlocked = errors.New("session is not blocked")
)

// Config holds the accumulator constants, all integers on one scale.
// DecayRate is points per second; decay subtracts rate*floor(elapsed seconds)
// so repeated applications with no elapsed time are no-ops.
type Config struct {
	DecayRate              int
	MaxScore               int
	UnverifiedBonusPercent int
	IdleTimeout            time.Duration
	SweepInterval          time.Duration

	// Now is the clock; nil means time.Now. Injected by tests.
	Now func() time.Time
}

// Result is the committed outcome of one recorded event.
type Result struct {
	SessionID  string
	Score      int
	Level      escalate.Level
	Discarded  bool // event hit a bypassed session, score stayed 0
	Transition escalate.Transition
}

// Accumulator owns the session store and applies the scoring state machine.
// Per-session mutual exclusion only; there is no global lock on the event
// path beyond the map access itself.
type Accumulator struct {
	cfg    Config
	ladder *escalate.Ladder
	logger *slog.Logger
	now    func() time.Time

	// OnTransition is invoked after the session lock is released for every
	// fired level change, from Record, the sweep, and resets alike.
	OnTransition func(sessionID string, tr escalate.Transition, score int)

	// OnEvict is invoked once per evicted/terminated session.
	OnEvict func(sessionID string)

	store *store
}

// New creates an accumulator over an empty session store.
func New(cfg Config, ladder *escalate.Ladder, logger *slog.Logger) *Accumulator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	return &Accumulator{
		cfg:    cfg,
		ladder: ladder,
		logger: logger,
		now:    now,
		store:  newStore(),
	}
}

// Record applies one event to the session's score and evaluates the ladder
// synchronously with the fresh score. resolve supplies the session seed when
// this is the first event for the ID; it may touch the network and runs
// outside every lock. A resolve failure is surfaced, never swallowed: the
// caller owns the retry policy for a dropped security signal.
func (a *Accumulator) Record(sessionID string, ev violation.Event, resolve func() (Seed, error)) (Result, error) {
	s, err := a.session(sessionID, resolve)
	if err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	if s.evicted {
		s.mu.Unlock()
		return Result{}, ErrSessionEvicted
	}
	now := a.now()

	if s.bypassed {
		res := Result{SessionID: sessionID, Score: 0, Level: s.level, Discarded: true}
		s.mu.Unlock()
		return res, nil
	}

	// Decay first, then add, then clamp.
	a.decayLocked(s, now)

	sev := ev.Severity
	if s.unverified && a.cfg.UnverifiedBonusPercent > 0 {
		sev += sev * a.cfg.UnverifiedBonusPercent / 100
	}
	s.score += sev
	if s.score > a.cfg.MaxScore {
		s.score = a.cfg.MaxScore
	}
	s.lastEventAt = now

	tr := a.ladder.Next(s.level, s.levelEnteredAt, s.score, now)
	if tr.Fire {
		s.level = tr.To
		s.levelEnteredAt = now
	}
	res := Result{SessionID: sessionID, Score: s.score, Level: s.level, Transition: tr}
	s.mu.Unlock()

	if tr.Fire {
		a.fireTransition(sessionID, tr, res.Score)
	}
	return res, nil
}

// Snapshot returns the session's state with decay applied, so a reader always
// sees the decayed score, never a stale peak.
func (a *Accumulator) Snapshot(sessionID string) (Snap, error) {
	s, ok := a.store.get(sessionID)
	if !ok {
		return Snap{}, ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return Snap{}, ErrSessionNotFound
	}
	if !s.bypassed {
		a.decayLocked(s, a.now())
	}
	return s.snapLocked(), nil
}

// Snapshots lists every live session, decayed.
func (a *Accumulator) Snapshots() []Snap {
	now := a.now()
	var snaps []Snap
	for _, s := range a.store.all() {
		s.mu.Lock()
		if s.evicted {
			s.mu.Unlock()
			continue
		}
		if !s.bypassed {
			a.decayLocked(s, now)
		}
		snaps = append(snaps, s.snapLocked())
		s.mu.Unlock()
	}
	return snaps
}

// Len returns the number of live sessions.
func (a *Accumulator) Len() int { return a.store.len() }

// ResetBlock clears a terminal L4_BLOCK after external review or an elapsed
// block duration. The score restarts from zero.
func (a *Accumulator) ResetBlock(sessionID string) (Result, error) {
	s, ok := a.store.get(sessionID)
	if !ok {
		return Result{}, ErrSessionNotFound
	}
	s.mu.Lock()
	if s.evicted {
		s.mu.Unlock()
		return Result{}, ErrSessionEvicted
	}
	if s.level != escalate.LevelBlock {
		s.mu.Unlock()
		return Result{}, ErrNotBlocked
	}
	now := a.now()
	s.score = 0
	s.level = escalate.LevelNone
	s.levelEnteredAt = now
	s.lastDecayAt = now
	s.lastEventAt = now
	tr := escalate.Transition{From: escalate.LevelBlock, To: escalate.LevelNone, Fire: true}
	s.mu.Unlock()

	a.fireTransition(sessionID, tr, 0)
	return Result{SessionID: sessionID, Score: 0, Level: escalate.LevelNone, Transition: tr}, nil
}

// Terminate ends a session explicitly (logout). In-flight Record calls for
// it fail fast with ErrSessionEvicted.
func (a *Accumulator) Terminate(sessionID string) error {
	s, ok := a.store.get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	s.mu.Lock()
	already := s.evicted
	s.evicted = true
	s.mu.Unlock()
	if already {
		return ErrSessionNotFound
	}
	a.store.remove(sessionID)
	a.evicted(sessionID)
	return nil
}

// Run drives the periodic sweep: idle eviction plus a forced decay tick for
// sessions with no recent events. It blocks until ctx is cancelled and never
// blocks the per-event path.
func (a *Accumulator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Sweep()
		}
	}
}

// Sweep performs one eviction/decay pass over all sessions.
func (a *Accumulator) Sweep() {
	now := a.now()

	type fired struct {
		id    string
		tr    escalate.Transition
		score int
	}
	var transitions []fired
	var idle []string

	for _, s := range a.store.all() {
		s.mu.Lock()
		if s.evicted {
			s.mu.Unlock()
			continue
		}
		if now.Sub(s.lastEventAt) >= a.cfg.IdleTimeout {
			s.evicted = true
			idle = append(idle, s.id)
			s.mu.Unlock()
			continue
		}
		if !s.bypassed {
			a.decayLocked(s, now)
			tr := a.ladder.Next(s.level, s.levelEnteredAt, s.score, now)
			if tr.Fire {
				s.level = tr.To
				s.levelEnteredAt = now
				transitions = append(transitions, fired{id: s.id, tr: tr, score: s.score})
			}
		}
		s.mu.Unlock()
	}

	for _, id := range idle {
		a.store.remove(id)
		a.evicted(id)
	}
	for _, f := range transitions {
		a.fireTransition(f.id, f.tr, f.score)
	}
}

// session resolves or creates the session. Creation runs resolve outside all
// locks, then inserts under the store lock; a racing creator wins cleanly.
func (a *Accumulator) session(sessionID string, resolve func() (Seed, error)) (*session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("empty session id: %w", ErrSessionNotFound)
	}
	if s, ok := a.store.get(sessionID); ok {
		return s, nil
	}

	seed, err := resolve()
	if err != nil {
		return nil, fmt.Errorf("resolving session %s: %w", sessionID, err)
	}

	now := a.now()
	s := &session{
		id:             sessionID,
		fingerprint:    seed.Fingerprint,
		unverified:     seed.Unverified,
		bypassed:       seed.Bypassed,
		level:          escalate.LevelNone,
		levelEnteredAt: now,
		lastDecayAt:    now,
		lastEventAt:    now,
	}
	s, created := a.store.insert(sessionID, s)
	if created {
		a.logger.Debug("session created",
			"session", sessionID, "fingerprint", seed.Fingerprint,
			"unverified", seed.Unverified, "bypassed", seed.Bypassed)
	}
	return s, nil
}

// decayLocked subtracts decayRate points per whole elapsed second, clamped
// at zero. The decay anchor only advances by the seconds consumed, so the
// fractional remainder is never lost. Idempotent when no time has passed.
func (a *Accumulator) decayLocked(s *session, now time.Time) {
	if a.cfg.DecayRate <= 0 {
		return
	}
	secs := int64(now.Sub(s.lastDecayAt) / time.Second)
	if secs <= 0 {
		return
	}
	s.score -= int(secs) * a.cfg.DecayRate
	if s.score < 0 {
		s.score = 0
	}
	s.lastDecayAt = s.lastDecayAt.Add(time.Duration(secs) * time.Second)
}

func (a *Accumulator) fireTransition(sessionID string, tr escalate.Transition, score int) {
	a.logger.Info("level transition",
		"session", sessionID, "from", tr.From.String(), "to", tr.To.String(), "score", score)
	if a.OnTransition != nil {
		a.OnTransition(sessionID, tr, score)
	}
}

func (a *Accumulator) evicted(sessionID string) {
	a.logger.Debug("session evicted", "session", sessionID)
	if a.OnEvict != nil {
		a.OnEvict(sessionID)
	}
}
