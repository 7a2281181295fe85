// Package escalate implements the threshold state machine that converts a
// session's risk score into an ordered, non-flapping response ladder.
package escalate

import (
	"fmt"
	"time"
)

// Config binds each level to its score threshold. Thresholds must be
// strictly increasing.
type Config struct {
	WarnAt    int
	DegradeAt int
	SuspendAt int
	BlockAt   int
	// Cooldown is the minimum time at a level before decay may step the
	// session back down. Prevents oscillation from jitter around a boundary.
	Cooldown time.Duration
}

// Ladder evaluates level transitions. It is pure state-machine logic: the
// caller holds the session lock and applies the returned transition.
type Ladder struct {
	cfg Config
}

// NewLadder validates the threshold table and builds a ladder.
func NewLadder(cfg Config) (*Ladder, error) {
	if !(0 < cfg.WarnAt && cfg.WarnAt < cfg.DegradeAt && cfg.DegradeAt < cfg.SuspendAt && cfg.SuspendAt < cfg.BlockAt) {
		return nil, fmt.Errorf("thresholds must be strictly increasing and positive: %d/%d/%d/%d",
			cfg.WarnAt, cfg.DegradeAt, cfg.SuspendAt, cfg.BlockAt)
	}
	if cfg.Cooldown < 0 {
		return nil, fmt.Errorf("cooldown must not be negative")
	}
	return &Ladder{cfg: cfg}, nil
}

// Threshold returns the score at which the given level is entered.
func (l *Ladder) Threshold(level Level) int {
	switch level {
	case LevelWarn:
		return l.cfg.WarnAt
	case LevelDegrade:
		return l.cfg.DegradeAt
	case LevelSuspend:
		return l.cfg.SuspendAt
	case LevelBlock:
		return l.cfg.BlockAt
	default:
		return 0
	}
}

// Target returns the highest level whose threshold the score has reached.
func (l *Ladder) Target(score int) Level {
	switch {
	case score >= l.cfg.BlockAt:
		return LevelBlock
	case score >= l.cfg.SuspendAt:
		return LevelSuspend
	case score >= l.cfg.DegradeAt:
		return LevelDegrade
	case score >= l.cfg.WarnAt:
		return LevelWarn
	default:
		return LevelNone
	}
}

// Transition is the outcome of one evaluation. Fire is true when the level
// changed and the new level's action must be dispatched exactly once.
type Transition struct {
	From Level
	To   Level
	Fire bool
}

// Next computes the transition for (current level, new score).
//
//   - Upward crossings fire immediately.
//   - Downward steps require the score strictly below the current level's
//     threshold and the cooldown since enteredAt to have elapsed (hysteresis).
//   - L4_BLOCK is terminal: it never self-decays out; only an explicit
//     external reset clears it.
//   - A stable level is idempotent: no transition, no dispatch.
func (l *Ladder) Next(current Level, enteredAt time.Time, score int, now time.Time) Transition {
	target := l.Target(score)

	if current == LevelBlock {
		return Transition{From: current, To: current}
	}

	if target > current {
		return Transition{From: current, To: target, Fire: true}
	}

	if target < current {
		if score < l.Threshold(current) && now.Sub(enteredAt) >= l.cfg.Cooldown {
			return Transition{From: current, To: target, Fire: true}
		}
		return Transition{From: current, To: current}
	}

	return Transition{From: current, To: current}
}
