// Package probe runs automation checks against the environment attributes
// a session reports. Each positive verdict is handed to an emit callback and
// flows through the normal event path; probes produce signals, they never
// score anything themselves.
package probe

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Verdict is the outcome of a single check against one session.
type Verdict struct {
	Suspected bool
	Signal    string
	Detail    string
}

// Check inspects a session's reported attributes for one class of
// automation evidence.
type Check interface {
	Name() string
	Check(ctx context.Context, attrs map[string]string) Verdict
}

// EmitFunc receives every positive verdict. Implementations translate it
// into an automation event for the session.
type EmitFunc func(sessionID, signal, detail string)

// Runner holds the registered checks and the last attribute bag seen per
// session, so periodic sweeps can re-probe without new input.
type Runner struct {
	mu       sync.RWMutex
	checks   []Check
	disabled map[string]bool
	attrs    map[string]map[string]string
	emit     EmitFunc
	interval time.Duration
	logger   *slog.Logger
}

// NewRunner builds a runner over the given checks. Names in disabled are
// skipped. An interval of 0 disables the periodic sweep.
func NewRunner(checks []Check, disabled []string, interval time.Duration, emit EmitFunc, logger *slog.Logger) *Runner {
	off := make(map[string]bool, len(disabled))
	for _, name := range disabled {
		off[name] = true
	}
	return &Runner{
		checks:   checks,
		disabled: off,
		attrs:    make(map[string]map[string]string),
		emit:     emit,
		interval: interval,
		logger:   logger,
	}
}

// Observe caches the latest attribute bag for a session and probes it
// immediately. Returns the signals that fired.
func (r *Runner) Observe(ctx context.Context, sessionID string, attrs map[string]string) []string {
	r.mu.Lock()
	r.attrs[sessionID] = attrs
	r.mu.Unlock()
	return r.Evaluate(ctx, sessionID, attrs)
}

// Evaluate runs every enabled check against the given attributes. Each
// positive verdict is emitted independently; two checks firing in the same
// pass produce two signals.
func (r *Runner) Evaluate(ctx context.Context, sessionID string, attrs map[string]string) []string {
	r.mu.RLock()
	checks := r.checks
	r.mu.RUnlock()

	var fired []string
	for _, c := range checks {
		if r.disabled[c.Name()] {
			continue
		}
		v := c.Check(ctx, attrs)
		if !v.Suspected {
			continue
		}
		fired = append(fired, v.Signal)
		r.logger.Debug("automation check fired", "session_id", sessionID, "signal", v.Signal)
		r.emit(sessionID, v.Signal, v.Detail)
	}
	return fired
}

// Forget drops the cached attributes for an evicted or terminated session.
func (r *Runner) Forget(sessionID string) {
	r.mu.Lock()
	delete(r.attrs, sessionID)
	r.mu.Unlock()
}

// Run re-probes every cached session on the configured interval until the
// context is cancelled.
func (r *Runner) Run(ctx context.Context) {
	if r.interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Runner) sweep(ctx context.Context) {
	r.mu.RLock()
	snapshot := make(map[string]map[string]string, len(r.attrs))
	for id, bag := range r.attrs {
		snapshot[id] = bag
	}
	r.mu.RUnlock()

	for id, bag := range snapshot {
		r.Evaluate(ctx, id, bag)
	}
}
