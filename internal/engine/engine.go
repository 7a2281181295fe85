// Package engine wires the scoring pipeline together: classify the event,
// gate on identity bypass, accumulate, escalate, and write the audit trail.
// It owns no policy of its own; every constant comes in through the
// components it composes.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pagelock/riskd/internal/audit"
	"github.com/pagelock/riskd/internal/bypass"
	"github.com/pagelock/riskd/internal/escalate"
	"github.com/pagelock/riskd/internal/fingerprint"
	"github.com/pagelock/riskd/internal/metrics"
	"github.com/pagelock/riskd/internal/policy"
	"github.com/pagelock/riskd/internal/probe"
	"github.com/pagelock/riskd/internal/score"
	"github.com/pagelock/riskd/internal/violation"
)

// Options carries the engine's collaborators. Sink and Dispatcher default
// to no-ops when nil so tests can wire only what they assert on.
type Options struct {
	Taxonomy   *violation.Table
	Registry   *fingerprint.Registry
	Gate       *bypass.Gate
	Ladder     *escalate.Ladder
	Scoring    score.Config
	Dispatcher escalate.Dispatcher
	Sink       audit.Sink
	Logger     *slog.Logger

	// ProbeInterval and ProbesDisabled configure the automation runner.
	ProbeInterval  time.Duration
	ProbesDisabled []string
}

// Engine is the composition root of the scoring pipeline.
type Engine struct {
	taxonomy   *violation.Table
	registry   *fingerprint.Registry
	gate       *bypass.Gate
	acc        *score.Accumulator
	dispatcher escalate.Dispatcher
	sink       audit.Sink
	probes     *probe.Runner
	logger     *slog.Logger
	now        func() time.Time
}

// New builds the engine and hooks the accumulator's transition and eviction
// callbacks to dispatch and audit.
func New(opts Options) *Engine {
	if opts.Dispatcher == nil {
		opts.Dispatcher = escalate.NopDispatcher{}
	}
	if opts.Sink == nil {
		opts.Sink = audit.Nop{}
	}
	now := opts.Scoring.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		taxonomy:   opts.Taxonomy,
		registry:   opts.Registry,
		gate:       opts.Gate,
		dispatcher: opts.Dispatcher,
		sink:       opts.Sink,
		logger:     opts.Logger,
		now:        now,
	}
	e.acc = score.New(opts.Scoring, opts.Ladder, opts.Logger)
	e.acc.OnTransition = e.onTransition
	e.acc.OnEvict = e.onEvict
	e.probes = probe.NewRunner(probe.DefaultChecks(), opts.ProbesDisabled, opts.ProbeInterval, e.onProbeSignal, opts.Logger)
	return e
}

// Record ingests one violation event for a session. attrs is the raw
// environment bag from the collection layer and may be nil on follow-up
// events; identityToken feeds the bypass gate on session creation. Unknown
// kinds score at the default severity, they never error.
func (e *Engine) Record(ctx context.Context, sessionID, kind string, metadata, attrs map[string]string, identityToken string) (score.Result, error) {
	var forged []string
	if len(attrs) > 0 {
		forged = e.assignFingerprint(sessionID, attrs)
	}

	k := violation.Kind(kind)
	if !e.taxonomy.Known(k) {
		e.logger.Debug("unknown event kind, using default severity", "kind", kind, "session_id", sessionID)
	}
	res, err := e.record(ctx, sessionID, violation.New(k, metadata), identityToken)
	if err != nil {
		return score.Result{}, err
	}

	// The session exists now with its bypass decision committed, so the
	// follow-up signals below resolve against it, never ahead of it.
	if len(forged) > 0 {
		md := map[string]string{"reasons": joinReasons(forged)}
		if r, err := e.record(ctx, sessionID, violation.New(violation.KindForgedFingerprint, md), identityToken); err != nil {
			e.logger.Error("recording forged fingerprint failed", "session_id", sessionID, "error", err)
		} else {
			res = r
		}
	}
	if len(attrs) > 0 {
		e.probes.Observe(ctx, sessionID, attrs)
		if snap, err := e.acc.Snapshot(sessionID); err == nil {
			res.Score = snap.Score
			res.Level = snap.Level
		}
	}
	return res, nil
}

func (e *Engine) record(ctx context.Context, sessionID string, ev violation.Event, identityToken string) (score.Result, error) {
	ev.Severity = e.taxonomy.SeverityOf(ev.Kind)

	res, err := e.acc.Record(sessionID, ev, func() (score.Seed, error) {
		return e.resolve(ctx, sessionID, identityToken)
	})
	if err != nil {
		return score.Result{}, err
	}

	disposition := audit.DispositionScored
	if res.Discarded {
		disposition = audit.DispositionBypassDiscard
		metrics.EventsDiscardedTotal.WithLabelValues(string(ev.Kind)).Inc()
	} else {
		metrics.EventsRecordedTotal.WithLabelValues(string(ev.Kind)).Inc()
	}
	metrics.LiveSessions.Set(float64(e.acc.Len()))

	fp, _ := e.registry.Lookup(sessionID)
	e.sink.Emit(audit.Entry{
		ID:          ev.ID,
		Timestamp:   ev.OccurredAt.UTC().Format(time.RFC3339),
		SessionID:   sessionID,
		Fingerprint: fp.Hash,
		Kind:        string(ev.Kind),
		Severity:    ev.Severity,
		Score:       res.Score,
		Level:       res.Level.String(),
		Disposition: disposition,
		Metadata:    encodeMetadata(ev.Metadata),
	})
	return res, nil
}

// assignFingerprint derives the session's fingerprint on first sight and
// checks it for contradictions. A forged fingerprint is invalidated so the
// next attribute bag re-derives; the returned reasons are scored by the
// caller as their own violation.
func (e *Engine) assignFingerprint(sessionID string, attrs map[string]string) []string {
	fp, created := e.registry.Assign(sessionID, attrs)
	if !created || fp.Unverified {
		return nil
	}
	v := fingerprint.Validate(fp)
	if v.OK {
		return nil
	}
	e.logger.Warn("forged fingerprint detected", "session_id", sessionID, "reasons", v.Reasons)
	e.registry.Invalidate(sessionID)
	return v.Reasons
}

// onProbeSignal turns a positive automation verdict into a normal event.
// Probes are signal producers, not a privileged path around scoring.
func (e *Engine) onProbeSignal(sessionID, signal, detail string) {
	metrics.ProbeSignalsTotal.WithLabelValues(signal).Inc()
	md := map[string]string{"signal": signal}
	if detail != "" {
		md["detail"] = detail
	}
	if _, err := e.record(context.Background(), sessionID, violation.New(violation.KindAutomationDetected, md), ""); err != nil {
		e.logger.Error("recording automation signal failed", "session_id", sessionID, "signal", signal, "error", err)
	}
}

// resolve builds the session seed on first contact: fingerprint from the
// registry and a single bypass check. Runs outside the scoring locks.
func (e *Engine) resolve(ctx context.Context, sessionID, identityToken string) (score.Seed, error) {
	fp, ok := e.registry.Lookup(sessionID)
	if !ok {
		fp = fingerprint.Unverified()
	}
	bypassed := e.gate.Check(ctx, identityToken)
	if bypassed {
		e.logger.Info("session exempt from scoring", "session_id", sessionID, "token_hash", bypass.TokenHash(identityToken))
	}
	return score.Seed{Fingerprint: fp.Hash, Unverified: fp.Unverified, Bypassed: bypassed}, nil
}

func (e *Engine) onTransition(sessionID string, tr escalate.Transition, scoreNow int) {
	e.dispatcher.Dispatch(sessionID, tr.To)
	metrics.DispatchesTotal.WithLabelValues(tr.To.String()).Inc()

	disposition := audit.DispositionLevelUp
	switch {
	case tr.From == escalate.LevelBlock && tr.To == escalate.LevelNone:
		disposition = audit.DispositionBlockReset
	case tr.To < tr.From:
		disposition = audit.DispositionLevelDown
	}
	e.sink.Emit(audit.Entry{
		ID:          uuid.NewString(),
		Timestamp:   e.now().UTC().Format(time.RFC3339),
		SessionID:   sessionID,
		Score:       scoreNow,
		Level:       tr.To.String(),
		Disposition: disposition,
		Metadata:    encodeMetadata(map[string]string{"from": tr.From.String(), "to": tr.To.String()}),
	})
}

func (e *Engine) onEvict(sessionID string) {
	e.registry.Forget(sessionID)
	e.probes.Forget(sessionID)
	metrics.SessionsEvictedTotal.Inc()
	metrics.LiveSessions.Set(float64(e.acc.Len()))
}

// ResetBlock clears a terminal block after external review.
func (e *Engine) ResetBlock(sessionID string) (score.Result, error) {
	return e.acc.ResetBlock(sessionID)
}

// Terminate ends a session explicitly.
func (e *Engine) Terminate(sessionID string) error {
	return e.acc.Terminate(sessionID)
}

// Snapshot returns one session's decayed state.
func (e *Engine) Snapshot(sessionID string) (score.Snap, error) {
	return e.acc.Snapshot(sessionID)
}

// Sessions lists every live session.
func (e *Engine) Sessions() []score.Snap {
	return e.acc.Snapshots()
}

// Run drives the background loops until ctx is cancelled: the idle
// eviction sweep and the periodic probe re-evaluation.
func (e *Engine) Run(ctx context.Context) {
	go e.probes.Run(ctx)
	e.acc.Run(ctx)
}

// ApplyPolicy hot-applies the reloadable parts of a new policy. The
// severity table swaps atomically; thresholds, decay, and backends take
// effect on the next restart.
func (e *Engine) ApplyPolicy(p *policy.Policy) error {
	if err := e.taxonomy.Replace(p.SeverityOverrides(), p.Scoring.DefaultSeverity); err != nil {
		return err
	}
	e.logger.Info("severity table reloaded",
		"overrides", len(p.Scoring.Severities), "default", p.Scoring.DefaultSeverity)
	return nil
}

// Close flushes the audit sink. The dispatcher is closed by its owner.
func (e *Engine) Close() error {
	return e.sink.Close()
}

func encodeMetadata(md map[string]string) string {
	if len(md) == 0 {
		return ""
	}
	b, err := json.Marshal(md)
	if err != nil {
		return ""
	}
	return string(b)
}

func joinReasons(reasons []string) string {
	return strings.Join(reasons, "; ")
}
