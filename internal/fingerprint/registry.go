// Package fingerprint derives a stable session identity from environment
// attributes supplied by the collection layer, and flags fingerprints whose
// capability claims contradict each other.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// hashedAttrs is the fixed set of attributes that feed the hash. Everything
// else in the bag (viewport size, clock skew, battery level) drifts between
// page loads and must not change the fingerprint.
var hashedAttrs = []string{
	"renderer",
	"vendor",
	"platform",
	"locale",
	"timezone",
	"hardware_concurrency",
	"color_depth",
	"touch_support",
	"max_touch_points",
	"canvas_hash",
	"audio_hash",
	"webgl",
}

// Fingerprint is a derived, stable identity for a session. Unverified marks
// sessions whose attribute collection failed entirely; they are still scored.
type Fingerprint struct {
	Hash       string `json:"hash"`
	Unverified bool   `json:"unverified"`

	attrs map[string]string
}

// Unverified is the fingerprint assigned when no attributes could be collected.
func Unverified() Fingerprint {
	return Fingerprint{Hash: "unverified", Unverified: true}
}

// Derive computes a deterministic fingerprint over the fixed attribute set.
// Same inputs always produce the same hash. An empty or nil bag yields the
// unverified fingerprint rather than an error.
func Derive(raw map[string]string) Fingerprint {
	if len(raw) == 0 {
		return Unverified()
	}

	kept := make(map[string]string, len(hashedAttrs))
	parts := make([]string, 0, len(hashedAttrs))
	for _, key := range hashedAttrs {
		v := raw[key]
		kept[key] = v
		parts = append(parts, key+"="+v)
	}
	sort.Strings(parts)

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return Fingerprint{
		Hash:  hex.EncodeToString(sum[:16]),
		attrs: kept,
	}
}

// Validation is the outcome of a consistency check.
type Validation struct {
	OK      bool
	Reasons []string
}

// Validate flags fingerprints whose capability claims are internally
// inconsistent. An unverified fingerprint is not suspicious by itself; it
// carries no claims to contradict.
func Validate(fp Fingerprint) Validation {
	if fp.Unverified {
		return Validation{OK: true}
	}

	var reasons []string

	touch := fp.attrs["touch_support"] == "true"
	points, pointsErr := strconv.Atoi(fp.attrs["max_touch_points"])
	if touch && pointsErr == nil && points == 0 {
		reasons = append(reasons, "claims touch support with zero touch points")
	}

	platform := strings.ToLower(fp.attrs["platform"])
	mobile := strings.Contains(platform, "iphone") || strings.Contains(platform, "android")
	if mobile && !touch {
		reasons = append(reasons, "mobile platform without touch support")
	}

	if hc := fp.attrs["hardware_concurrency"]; hc != "" {
		n, err := strconv.Atoi(hc)
		if err != nil || n <= 0 || n > 256 {
			reasons = append(reasons, fmt.Sprintf("implausible hardware concurrency %q", hc))
		}
	}

	if cd := fp.attrs["color_depth"]; cd != "" {
		n, err := strconv.Atoi(cd)
		if err != nil || n < 1 || n > 64 {
			reasons = append(reasons, fmt.Sprintf("implausible color depth %q", cd))
		}
	}

	if fp.attrs["webgl"] == "false" && fp.attrs["renderer"] != "" {
		reasons = append(reasons, "reports a renderer while claiming no webgl")
	}

	return Validation{OK: len(reasons) == 0, Reasons: reasons}
}

// Registry assigns fingerprints to sessions. A fingerprint is immutable once
// assigned; only an explicit Invalidate (forged-fingerprint detection) clears
// it so the next event re-derives.
type Registry struct {
	mu        sync.Mutex
	bySession map[string]Fingerprint
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bySession: make(map[string]Fingerprint)}
}

// Assign derives and stores a fingerprint for the session on first call;
// later calls return the stored fingerprint unchanged regardless of the bag.
// The second return is true when this call performed the derivation.
func (r *Registry) Assign(sessionID string, raw map[string]string) (Fingerprint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fp, ok := r.bySession[sessionID]; ok {
		return fp, false
	}
	fp := Derive(raw)
	r.bySession[sessionID] = fp
	return fp, true
}

// Lookup returns the session's fingerprint, if one has been assigned.
func (r *Registry) Lookup(sessionID string) (Fingerprint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fp, ok := r.bySession[sessionID]
	return fp, ok
}

// Invalidate removes the session's fingerprint so the next Assign re-derives.
func (r *Registry) Invalidate(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bySession, sessionID)
}

// Forget drops the session's fingerprint on session eviction.
func (r *Registry) Forget(sessionID string) {
	r.Invalidate(sessionID)
}
