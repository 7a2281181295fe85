// Package bypass answers whether an actor is exempt from scoring.
//
// Exemption is decided against a server-asserted role claim held by the
// platform's system of record. A client-supplied identity string never
// grants exemption by itself; the token only selects which claim to read.
package bypass

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Checker resolves an identity token to an exemption decision.
type Checker interface {
	IsExempt(ctx context.Context, identityToken string) (bool, error)
}

// None denies exemption for everyone. Used when no role backend is
// configured and as the conservative fallback in tests.
type None struct{}

func (None) IsExempt(context.Context, string) (bool, error) { return false, nil }

// Gate wraps a Checker with a deadline and conservative failure handling:
// a transient backend failure means not-exempt, logged as a degraded check,
// never an exemption. The engine calls Check once per session creation and
// caches the result on the session for its lifetime.
type Gate struct {
	checker Checker
	timeout time.Duration
	logger  *slog.Logger
}

// NewGate creates a gate around the given checker.
func NewGate(checker Checker, timeout time.Duration, logger *slog.Logger) *Gate {
	if checker == nil {
		checker = None{}
	}
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &Gate{checker: checker, timeout: timeout, logger: logger}
}

// Check returns whether the token's actor is exempt. Errors and timeouts
// resolve to not-exempt.
func (g *Gate) Check(ctx context.Context, identityToken string) bool {
	if identityToken == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	exempt, err := g.checker.IsExempt(ctx, identityToken)
	if err != nil {
		g.logger.Warn("exemption check degraded, treating as not exempt",
			"token_hash", TokenHash(identityToken), "error", err)
		return false
	}
	return exempt
}

// TokenHash returns the short hash under which a token's role claim is
// keyed. Raw tokens never appear in claim keys or logs.
func TokenHash(identityToken string) string {
	sum := sha256.Sum256([]byte(identityToken))
	return hex.EncodeToString(sum[:8])
}

// roleSet builds a lookup set from the policy's exempt role list.
func roleSet(roles []string) map[string]bool {
	set := make(map[string]bool, len(roles))
	for _, r := range roles {
		set[r] = true
	}
	return set
}
