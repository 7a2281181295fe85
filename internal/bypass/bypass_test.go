package bypass

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRedisChecker(t *testing.T) {
	mr := miniredis.RunT(t)

	checker := NewRedisChecker(mr.Addr(), "riskd:roleclaim:", []string{"owner", "reviewer"})
	defer func() { _ = checker.Close() }()

	ctx := context.Background()

	// Claim written by the auth service, keyed by token hash.
	require.NoError(t, mr.Set("riskd:roleclaim:"+TokenHash("tok-owner"), "owner"))
	require.NoError(t, mr.Set("riskd:roleclaim:"+TokenHash("tok-student"), "student"))

	exempt, err := checker.IsExempt(ctx, "tok-owner")
	require.NoError(t, err)
	assert.True(t, exempt)

	exempt, err = checker.IsExempt(ctx, "tok-student")
	require.NoError(t, err)
	assert.False(t, exempt)

	// No claim at all: clean not-exempt, no error.
	exempt, err = checker.IsExempt(ctx, "tok-unknown")
	require.NoError(t, err)
	assert.False(t, exempt)
}

func TestRedisChecker_TransportFailureSurfaces(t *testing.T) {
	mr := miniredis.RunT(t)
	checker := NewRedisChecker(mr.Addr(), "", []string{"owner"})
	mr.Close()

	_, err := checker.IsExempt(context.Background(), "tok")
	require.Error(t, err)
}

func TestHTTPChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer tok-owner":
			_ = json.NewEncoder(w).Encode(map[string]string{"role": "owner"})
		case "Bearer tok-student":
			_ = json.NewEncoder(w).Encode(map[string]string{"role": "student"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	checker := NewHTTPChecker(srv.URL, []string{"owner"})
	ctx := context.Background()

	exempt, err := checker.IsExempt(ctx, "tok-owner")
	require.NoError(t, err)
	assert.True(t, exempt)

	exempt, err = checker.IsExempt(ctx, "tok-student")
	require.NoError(t, err)
	assert.False(t, exempt)

	exempt, err = checker.IsExempt(ctx, "tok-nobody")
	require.NoError(t, err)
	assert.False(t, exempt)
}

type failingChecker struct{}

func (failingChecker) IsExempt(context.Context, string) (bool, error) {
	return true, errors.New("backend down")
}

type slowChecker struct{}

func (slowChecker) IsExempt(ctx context.Context, _ string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(5 * time.Second):
		return true, nil
	}
}

func TestGate_DegradedCheckIsNotExempt(t *testing.T) {
	g := NewGate(failingChecker{}, time.Second, testLogger())
	assert.False(t, g.Check(context.Background(), "tok"))
}

func TestGate_TimeoutIsNotExempt(t *testing.T) {
	g := NewGate(slowChecker{}, 20*time.Millisecond, testLogger())

	start := time.Now()
	exempt := g.Check(context.Background(), "tok")
	assert.False(t, exempt)
	assert.Less(t, time.Since(start), time.Second, "gate must enforce its own deadline")
}

func TestGate_EmptyTokenNeverExempt(t *testing.T) {
	g := NewGate(None{}, time.Second, testLogger())
	assert.False(t, g.Check(context.Background(), ""))
}
