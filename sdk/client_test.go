package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func TestRecordEvent(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/events" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Fatalf("decoding event: %v", err)
		}
		if ev.SessionID != "sess-1" || ev.Kind != "COPY_ATTEMPT" {
			t.Errorf("unexpected event: %+v", ev)
		}
		_ = json.NewEncoder(w).Encode(RecordResult{
			SessionID: ev.SessionID, Score: 12, Level: "NONE",
		})
	})

	res, err := c.RecordEvent(context.Background(), "sess-1", "COPY_ATTEMPT", map[string]string{"target": "page-1"})
	if err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if res.Score != 12 {
		t.Errorf("score = %d, want 12", res.Score)
	}
	if res.Level != "NONE" {
		t.Errorf("level = %q, want NONE", res.Level)
	}
}

func TestRecordErrorResponse(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "session evicted, recreate"})
	})

	_, err := c.RecordEvent(context.Background(), "sess-1", "COPY_ATTEMPT", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusGone {
		t.Errorf("status = %d, want 410", apiErr.StatusCode)
	}
	if apiErr.Message != "session evicted, recreate" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestSessionAndSessions(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/sessions/sess-1":
			_ = json.NewEncoder(w).Encode(Session{ID: "sess-1", Score: 40, Level: "L1_WARN"})
		case "/v1/sessions":
			_ = json.NewEncoder(w).Encode([]Session{
				{ID: "sess-1"}, {ID: "sess-2"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "session not found"})
		}
	})

	s, err := c.Session(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if s.Level != "L1_WARN" {
		t.Errorf("level = %q", s.Level)
	}

	all, err := c.Sessions(context.Background())
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("len = %d, want 2", len(all))
	}

	_, err = c.Session(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 APIError, got %v", err)
	}
}

func TestResetBlockAndTerminate(t *testing.T) {
	var resetHit, termHit bool
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/sessions/sess-1/reset":
			resetHit = true
			_ = json.NewEncoder(w).Encode(RecordResult{SessionID: "sess-1", Level: "NONE"})
		case "/v1/sessions/sess-1/terminate":
			termHit = true
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "terminated"})
		}
	})

	res, err := c.ResetBlock(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("ResetBlock: %v", err)
	}
	if res.Level != "NONE" || !resetHit {
		t.Errorf("reset result = %+v, hit = %v", res, resetHit)
	}

	if err := c.Terminate(context.Background(), "sess-1"); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if !termHit {
		t.Error("terminate endpoint not hit")
	}
}

func TestHealth(t *testing.T) {
	c := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: "ok", Version: "0.1.0"})
	})

	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Status != "ok" {
		t.Errorf("status = %q", h.Status)
	}
}
