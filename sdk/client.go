// Package sdk provides a Go client for the riskd scoring API.
//
// Basic usage:
//
//	c := sdk.NewClient("http://localhost:8660")
//	res, err := c.RecordEvent(ctx, "sess-1", "COPY_ATTEMPT", nil)
//
// Producers that collect environment attributes attach them on the first
// event so the server can derive the session fingerprint:
//
//	res, err := c.Record(ctx, sdk.Event{
//		SessionID:  "sess-1",
//		Kind:       "COPY_ATTEMPT",
//		Attributes: attrs,
//	})
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Event is the ingest payload for POST /v1/events.
type Event struct {
	SessionID     string            `json:"session_id"`
	Kind          string            `json:"kind"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	IdentityToken string            `json:"identity_token,omitempty"`
}

// RecordResult is the committed outcome of one recorded event.
type RecordResult struct {
	SessionID string `json:"session_id"`
	Score     int    `json:"score"`
	Level     string `json:"level"`
	Discarded bool   `json:"discarded"`
}

// Session is the server's view of one tracked session.
type Session struct {
	ID             string    `json:"id"`
	Fingerprint    string    `json:"fingerprint"`
	Unverified     bool      `json:"unverified"`
	Bypassed       bool      `json:"bypassed"`
	Score          int       `json:"score"`
	Level          string    `json:"level"`
	LevelEnteredAt time.Time `json:"level_entered_at"`
	LastEventAt    time.Time `json:"last_event_at"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("riskd: %s (HTTP %d)", e.Message, e.StatusCode)
}

// Client talks to a riskd server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// RecordEvent records one event with no attributes or identity token.
func (c *Client) RecordEvent(ctx context.Context, sessionID, kind string, metadata map[string]string) (*RecordResult, error) {
	return c.Record(ctx, Event{SessionID: sessionID, Kind: kind, Metadata: metadata})
}

// Record sends a full event.
func (c *Client) Record(ctx context.Context, ev Event) (*RecordResult, error) {
	var out RecordResult
	if err := c.post(ctx, "/v1/events", ev, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Session fetches one session's current state.
func (c *Client) Session(ctx context.Context, sessionID string) (*Session, error) {
	var out Session
	if err := c.get(ctx, "/v1/sessions/"+sessionID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sessions lists every live session.
func (c *Client) Sessions(ctx context.Context) ([]Session, error) {
	var out []Session
	if err := c.get(ctx, "/v1/sessions", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ResetBlock clears a terminal block after external review.
func (c *Client) ResetBlock(ctx context.Context, sessionID string) (*RecordResult, error) {
	var out RecordResult
	if err := c.post(ctx, "/v1/sessions/"+sessionID+"/reset", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Terminate ends a session explicitly.
func (c *Client) Terminate(ctx context.Context, sessionID string) error {
	return c.post(ctx, "/v1/sessions/"+sessionID+"/terminate", nil, nil)
}

// Health checks the server health endpoint.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.get(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		if payload.Error == "" {
			payload.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response (HTTP %d): %w", resp.StatusCode, err)
	}
	return nil
}
