package bypass

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPChecker asks the platform's role service for the token's verified role.
type HTTPChecker struct {
	url    string
	exempt map[string]bool
	client *http.Client
}

// NewHTTPChecker creates a checker against the role service endpoint.
func NewHTTPChecker(url string, exemptRoles []string) *HTTPChecker {
	return &HTTPChecker{
		url:    url,
		exempt: roleSet(exemptRoles),
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// IsExempt asks the role service which role the token's session carries.
// The service verifies the token itself; riskd trusts its answer, not the
// token contents.
func (c *HTTPChecker) IsExempt(ctx context.Context, identityToken string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("building role request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+identityToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("role service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decode
	case http.StatusNotFound, http.StatusUnauthorized:
		// Unknown or unverifiable token: clean not-exempt.
		return false, nil
	default:
		return false, fmt.Errorf("role service returned %d", resp.StatusCode)
	}

	var body struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decoding role response: %w", err)
	}
	return c.exempt[body.Role], nil
}
