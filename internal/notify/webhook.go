// Package notify delivers level transitions to configured webhook
// endpoints. Delivery is best-effort and never blocks or rolls back the
// transition that triggered it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pagelock/riskd/internal/escalate"
	"github.com/pagelock/riskd/internal/policy"
)

// blockedCIDRs lists RFC special-use ranges that must never be webhook
// destinations (SSRF prevention): private, loopback, link-local,
// documentation, multicast, reserved, and IPv6 transition prefixes.
var blockedCIDRs = func() []*net.IPNet {
	cidrs := []string{
		"0.0.0.0/8",
		"10.0.0.0/8",
		"100.64.0.0/10",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"172.16.0.0/12",
		"192.0.0.0/24",
		"192.0.2.0/24",
		"192.168.0.0/16",
		"198.18.0.0/15",
		"198.51.100.0/24",
		"203.0.113.0/24",
		"224.0.0.0/4",
		"240.0.0.0/4",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
		"2001:db8::/32",
		"2001::/32",
		"2002::/16",
		"64:ff9b::/96",
	}
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err == nil {
			nets = append(nets, ipnet)
		}
	}
	return nets
}()

func isBlockedIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, cidr := range blockedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// safeDialContext resolves DNS and validates every resolved IP before
// connecting, then dials the validated IP directly. Closes the DNS
// rebinding window between URL validation and connection.
func safeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("DNS resolution failed for %q: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no addresses for %q", host)
	}
	for _, ip := range ips {
		if isBlockedIP(ip.IP) {
			return nil, fmt.Errorf("blocked: %s resolves to %s (private/reserved range)", host, ip.IP)
		}
	}
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
}

// LevelEvent is the payload posted to webhook endpoints on every level
// transition.
type LevelEvent struct {
	SessionID string `json:"session_id"`
	Level     string `json:"level"`
	Timestamp string `json:"timestamp"`
}

// WebhookNotifier posts level transitions to the configured endpoints.
// It satisfies the dispatcher contract of the escalation ladder.
type WebhookNotifier struct {
	webhooks []policy.Webhook
	client   *http.Client
	logger   *slog.Logger
	now      func() time.Time
}

// NewWebhookNotifier builds a notifier from policy. Endpoints with
// invalid URLs are logged and skipped.
func NewWebhookNotifier(webhooks []policy.Webhook, logger *slog.Logger) *WebhookNotifier {
	var valid []policy.Webhook
	for _, wh := range webhooks {
		if err := validateWebhookURL(wh.URL); err != nil {
			logger.Warn("skipping invalid webhook URL", "url", wh.URL, "error", err)
			continue
		}
		valid = append(valid, wh)
	}
	return &WebhookNotifier{
		webhooks: valid,
		client: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				DialContext: safeDialContext,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 2 {
					return errors.New("too many redirects")
				}
				if err := validateWebhookURL(req.URL.String()); err != nil {
					return fmt.Errorf("redirect to blocked URL: %w", err)
				}
				return nil
			},
		},
		logger: logger,
		now:    time.Now,
	}
}

// Dispatch posts the transition to every endpoint whose level filter
// matches. Fire-and-forget.
func (n *WebhookNotifier) Dispatch(sessionID string, level escalate.Level) {
	event := LevelEvent{
		SessionID: sessionID,
		Level:     level.String(),
		Timestamp: n.now().UTC().Format(time.RFC3339),
	}
	for _, wh := range n.webhooks {
		if !matchesLevel(wh.Levels, event.Level) {
			continue
		}
		go n.send(wh.URL, event)
	}
}

// validateWebhookURL performs pre-DNS validation: scheme check,
// alternative numeric IP encodings, and the CIDR blocklist for literal
// IPs. Post-DNS validation happens in safeDialContext.
func validateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return errors.New("webhook URL must use http or https")
	}
	host := u.Hostname()
	if looksLikeAlternativeIP(host) {
		return errors.New("webhook URL contains alternative IP encoding")
	}
	if ip := net.ParseIP(host); ip != nil && isBlockedIP(ip) {
		return errors.New("webhook URL points to a blocked IP range")
	}
	return nil
}

// looksLikeAlternativeIP detects hex (0x7f000001), dot-separated hex or
// leading-zero octal octets, and packed decimal (2130706433) hostnames
// used to slip past IP blocklists.
func looksLikeAlternativeIP(host string) bool {
	if len(host) > 2 && (host[:2] == "0x" || host[:2] == "0X") {
		return true
	}
	parts := strings.Split(host, ".")
	if len(parts) == 4 {
		for _, p := range parts {
			if len(p) > 2 && (p[:2] == "0x" || p[:2] == "0X") {
				return true
			}
			if len(p) > 1 && p[0] == '0' && isAllDigits(p) {
				return true
			}
		}
	}
	return isAllDigits(host)
}

func isAllDigits(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (n *WebhookNotifier) send(url string, event LevelEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("webhook marshal failed", "error", err)
		return
	}
	resp, err := n.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("webhook delivery failed", "url", url, "error", err)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		n.logger.Warn("webhook returned error", "url", url, "status", resp.StatusCode)
	}
}

func matchesLevel(configured []string, level string) bool {
	if len(configured) == 0 {
		return true
	}
	for _, l := range configured {
		if l == level {
			return true
		}
	}
	return false
}
