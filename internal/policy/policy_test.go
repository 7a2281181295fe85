package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	content := `
version: "1"
server:
  port: 9090
  log_level: debug
scoring:
  decay_rate: 2
  severities:
    COPY_ATTEMPT: 12
escalation:
  warn_at: 30
  degrade_at: 60
  suspend_at: 90
  block_at: 120
  cooldown_s: 10
audit:
  backend: sqlite
  db_path: ./test.db
`
	dir := t.TempDir()
	path := filepath.Join(dir, "riskd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if p.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", p.Server.Port)
	}
	if p.Scoring.DecayRate != 2 {
		t.Errorf("decay_rate = %d, want 2", p.Scoring.DecayRate)
	}
	if p.Scoring.Severities["COPY_ATTEMPT"] != 12 {
		t.Errorf("COPY_ATTEMPT severity = %d, want 12", p.Scoring.Severities["COPY_ATTEMPT"])
	}
	// Zero-value defaults still apply for fields the file omits.
	if p.Scoring.MaxScore != 150 {
		t.Errorf("max_score = %d, want 150", p.Scoring.MaxScore)
	}
	if p.Escalation.CooldownS != 10 {
		t.Errorf("cooldown_s = %d, want 10", p.Escalation.CooldownS)
	}
}

func TestDefaults(t *testing.T) {
	p := Defaults()
	if p.Scoring.DecayRate != 1 {
		t.Errorf("default decay_rate = %d, want 1", p.Scoring.DecayRate)
	}
	if p.Escalation.WarnAt != 30 || p.Escalation.BlockAt != 120 {
		t.Errorf("default thresholds = %d/%d/%d/%d, want 30/60/90/120",
			p.Escalation.WarnAt, p.Escalation.DegradeAt, p.Escalation.SuspendAt, p.Escalation.BlockAt)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
	if p.Cooldown() != 30*time.Second {
		t.Errorf("default cooldown = %s, want 30s", p.Cooldown())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"non-increasing thresholds", func(p *Policy) { p.Escalation.DegradeAt = p.Escalation.WarnAt }},
		{"block above max score", func(p *Policy) { p.Escalation.BlockAt = p.Scoring.MaxScore + 1 }},
		{"negative severity override", func(p *Policy) { p.Scoring.Severities = map[string]int{"COPY_ATTEMPT": -1} }},
		{"negative decay", func(p *Policy) { p.Scoring.DecayRate = -1 }},
		{"bad port", func(p *Policy) { p.Server.Port = 0 }},
		{"unknown bypass backend", func(p *Policy) { p.Bypass.Backend = "ldap" }},
		{"redis bypass without addr", func(p *Policy) { p.Bypass.Backend = "redis" }},
		{"postgres audit without url", func(p *Policy) { p.Audit.Backend = "postgres" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Defaults()
			tt.mutate(p)
			if err := p.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestSeverityOverridesTyped(t *testing.T) {
	p := Defaults()
	p.Scoring.Severities = map[string]int{"PRINT_ATTEMPT": 33}

	got := p.SeverityOverrides()
	if len(got) != 1 {
		t.Fatalf("overrides = %d entries, want 1", len(got))
	}
	for k, v := range got {
		if string(k) != "PRINT_ATTEMPT" || v != 33 {
			t.Errorf("override = %s:%d, want PRINT_ATTEMPT:33", k, v)
		}
	}
}
