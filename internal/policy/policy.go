package policy

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pagelock/riskd/internal/safefile"
	"github.com/pagelock/riskd/internal/violation"
)

// Policy is the top-level riskd configuration: the scoring constants, the
// escalation ladder, and the boundary endpoints, all externally supplied at
// startup.
type Policy struct {
	Version    string           `yaml:"version"`
	Server     ServerPolicy     `yaml:"server"`
	Scoring    ScoringPolicy    `yaml:"scoring"`
	Escalation EscalationPolicy `yaml:"escalation"`
	Bypass     BypassPolicy     `yaml:"bypass"`
	Audit      AuditPolicy      `yaml:"audit"`
	Probes     ProbePolicy      `yaml:"probes"`
	Webhooks   []Webhook        `yaml:"webhooks,omitempty"`
	Tracing    TracingPolicy    `yaml:"tracing,omitempty"`
}

// ServerPolicy holds ingest server settings.
type ServerPolicy struct {
	Port     int    `yaml:"port"`
	Bind     string `yaml:"bind"` // Address to bind (default: 127.0.0.1)
	LogLevel string `yaml:"log_level"`
}

// ScoringPolicy holds the accumulator constants.
//
// DecayRate is integer points per second. The rate, severities, and
// thresholds share one integer scale so tests are deterministic.
type ScoringPolicy struct {
	Severities      map[string]int `yaml:"severities,omitempty"`
	DefaultSeverity int            `yaml:"default_severity"`
	DecayRate       int            `yaml:"decay_rate"`
	MaxScore        int            `yaml:"max_score"`
	// Extra percent added to severities for sessions whose fingerprint
	// could not be verified (0 = score them like everyone else).
	UnverifiedBonusPercent int `yaml:"unverified_bonus_percent"`
	IdleTimeoutS           int `yaml:"idle_timeout_s"`
	SweepIntervalS         int `yaml:"sweep_interval_s"`
}

// EscalationPolicy binds the level ladder to score thresholds.
// Thresholds must be strictly increasing: warn < degrade < suspend < block.
type EscalationPolicy struct {
	WarnAt    int `yaml:"warn_at"`
	DegradeAt int `yaml:"degrade_at"`
	SuspendAt int `yaml:"suspend_at"`
	BlockAt   int `yaml:"block_at"`
	// Minimum time at a level before decay may step the session back down.
	CooldownS int `yaml:"cooldown_s"`
}

// BypassPolicy configures the exemption check. The check runs against a
// server-asserted role claim; a client-supplied identity string never grants
// exemption by itself.
type BypassPolicy struct {
	Backend     string   `yaml:"backend"` // redis, http, none
	RedisAddr   string   `yaml:"redis_addr,omitempty"`
	RedisPrefix string   `yaml:"redis_prefix,omitempty"`
	RoleURL     string   `yaml:"role_url,omitempty"`
	TimeoutMs   int      `yaml:"timeout_ms"`
	ExemptRoles []string `yaml:"exempt_roles,omitempty"`
}

// AuditPolicy configures the violation sink.
type AuditPolicy struct {
	Backend       string `yaml:"backend"` // sqlite, postgres
	DBPath        string `yaml:"db_path,omitempty"`
	PostgresURL   string `yaml:"postgres_url,omitempty"`
	RetentionDays int    `yaml:"retention_days"` // auto-purge entries older than N days (0 = keep forever)
}

// ProbePolicy configures the automation probe runner.
type ProbePolicy struct {
	IntervalS int      `yaml:"interval_s"`
	Disabled  []string `yaml:"disabled,omitempty"`
}

// Webhook defines an outgoing notification endpoint for level transitions.
type Webhook struct {
	URL    string   `yaml:"url"`
	Levels []string `yaml:"levels,omitempty"` // L1_WARN..L4_BLOCK; empty = all
}

// TracingPolicy toggles OpenTelemetry tracing on the ingest server.
type TracingPolicy struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses a riskd policy file.
func Load(path string) (*Policy, error) {
	data, err := safefile.ReadFileMax(path, 1<<20)
	if err != nil {
		return nil, fmt.Errorf("reading policy: %w", err)
	}

	p := Defaults()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing policy: %w", err)
	}

	// Apply zero-value defaults after unmarshal
	if p.Scoring.MaxScore == 0 {
		p.Scoring.MaxScore = 150
	}
	if p.Scoring.SweepIntervalS == 0 {
		p.Scoring.SweepIntervalS = 5
	}
	if p.Scoring.IdleTimeoutS == 0 {
		p.Scoring.IdleTimeoutS = 1800
	}
	if p.Bypass.TimeoutMs == 0 {
		p.Bypass.TimeoutMs = 500
	}

	return p, nil
}

// Defaults returns a policy with the documented defaults: decay 1 point per
// second, thresholds 30/60/90/120, max score 150, 30s level cooldown.
func Defaults() *Policy {
	return &Policy{
		Version: "1",
		Server: ServerPolicy{
			Port:     8660,
			Bind:     "127.0.0.1",
			LogLevel: "info",
		},
		Scoring: ScoringPolicy{
			DefaultSeverity:        violation.DefaultSeverity,
			DecayRate:              1,
			MaxScore:               150,
			UnverifiedBonusPercent: 25,
			IdleTimeoutS:           1800,
			SweepIntervalS:         5,
		},
		Escalation: EscalationPolicy{
			WarnAt:    30,
			DegradeAt: 60,
			SuspendAt: 90,
			BlockAt:   120,
			CooldownS: 30,
		},
		Bypass: BypassPolicy{
			Backend:     "none",
			RedisPrefix: "riskd:roleclaim:",
			TimeoutMs:   500,
			ExemptRoles: []string{"owner", "reviewer"},
		},
		Audit: AuditPolicy{
			Backend: "sqlite",
			DBPath:  "riskd.db",
		},
		Probes: ProbePolicy{
			IntervalS: 15,
		},
	}
}

// Save writes the policy to a YAML file at the given path.
func (p *Policy) Save(path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling policy: %w", err)
	}
	if err := safefile.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("writing policy: %w", err)
	}
	return nil
}

// Validate checks that the policy is consistent. Severity overrides are
// validated here at policy-load time, not on the record path.
func (p *Policy) Validate() error {
	if p.Server.Port < 1 || p.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", p.Server.Port)
	}
	if p.Scoring.DefaultSeverity < 0 {
		return fmt.Errorf("default_severity must not be negative")
	}
	if p.Scoring.DecayRate < 0 {
		return fmt.Errorf("decay_rate must not be negative")
	}
	if p.Scoring.MaxScore <= 0 {
		return fmt.Errorf("max_score must be positive")
	}
	if p.Scoring.UnverifiedBonusPercent < 0 {
		return fmt.Errorf("unverified_bonus_percent must not be negative")
	}
	for kind, sev := range p.Scoring.Severities {
		if sev < 0 {
			return fmt.Errorf("severity for %q must not be negative", kind)
		}
	}

	e := p.Escalation
	if e.WarnAt <= 0 {
		return fmt.Errorf("warn_at must be positive")
	}
	if !(e.WarnAt < e.DegradeAt && e.DegradeAt < e.SuspendAt && e.SuspendAt < e.BlockAt) {
		return fmt.Errorf("thresholds must be strictly increasing: %d/%d/%d/%d",
			e.WarnAt, e.DegradeAt, e.SuspendAt, e.BlockAt)
	}
	if e.BlockAt > p.Scoring.MaxScore {
		return fmt.Errorf("block_at %d exceeds max_score %d", e.BlockAt, p.Scoring.MaxScore)
	}
	if e.CooldownS < 0 {
		return fmt.Errorf("cooldown_s must not be negative")
	}

	switch p.Bypass.Backend {
	case "none", "redis", "http":
		// valid
	default:
		return fmt.Errorf("bypass backend %q is not one of none, redis, http", p.Bypass.Backend)
	}
	if p.Bypass.Backend == "redis" && p.Bypass.RedisAddr == "" {
		return fmt.Errorf("redis_addr is required when bypass backend is redis")
	}
	if p.Bypass.Backend == "http" && p.Bypass.RoleURL == "" {
		return fmt.Errorf("role_url is required when bypass backend is http")
	}

	switch p.Audit.Backend {
	case "sqlite", "postgres":
		// valid
	default:
		return fmt.Errorf("audit backend %q is not one of sqlite, postgres", p.Audit.Backend)
	}
	if p.Audit.Backend == "postgres" && p.Audit.PostgresURL == "" {
		return fmt.Errorf("postgres_url is required when audit backend is postgres")
	}

	return nil
}

// SeverityOverrides converts the YAML severity map to typed kinds.
func (p *Policy) SeverityOverrides() map[violation.Kind]int {
	if len(p.Scoring.Severities) == 0 {
		return nil
	}
	out := make(map[violation.Kind]int, len(p.Scoring.Severities))
	for k, v := range p.Scoring.Severities {
		out[violation.Kind(k)] = v
	}
	return out
}

// Cooldown returns the per-level cooldown as a duration.
func (p *Policy) Cooldown() time.Duration {
	return time.Duration(p.Escalation.CooldownS) * time.Second
}

// IdleTimeout returns the idle-eviction window as a duration.
func (p *Policy) IdleTimeout() time.Duration {
	return time.Duration(p.Scoring.IdleTimeoutS) * time.Second
}

// SweepInterval returns the eviction sweep cadence as a duration.
func (p *Policy) SweepInterval() time.Duration {
	return time.Duration(p.Scoring.SweepIntervalS) * time.Second
}

// BypassTimeout returns the exemption-check deadline as a duration.
func (p *Policy) BypassTimeout() time.Duration {
	return time.Duration(p.Bypass.TimeoutMs) * time.Millisecond
}
