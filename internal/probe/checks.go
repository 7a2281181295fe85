package probe

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultChecks returns the built-in check set.
func DefaultChecks() []Check {
	return []Check{
		WebdriverFlag{},
		UserAgentPattern{patterns: compileUAPatterns()},
		HeadlessViewport{},
		SoftwareRenderer{},
		PluginAbsence{},
		TimingAnomaly{},
	}
}

// WebdriverFlag fires when the session admits navigator.webdriver.
type WebdriverFlag struct{}

func (WebdriverFlag) Name() string { return "webdriver_flag" }

func (WebdriverFlag) Check(_ context.Context, attrs map[string]string) Verdict {
	if attrs["webdriver"] == "true" {
		return Verdict{Suspected: true, Signal: "webdriver_flag", Detail: "navigator.webdriver is set"}
	}
	return Verdict{}
}

func compileUAPatterns() []*regexp.Regexp {
	patterns := []string{
		`(?i)headless`,
		`(?i)phantomjs`,
		`(?i)selenium`,
		`(?i)webdriver`,
		`(?i)puppeteer`,
		`(?i)playwright`,
		`(?i)cypress`,
		`(?i)electron`,
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// UserAgentPattern matches known automation framework markers in the
// reported user agent.
type UserAgentPattern struct {
	patterns []*regexp.Regexp
}

func (UserAgentPattern) Name() string { return "ua_pattern" }

func (c UserAgentPattern) Check(_ context.Context, attrs map[string]string) Verdict {
	ua := attrs["user_agent"]
	if ua == "" {
		return Verdict{}
	}
	for _, p := range c.patterns {
		if p.MatchString(ua) {
			return Verdict{Suspected: true, Signal: "ua_pattern", Detail: "automation marker in user agent"}
		}
	}
	return Verdict{}
}

// HeadlessViewport fires on window geometry only headless browsers report:
// missing outer dimensions, or a viewport exactly equal to the window.
type HeadlessViewport struct{}

func (HeadlessViewport) Name() string { return "headless_viewport" }

func (HeadlessViewport) Check(_ context.Context, attrs map[string]string) Verdict {
	outerW, okW := atoi(attrs["outer_width"])
	outerH, okH := atoi(attrs["outer_height"])
	if okW && okH && outerW == 0 && outerH == 0 {
		return Verdict{Suspected: true, Signal: "headless_viewport", Detail: "window lacks outer dimensions"}
	}
	innerW, okIW := atoi(attrs["inner_width"])
	innerH, okIH := atoi(attrs["inner_height"])
	if okW && okH && okIW && okIH && outerW > 0 && innerW == outerW && innerH == outerH {
		return Verdict{Suspected: true, Signal: "headless_viewport", Detail: "viewport equals window size"}
	}
	return Verdict{}
}

// SoftwareRenderer fires on WebGL renderers that only appear without a GPU.
type SoftwareRenderer struct{}

func (SoftwareRenderer) Name() string { return "software_renderer" }

func (SoftwareRenderer) Check(_ context.Context, attrs map[string]string) Verdict {
	renderer := strings.ToLower(attrs["renderer"])
	if strings.Contains(renderer, "swiftshader") || strings.Contains(renderer, "llvmpipe") {
		return Verdict{Suspected: true, Signal: "software_renderer", Detail: "software WebGL renderer"}
	}
	return Verdict{}
}

// PluginAbsence fires when a desktop browser reports zero plugins, which
// real Chrome and Firefox never do.
type PluginAbsence struct{}

func (PluginAbsence) Name() string { return "plugin_absence" }

func (PluginAbsence) Check(_ context.Context, attrs map[string]string) Verdict {
	n, ok := atoi(attrs["plugin_count"])
	if !ok || n > 0 {
		return Verdict{}
	}
	platform := strings.ToLower(attrs["platform"])
	if strings.Contains(platform, "android") || strings.Contains(platform, "iphone") || strings.Contains(platform, "ipad") {
		return Verdict{}
	}
	return Verdict{Suspected: true, Signal: "plugin_absence", Detail: "no browser plugins on desktop platform"}
}

// TimingAnomaly fires when the reported script timing benchmark falls
// outside the range real browsers produce.
type TimingAnomaly struct{}

func (TimingAnomaly) Name() string { return "timing_anomaly" }

func (TimingAnomaly) Check(_ context.Context, attrs map[string]string) Verdict {
	raw := attrs["js_exec_ms"]
	if raw == "" {
		return Verdict{}
	}
	ms, err := strconv.ParseFloat(raw, 64)
	if err != nil || ms <= 0 {
		return Verdict{}
	}
	if ms < 0.5 {
		return Verdict{Suspected: true, Signal: "timing_anomaly", Detail: fmt.Sprintf("script benchmark implausibly fast: %.2fms", ms)}
	}
	if ms > 50 {
		return Verdict{Suspected: true, Signal: "timing_anomaly", Detail: fmt.Sprintf("script benchmark implausibly slow: %.2fms", ms)}
	}
	return Verdict{}
}

func atoi(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
