package probe

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitRecorder struct {
	mu      sync.Mutex
	signals []string
}

func (r *emitRecorder) emit(_ string, signal, _ string) {
	r.mu.Lock()
	r.signals = append(r.signals, signal)
	r.mu.Unlock()
}

func (r *emitRecorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.signals...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWebdriverFlag(t *testing.T) {
	c := WebdriverFlag{}
	v := c.Check(context.Background(), map[string]string{"webdriver": "true"})
	assert.True(t, v.Suspected)
	assert.Equal(t, "webdriver_flag", v.Signal)

	v = c.Check(context.Background(), map[string]string{"webdriver": "false"})
	assert.False(t, v.Suspected)
}

func TestUserAgentPattern(t *testing.T) {
	c := UserAgentPattern{patterns: compileUAPatterns()}
	tests := []struct {
		ua        string
		suspected bool
	}{
		{"Mozilla/5.0 (X11; Linux x86_64) HeadlessChrome/120.0", true},
		{"Mozilla/5.0 Selenium", true},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0", false},
		{"", false},
	}
	for _, tt := range tests {
		v := c.Check(context.Background(), map[string]string{"user_agent": tt.ua})
		assert.Equal(t, tt.suspected, v.Suspected, "ua=%q", tt.ua)
	}
}

func TestHeadlessViewport(t *testing.T) {
	c := HeadlessViewport{}

	v := c.Check(context.Background(), map[string]string{"outer_width": "0", "outer_height": "0"})
	assert.True(t, v.Suspected)

	v = c.Check(context.Background(), map[string]string{
		"outer_width": "1280", "outer_height": "720",
		"inner_width": "1280", "inner_height": "720",
	})
	assert.True(t, v.Suspected)

	v = c.Check(context.Background(), map[string]string{
		"outer_width": "1280", "outer_height": "800",
		"inner_width": "1280", "inner_height": "720",
	})
	assert.False(t, v.Suspected)

	// missing attributes never fire
	v = c.Check(context.Background(), map[string]string{})
	assert.False(t, v.Suspected)
}

func TestSoftwareRenderer(t *testing.T) {
	c := SoftwareRenderer{}
	v := c.Check(context.Background(), map[string]string{"renderer": "Google SwiftShader"})
	assert.True(t, v.Suspected)
	v = c.Check(context.Background(), map[string]string{"renderer": "NVIDIA GeForce RTX 3060"})
	assert.False(t, v.Suspected)
}

func TestPluginAbsence(t *testing.T) {
	c := PluginAbsence{}
	v := c.Check(context.Background(), map[string]string{"plugin_count": "0", "platform": "Win32"})
	assert.True(t, v.Suspected)

	// mobile platforms legitimately report none
	v = c.Check(context.Background(), map[string]string{"plugin_count": "0", "platform": "iPhone"})
	assert.False(t, v.Suspected)

	v = c.Check(context.Background(), map[string]string{"plugin_count": "3", "platform": "Win32"})
	assert.False(t, v.Suspected)
}

func TestTimingAnomaly(t *testing.T) {
	c := TimingAnomaly{}
	v := c.Check(context.Background(), map[string]string{"js_exec_ms": "0.1"})
	assert.True(t, v.Suspected)
	v = c.Check(context.Background(), map[string]string{"js_exec_ms": "120"})
	assert.True(t, v.Suspected)
	v = c.Check(context.Background(), map[string]string{"js_exec_ms": "4.2"})
	assert.False(t, v.Suspected)
	v = c.Check(context.Background(), map[string]string{})
	assert.False(t, v.Suspected)
}

func TestRunnerEvaluateMultipleSignals(t *testing.T) {
	rec := &emitRecorder{}
	r := NewRunner(DefaultChecks(), nil, 0, rec.emit, quietLogger())

	fired := r.Evaluate(context.Background(), "sess-1", map[string]string{
		"webdriver": "true",
		"renderer":  "llvmpipe (LLVM 15.0)",
	})

	// independent checks each contribute their own signal
	assert.ElementsMatch(t, []string{"webdriver_flag", "software_renderer"}, fired)
	assert.ElementsMatch(t, []string{"webdriver_flag", "software_renderer"}, rec.seen())
}

func TestRunnerDisabledChecks(t *testing.T) {
	rec := &emitRecorder{}
	r := NewRunner(DefaultChecks(), []string{"webdriver_flag"}, 0, rec.emit, quietLogger())

	fired := r.Evaluate(context.Background(), "sess-1", map[string]string{"webdriver": "true"})
	assert.Empty(t, fired)
	assert.Empty(t, rec.seen())
}

func TestRunnerObserveAndForget(t *testing.T) {
	rec := &emitRecorder{}
	r := NewRunner(DefaultChecks(), nil, 0, rec.emit, quietLogger())

	fired := r.Observe(context.Background(), "sess-1", map[string]string{"webdriver": "true"})
	require.Equal(t, []string{"webdriver_flag"}, fired)

	r.Forget("sess-1")
	r.sweep(context.Background())
	// only the initial observation emitted
	assert.Len(t, rec.seen(), 1)
}

func TestRunnerPeriodicSweep(t *testing.T) {
	rec := &emitRecorder{}
	r := NewRunner(DefaultChecks(), nil, 20*time.Millisecond, rec.emit, quietLogger())
	r.Observe(context.Background(), "sess-1", map[string]string{"webdriver": "true"})

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)

	require.Eventually(t, func() bool {
		return len(rec.seen()) >= 3
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
}
