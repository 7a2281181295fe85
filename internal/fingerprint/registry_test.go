package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAttrs() map[string]string {
	return map[string]string{
		"renderer":             "ANGLE (Apple M1)",
		"vendor":               "Apple",
		"platform":             "MacIntel",
		"locale":               "en-US",
		"timezone":             "America/New_York",
		"hardware_concurrency": "8",
		"color_depth":          "30",
		"touch_support":        "false",
		"max_touch_points":     "0",
		"canvas_hash":          "c0ffee",
		"audio_hash":           "decade",
		"webgl":                "true",
	}
}

func TestDerive_Deterministic(t *testing.T) {
	a := Derive(sampleAttrs())
	b := Derive(sampleAttrs())
	assert.Equal(t, a.Hash, b.Hash)
	assert.False(t, a.Unverified)
}

func TestDerive_IgnoresDriftAttributes(t *testing.T) {
	attrs := sampleAttrs()
	base := Derive(attrs)

	attrs["viewport"] = "1440x900"
	attrs["clock_skew_ms"] = "231"
	drifted := Derive(attrs)

	assert.Equal(t, base.Hash, drifted.Hash, "non-hashed attributes must not change the fingerprint")
}

func TestDerive_HashedAttributeChangesFingerprint(t *testing.T) {
	attrs := sampleAttrs()
	base := Derive(attrs)

	attrs["timezone"] = "Europe/Berlin"
	changed := Derive(attrs)

	assert.NotEqual(t, base.Hash, changed.Hash)
}

func TestDerive_EmptyBagIsUnverified(t *testing.T) {
	fp := Derive(nil)
	assert.True(t, fp.Unverified)
	assert.Equal(t, "unverified", fp.Hash)

	// Unverified carries no claims, so it validates clean.
	v := Validate(fp)
	assert.True(t, v.OK)
}

func TestValidate_ContradictoryClaims(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]string)
	}{
		{"touch without touch points", func(m map[string]string) {
			m["touch_support"] = "true"
			m["max_touch_points"] = "0"
		}},
		{"mobile without touch", func(m map[string]string) {
			m["platform"] = "iPhone"
			m["touch_support"] = "false"
		}},
		{"implausible concurrency", func(m map[string]string) {
			m["hardware_concurrency"] = "1024"
		}},
		{"renderer without webgl", func(m map[string]string) {
			m["webgl"] = "false"
		}},
		{"implausible color depth", func(m map[string]string) {
			m["color_depth"] = "999"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := sampleAttrs()
			tt.mutate(attrs)
			v := Validate(Derive(attrs))
			assert.False(t, v.OK)
			assert.NotEmpty(t, v.Reasons)
		})
	}
}

func TestValidate_CleanAttrs(t *testing.T) {
	v := Validate(Derive(sampleAttrs()))
	assert.True(t, v.OK)
	assert.Empty(t, v.Reasons)
}

func TestRegistry_AssignIsImmutable(t *testing.T) {
	r := NewRegistry()

	fp, fresh := r.Assign("sess-1", sampleAttrs())
	require.True(t, fresh)

	changed := sampleAttrs()
	changed["timezone"] = "Asia/Tokyo"
	again, fresh := r.Assign("sess-1", changed)
	assert.False(t, fresh)
	assert.Equal(t, fp.Hash, again.Hash, "fingerprint must not change once assigned")
}

func TestRegistry_InvalidateForcesRederive(t *testing.T) {
	r := NewRegistry()

	fp, _ := r.Assign("sess-1", sampleAttrs())
	r.Invalidate("sess-1")

	_, ok := r.Lookup("sess-1")
	assert.False(t, ok)

	changed := sampleAttrs()
	changed["timezone"] = "Asia/Tokyo"
	next, fresh := r.Assign("sess-1", changed)
	assert.True(t, fresh)
	assert.NotEqual(t, fp.Hash, next.Hash)
}
