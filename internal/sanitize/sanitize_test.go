package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "session1", "session1"},
		{"uppercase", "Session-One", "session-one"},
		{"spaces", "My Session!", "my_session"},
		{"path traversal", "../../etc/passwd", "etc_passwd"},
		{"slashes", "a/b/c", "a_b_c"},
		{"empty", "", "default"},
		{"only invalid", "!!!", "default"},
		{"collapses underscores", "a___b", "a_b"},
		{"preserves hyphen and underscore", "run_2024-01", "run_2024-01"},
		{"uuid passthrough", "b3b02bb8-6f14-4f6e-9a0e-6f2f9d6f1a2b", "b3b02bb8-6f14-4f6e-9a0e-6f2f9d6f1a2b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(tt.input))
		})
	}
}

func TestKey_Truncation(t *testing.T) {
	long := strings.Repeat("a", 200)
	got := Key(long)

	assert.LessOrEqual(t, len(got), MaxKeyLength)
	assert.Contains(t, got, "_")

	// Distinct long inputs must stay distinct.
	other := Key(strings.Repeat("a", 200) + "b")
	assert.NotEqual(t, got, other)
}

func TestKey_Deterministic(t *testing.T) {
	assert.Equal(t, Key("Some ID"), Key("Some ID"))
}
