package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Defaults(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty storage dir", func(c *Config) { c.Storage.Dir = "" }, "storage.dir"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad depth", func(c *Config) { c.Analysis.Depth = "exhaustive" }, "depth"},
		{"zero concurrency", func(c *Config) { c.Analysis.Concurrency = 0 }, "concurrency"},
		{"zero checkpoint every", func(c *Config) { c.Analysis.CheckpointEvery = 0 }, "checkpoint_every"},
		{"negative threshold", func(c *Config) { c.Analysis.FailureThreshold = -0.1 }, "failure_threshold"},
		{"base ref without head ref", func(c *Config) { c.Analysis.BaseRef = "origin/main" }, "base_ref"},
		{"telemetry without endpoint", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Endpoint = ""
		}, "telemetry.endpoint"},
		{"llm review without model", func(c *Config) {
			c.Review.UseLLM = true
			c.Review.Model = ""
		}, "review.model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDuration_RoundTrip(t *testing.T) {
	d := Duration(90 * time.Second)

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))

	var back Duration
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, d, back)
}

func TestDuration_RejectsNegative(t *testing.T) {
	var d Duration
	err := d.UnmarshalText([]byte("-5s"))
	assert.Error(t, err)
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-super-secret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "sk-super-secret", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(data))

	var empty Secret
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}
