package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SudoKMaar/CodeSentinel/internal/config"
)

func TestNew_JSON(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("logger constructed")
}

func TestNew_Console(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "debug", Format: "console", Caller: true})
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud", Format: "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}
