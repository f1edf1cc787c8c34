package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		log, err := NewLogger(level, true)
		require.NoError(t, err)
		require.NotNil(t, log)
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger("verbose", false)
	require.Error(t, err)
}

func TestWithComponent(t *testing.T) {
	log, err := NewLogger("info", true)
	require.NoError(t, err)

	child := log.WithComponent("scanner")
	require.NotNil(t, child)
	require.NotSame(t, log, child)
}

func TestGetDefaultLogger(t *testing.T) {
	log := GetDefaultLogger()
	require.NotNil(t, log)
	require.Same(t, log, GetDefaultLogger())
}
