package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAcceptsKnownLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "WARN", "error"} {
		for _, format := range []string{"console", "json"} {
			log, err := New(level, format)
			require.NoError(t, err, "level=%s format=%s", level, format)
			assert.NotNil(t, log)
		}
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("loud", "console")
	assert.Error(t, err)
}
