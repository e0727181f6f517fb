package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewHonoursLevel(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := New("warn", format)
		require.NoError(t, err)
		assert.False(t, logger.Core().Enabled(zapcore.InfoLevel), format)
		assert.True(t, logger.Core().Enabled(zapcore.WarnLevel), format)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("chatty", "json")
	assert.Error(t, err)
}
