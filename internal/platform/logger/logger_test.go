package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/rl1809/warehouse-ledger/internal/platform/config"
)

func TestNew(t *testing.T) {
	log, err := New(config.LoggingConfig{Level: "warn", Format: "json"}, "warehouse-ledger")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))

	log, err = New(config.LoggingConfig{Level: "debug", Format: "console"}, "warehouse-ledger")
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))

	_, err = New(config.LoggingConfig{Level: "loud", Format: "json"}, "warehouse-ledger")
	assert.ErrorContains(t, err, "loud")
}
