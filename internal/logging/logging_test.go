package logging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mickamy/rockscope/internal/config"
	"github.com/mickamy/rockscope/internal/logging"
)

func TestNewHonorsLevel(t *testing.T) {
	t.Parallel()

	for _, enc := range []string{"console", "json", ""} {
		logger, err := logging.New(config.LogConfig{Level: "warn", Encoding: enc})
		require.NoError(t, err, enc)
		assert.False(t, logger.Core().Enabled(zap.InfoLevel), enc)
		assert.True(t, logger.Core().Enabled(zap.WarnLevel), enc)
	}
}

func TestNewDefaultConfig(t *testing.T) {
	t.Parallel()

	logger, err := logging.New(config.Default().Log)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
}

func TestNewRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := logging.New(config.LogConfig{Level: "loud", Encoding: "json"})
	assert.Error(t, err)

	_, err = logging.New(config.LogConfig{Level: "info", Encoding: "xml"})
	assert.Error(t, err)
}
