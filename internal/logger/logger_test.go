package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	t.Run("valid verbosity level", func(t *testing.T) {
		logger, err := New("info")
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.True(t, logger.Core().Enabled(zap.InfoLevel))
		assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	})

	t.Run("another valid verbosity level", func(t *testing.T) {
		logger, err := New("debug")
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.True(t, logger.Core().Enabled(zap.DebugLevel))
	})

	t.Run("invalid verbosity level", func(t *testing.T) {
		logger, err := New("invalid")
		require.Error(t, err)
		assert.Nil(t, logger)
	})

	t.Run("empty verbosity level", func(t *testing.T) {
		// zap defaults to info level on empty string
		logger, err := New("")
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.True(t, logger.Core().Enabled(zap.InfoLevel))
		assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	})
}

func TestNewWithFile(t *testing.T) {
	t.Run("writes to file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ocland.log")
		logger, err := NewWithFile("info", path)
		require.NoError(t, err)

		logger.Info("daemon started", zap.Int("port", 51000))
		_ = logger.Sync()

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "daemon started")
		assert.Contains(t, string(data), `"port":51000`)
	})

	t.Run("unwritable file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing", "dir", "ocland.log")
		logger, err := NewWithFile("info", path)
		require.Error(t, err)
		assert.Nil(t, logger)
	})

	t.Run("invalid verbosity level", func(t *testing.T) {
		_, err := NewWithFile("loud", "")
		require.Error(t, err)
	})
}
