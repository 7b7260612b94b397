package logger_test

import (
	"os"
	"path/filepath"
	"testing"

	"candlealert/config"
	"candlealert/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// go test -v --run TestNewRejectsUnknownLevel
func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := logger.New(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

// go test -v --run TestNewWritesRotatedFile
func TestNewWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "app.log")

	log, err := logger.New(config.LogConfig{
		Level:       "debug",
		Format:      "json",
		OutputFile:  path,
		Environment: "prod",
	})
	require.NoError(t, err)

	log.Info("candle stored")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "candle stored")
	assert.Contains(t, string(data), `"env":"prod"`)
}
