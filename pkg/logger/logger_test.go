package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInit_RejectsUnknownLevel(t *testing.T) {
	err := Init("loud", "json", "stdout")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestInit_RejectsUnknownFormat(t *testing.T) {
	err := Init("info", "xml", "stdout")
	require.Error(t, err)
}

func TestInit_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	prev := Log
	t.Cleanup(func() { Log = prev })

	require.NoError(t, Init("debug", "json", path))
	Info("policy corpus loaded", zap.Int("records", 3))
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"policy corpus loaded"`)
	assert.Contains(t, string(data), `"records":3`)
}

func TestNamed_WorksBeforeInit(t *testing.T) {
	prev := Log
	t.Cleanup(func() { Log = prev })
	Log = zap.NewNop()

	assert.NotPanics(t, func() {
		Named("schema").Info("no-op")
	})
}
