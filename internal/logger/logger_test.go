package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func lines(buf *bytes.Buffer) []map[string]any {
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func TestNew(t *testing.T) {
	t.Run("invalid level", func(t *testing.T) {
		_, err := New(Config{Level: "loud"})
		assert.Error(t, err)
	})

	t.Run("json fields", func(t *testing.T) {
		var buf bytes.Buffer
		log, err := New(Config{Level: "info", Format: "json", Output: zapcore.AddSync(&buf)})
		require.NoError(t, err)

		log.WithComponent("etl").WithRequestID("req-1").Info("hello", zap.Int("rows", 3))
		log.Debug("hidden")
		require.NoError(t, log.Sync())

		entries := lines(&buf)
		require.Len(t, entries, 1)
		assert.Equal(t, "hello", entries[0]["msg"])
		assert.Equal(t, "etl", entries[0]["component"])
		assert.Equal(t, "req-1", entries[0]["request_id"])
		assert.Contains(t, entries[0], "timestamp")
	})

	t.Run("file output", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "deid.log")
		var buf bytes.Buffer
		log, err := New(Config{
			Level:  "info",
			Format: "console",
			Output: zapcore.AddSync(&buf),
			File:   &FileConfig{Enabled: true, Path: path},
		})
		require.NoError(t, err)

		log.Info("to file")
		require.NoError(t, log.Sync())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"msg":"to file"`)
		assert.Contains(t, buf.String(), "to file")
	})
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "warn", Format: "json", Output: zapcore.AddSync(&buf)})
	require.NoError(t, err)
	child := log.WithComponent("server")

	child.Info("before")
	require.NoError(t, log.SetLevel("debug"))
	assert.Equal(t, zapcore.DebugLevel, log.Level())
	child.Debug("after")

	entries := lines(&buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "after", entries[0]["msg"])

	assert.Error(t, log.SetLevel("nope"))
}
