package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/etl"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/keywords"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/privacy"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deidentify.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestGetDefaults(t *testing.T) {
	cfg := GetDefaults()
	fillDefaults(cfg)

	require.NoError(t, validateConfig(cfg))
	assert.Equal(t, "whole_string", cfg.Engine.EntityMode)
	assert.Equal(t, 3, cfg.Engine.MaxPasses)
	assert.Equal(t, "prose", cfg.Recognizer.Type)
	assert.Equal(t, 1000, cfg.Batch.BatchSize)
	assert.Equal(t, etl.DefaultSources(), cfg.Batch.Sources)
	assert.Equal(t, keywords.DefaultTerms(), cfg.Keywords.Terms)
	assert.False(t, cfg.Cache.Enabled)
	assert.False(t, cfg.Store.Enabled)
	assert.Equal(t, privacy.DefaultOptions(), cfg.Engine.Options())
}

func TestLoad(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	t.Run("defaults without a file", func(t *testing.T) {
		loader := NewLoader("")
		cfg, err := loader.Load()
		require.NoError(t, err)
		assert.Empty(t, loader.ConfigFile())
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Len(t, cfg.Batch.Sources, 4)
	})

	t.Run("file values", func(t *testing.T) {
		path := writeConfig(t, `
engine:
  entity_mode: span_only
  max_passes: 2
recognizer:
  type: gazetteer
  gazetteer:
    terms:
      PERSON: ["Jane Doe"]
batch:
  batch_size: 50
  worker_count: 2
  data_dir: /srv/data
  sources:
    - name: reddit
      path: "{city}/reddit/comments.csv"
      columns: ["Comment"]
keywords:
  terms: ["homeless", "unhoused"]
  whole_word: true
server:
  port: 9000
  read_timeout: 5s
cache:
  enabled: true
  default_ttl: 1h
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, privacy.SpanOnly, cfg.Engine.Options().Mode)
		assert.Equal(t, 2, cfg.Engine.MaxPasses)
		assert.Equal(t, "gazetteer", cfg.Recognizer.Type)
		// viper lowercases map keys; labels are matched case-insensitively
		assert.Equal(t, []string{"Jane Doe"}, cfg.Recognizer.NER().Gazetteer.Terms["person"])
		assert.Equal(t, 50, cfg.Batch.BatchSize)
		assert.Equal(t, 2, cfg.Batch.WorkerCount)
		assert.Equal(t, 10000, cfg.Batch.ProgressReport)
		assert.Equal(t, "/srv/data", cfg.Batch.DataDir)
		require.Len(t, cfg.Batch.Sources, 1)
		assert.Equal(t, []string{"Comment"}, cfg.Batch.Sources[0].Columns)
		assert.Equal(t, []string{"homeless", "unhoused"}, cfg.Keywords.Terms)
		assert.True(t, cfg.Keywords.WholeWord)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)
		assert.True(t, cfg.Cache.Enabled)
		assert.Equal(t, time.Hour, cfg.Cache.DefaultTTL)
		assert.Equal(t, "deid:", cfg.Cache.KeyPrefix)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("DEID_SERVER_PORT", "9090")
		t.Setenv("DEID_LOGGING_LEVEL", "debug")
		t.Setenv("DEID_STORE_DATABASE_URL", "postgres://u:p@db/deid")

		cfg, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "postgres://u:p@db/deid", cfg.Store.DatabaseURL)
	})

	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestValidateConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"entity mode", "engine:\n  entity_mode: fuzzy\n", "invalid entity mode"},
		{"max passes", "engine:\n  max_passes: -1\n", "invalid max passes"},
		{"recognizer", "recognizer:\n  type: spacy\n", "invalid recognizer type"},
		{"http endpoint", "recognizer:\n  type: http\n", "endpoint is required"},
		{"batch size", "batch:\n  batch_size: -5\n", "invalid batch size"},
		{"duplicate source", "batch:\n  sources:\n    - {name: x, path: a.csv}\n    - {name: x, path: b.csv}\n", "duplicate source"},
		{"source path", "batch:\n  sources:\n    - {name: x}\n", "name and path are required"},
		{"port", "server:\n  port: 70000\n", "invalid server port"},
		{"log level", "logging:\n  level: verbose\n", "invalid log level"},
		{"log format", "logging:\n  format: xml\n", "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWatch(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")
	loader := NewLoader(path)
	_, err := loader.Load()
	require.NoError(t, err)

	reloaded := make(chan *Config, 4)
	failed := make(chan error, 4)
	loader.Watch(func(c *Config) { reloaded <- c }, func(err error) { failed <- err })

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644))

	// a write can surface as several events, the first seeing a truncated file
	timeout := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-reloaded:
			if cfg.Logging.Level == "debug" {
				return
			}
		case <-failed:
		case <-timeout:
			t.Fatal("no reload")
		}
	}
}
