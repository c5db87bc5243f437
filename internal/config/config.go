package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/etl"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/keywords"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/ner"
	"github.com/Homelessness-Project/multimodal-peh-dataset/internal/privacy"
)

// EnvPrefix prefixes environment overrides, e.g. DEID_SERVER_PORT
const EnvPrefix = "DEID"

// envKeys can be set from the environment even when the config file does
// not mention them
var envKeys = []string{
	"engine.entity_mode",
	"engine.max_passes",
	"engine.rules_file",
	"recognizer.type",
	"recognizer.http.endpoint",
	"recognizer.onnx.model_path",
	"recognizer.onnx.vocab_path",
	"batch.data_dir",
	"batch.batch_size",
	"batch.worker_count",
	"server.port",
	"cache.enabled",
	"cache.redis_url",
	"store.enabled",
	"store.database_url",
	"logging.level",
	"logging.format",
	"websocket.username",
	"websocket.password",
}

// Loader reads configuration from a YAML file and the environment
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader. An empty path searches the default locations
// for deidentify.yaml.
func NewLoader(configPath string) *Loader {
	v := viper.New()
	v.SetConfigName("deidentify")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/deidentify/")
	v.AddConfigPath("$HOME/.deidentify/")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		// BindEnv only fails without a key
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	return &Loader{v: v}
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// Load reads, decodes and validates the configuration
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return l.decode()
}

// ConfigFile returns the file in use, or "" when running on defaults
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) decode() (*Config, error) {
	config := GetDefaults()
	if err := l.v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	fillDefaults(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// fillDefaults sets list defaults that cannot be merged field by field
func fillDefaults(config *Config) {
	if len(config.Batch.Sources) == 0 {
		config.Batch.Sources = etl.DefaultSources()
	}
	if len(config.Keywords.Terms) == 0 {
		config.Keywords.Terms = keywords.DefaultTerms()
	}
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	mode := privacy.EntityMode(config.Engine.EntityMode)
	if mode != privacy.WholeString && mode != privacy.SpanOnly {
		return fmt.Errorf("invalid entity mode: %s (must be whole_string or span_only)", config.Engine.EntityMode)
	}
	if config.Engine.MaxPasses < 1 {
		return fmt.Errorf("invalid max passes: %d (must be at least 1)", config.Engine.MaxPasses)
	}

	if err := ner.ValidateConfig(config.Recognizer.NER()); err != nil {
		return err
	}

	if config.Batch.BatchSize <= 0 {
		return fmt.Errorf("invalid batch size: %d", config.Batch.BatchSize)
	}
	if config.Batch.WorkerCount <= 0 {
		return fmt.Errorf("invalid worker count: %d", config.Batch.WorkerCount)
	}
	if config.Batch.OutputSuffix == "" {
		return fmt.Errorf("output suffix must not be empty")
	}
	seen := make(map[string]bool)
	for i, s := range config.Batch.Sources {
		if s.Name == "" || s.Path == "" {
			return fmt.Errorf("source %d: name and path are required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate source: %s", s.Name)
		}
		seen[s.Name] = true
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.RateLimit.Enabled && config.Server.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("invalid rate limit: %d requests per minute", config.Server.RateLimit.RequestsPerMinute)
	}

	if config.Cache.Enabled && config.Cache.RedisURL == "" {
		return fmt.Errorf("cache redis_url is required when the cache is enabled")
	}
	if config.Store.Enabled && config.Store.DatabaseURL == "" {
		return fmt.Errorf("store database_url is required when the store is enabled")
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}
	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// Watch reloads the configuration file on change. Valid configurations
// are passed to callback; failures go to onError when it is set.
func (l *Loader) Watch(callback func(*Config), onError func(error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		newConfig, err := l.decode()
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		callback(newConfig)
	})
	l.v.WatchConfig()
}
