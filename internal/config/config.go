// Package config loads CLI settings from flags, OBJSTORE_* environment
// variables and an optional config file, in that order of precedence.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/yuya-takeyama/strict-object-store/pkg/objectstore"
	"github.com/yuya-takeyama/strict-object-store/pkg/storeurl"
)

const (
	DefaultEnvPrefix = "OBJSTORE"

	DefaultStore       = "."
	DefaultConcurrency = 32
	DefaultOutput      = "text"
	DefaultLogLevel    = "warn"
	DefaultTimeout     = 0
)

// Config holds every setting the CLI understands.
type Config struct {
	Store       string        `json:"store,omitempty"        mapstructure:"store"`
	Region      string        `json:"region,omitempty"       mapstructure:"region"`
	Profile     string        `json:"profile,omitempty"      mapstructure:"profile"`
	Endpoint    string        `json:"endpoint,omitempty"     mapstructure:"endpoint"`
	PathStyle   bool          `json:"path_style,omitempty"   mapstructure:"path_style"`
	ChunkSize   int           `json:"chunk_size,omitempty"   mapstructure:"chunk_size"`
	Concurrency int           `json:"concurrency,omitempty"  mapstructure:"concurrency"`
	RateLimit   float64       `json:"rate_limit,omitempty"   mapstructure:"rate_limit"`
	Timeout     time.Duration `json:"timeout,omitempty"      mapstructure:"timeout"`
	Exclude     []string      `json:"exclude,omitempty"      mapstructure:"exclude"`
	LogLevel    string        `json:"log_level,omitempty"    mapstructure:"log_level"`
	Output      string        `json:"output,omitempty"       mapstructure:"output"`
	MetricsFile string        `json:"metrics_file,omitempty" mapstructure:"metrics_file"`
	Trace       TraceConfig   `json:"trace"                  mapstructure:"trace"`
}

// TraceConfig configures OTLP export. An empty endpoint disables tracing.
type TraceConfig struct {
	Endpoint    string  `json:"endpoint,omitempty"     mapstructure:"endpoint"`
	SampleRatio float64 `json:"sample_ratio,omitempty" mapstructure:"sample_ratio"`
}

var defaults = map[string]any{
	"store":              DefaultStore,
	"region":             "",
	"profile":            "",
	"endpoint":           "",
	"path_style":         false,
	"chunk_size":         objectstore.DefaultChunkSize,
	"concurrency":        DefaultConcurrency,
	"rate_limit":         0.0,
	"timeout":            DefaultTimeout,
	"exclude":            []string{},
	"log_level":          DefaultLogLevel,
	"output":             DefaultOutput,
	"metrics_file":       "",
	"trace.endpoint":     "",
	"trace.sample_ratio": 1.0,
}

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"store":              "store",
	"region":             "region",
	"profile":            "profile",
	"endpoint":           "endpoint",
	"path-style":         "path_style",
	"chunk-size":         "chunk_size",
	"concurrency":        "concurrency",
	"rate-limit":         "rate_limit",
	"timeout":            "timeout",
	"log-level":          "log_level",
	"output":             "output",
	"metrics-file":       "metrics_file",
	"trace-endpoint":     "trace.endpoint",
	"trace-sample-ratio": "trace.sample_ratio",
}

// Load merges defaults, configFile (if not empty), the environment and any
// flags in fs that were set explicitly.
func Load(fs *pflag.FlagSet, configFile string) (*Config, error) {
	v := viper.NewWithOptions(
		viper.KeyDelimiter("."),
		viper.EnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")),
	)

	v.SetEnvPrefix(DefaultEnvPrefix)
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	for key, value := range defaults {
		_ = v.BindEnv(key)
		v.SetDefault(key, value)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	// Load configuration into struct
	decodeHooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	config := &Config{}
	if err := v.Unmarshal(config, viper.DecodeHook(decodeHooks)); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects settings the CLI cannot act on.
func (c *Config) Validate() error {
	switch c.Output {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("invalid output format %q (want text, json or yaml)", c.Output)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative, got %g", c.RateLimit)
	}
	if c.Trace.SampleRatio < 0 || c.Trace.SampleRatio > 1 {
		return fmt.Errorf("trace sample ratio must be within [0, 1], got %g", c.Trace.SampleRatio)
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// StoreURLOptions returns the backend settings for storeurl.Open.
func (c *Config) StoreURLOptions(storeOpts ...objectstore.Option) storeurl.Options {
	return storeurl.Options{
		Region:       c.Region,
		Profile:      c.Profile,
		Endpoint:     c.Endpoint,
		PathStyle:    c.PathStyle,
		Excludes:     c.Exclude,
		StoreOptions: append([]objectstore.Option{objectstore.WithDefaultChunkSize(c.ChunkSize)}, storeOpts...),
	}
}
