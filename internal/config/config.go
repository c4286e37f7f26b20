package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/acme-corp/seed-loader/internal/loader"
	"github.com/acme-corp/seed-loader/internal/storage"
)

// EnvPrefix prefixes environment overrides, e.g. SEEDER_TABLE_NAME.
const EnvPrefix = "SEEDER"

// Config holds all configuration for a seeding run.
type Config struct {
	Table       TableConfig   `mapstructure:"table"`
	Sources     []string      `mapstructure:"sources"`
	BaseDir     string        `mapstructure:"base_dir"`
	ChunkSize   int           `mapstructure:"chunk_size"`
	Concurrency int           `mapstructure:"concurrency"`
	Retry       RetryConfig   `mapstructure:"retry"`
	AWS         AWSConfig     `mapstructure:"aws"`
	Log         LogConfig     `mapstructure:"log"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
	Output      OutputConfig  `mapstructure:"output"`
}

// TableConfig names the destination table.
type TableConfig struct {
	Name          string   `mapstructure:"name"`
	KeyAttributes []string `mapstructure:"key_attributes"`
}

// RetryConfig controls the wait schedule while the table is not ready.
type RetryConfig struct {
	Increment time.Duration `mapstructure:"increment"`
	Ceiling   time.Duration `mapstructure:"ceiling"`
}

// AWSConfig selects region, endpoint and optional static credentials.
type AWSConfig struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	MaxAttempts     int    `mapstructure:"max_attempts"`
}

type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the /metrics endpoint
}

// OutputConfig, when Path is set, redirects writes to an NDJSON file.
type OutputConfig struct {
	Path string `mapstructure:"path"`
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("table.name", "")
	v.SetDefault("table.key_attributes", []string{})
	v.SetDefault("sources", []string{})
	v.SetDefault("base_dir", "")
	v.SetDefault("chunk_size", storage.MaxChunk)
	v.SetDefault("concurrency", 0) // all sources at once

	v.SetDefault("retry.increment", storage.DefaultRetryIncrement)
	v.SetDefault("retry.ceiling", storage.DefaultRetryCeiling)

	v.SetDefault("aws.region", "")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("aws.session_token", "")
	v.SetDefault("aws.max_attempts", 0)

	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("output.path", "")
}

// New returns a Viper instance with defaults and SEEDER_* environment
// overrides wired up.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads the optional config file at path into v, then decodes and
// validates the merged configuration.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Table.Name == "" && c.Output.Path == "" {
		return errors.New("table.name is required unless output.path is set")
	}
	if c.ChunkSize <= 0 || c.ChunkSize > storage.MaxChunk {
		return errors.Errorf("chunk_size must be between 1 and %d", storage.MaxChunk)
	}
	if c.Concurrency < 0 {
		return errors.New("concurrency must not be negative")
	}
	if c.Retry.Increment <= 0 {
		return errors.New("retry.increment must be positive")
	}
	if c.Retry.Ceiling < 0 {
		return errors.New("retry.ceiling must not be negative")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	return nil
}

// RetryPolicy converts the retry section for the batch writer.
func (c *Config) RetryPolicy() storage.RetryPolicy {
	return storage.RetryPolicy{Increment: c.Retry.Increment, Ceiling: c.Retry.Ceiling}
}

// AWSOptions converts the aws section for the DynamoDB client.
func (c *Config) AWSOptions() storage.AWSOptions {
	return storage.AWSOptions{
		Region:          c.AWS.Region,
		Endpoint:        c.AWS.Endpoint,
		AccessKeyID:     c.AWS.AccessKeyID,
		SecretAccessKey: c.AWS.SecretAccessKey,
		SessionToken:    c.AWS.SessionToken,
		MaxAttempts:     c.AWS.MaxAttempts,
	}
}

// LoaderOptions converts the run settings for the loader.
func (c *Config) LoaderOptions() loader.Options {
	return loader.Options{
		ChunkSize:     c.ChunkSize,
		Concurrency:   c.Concurrency,
		KeyAttributes: c.Table.KeyAttributes,
	}
}
