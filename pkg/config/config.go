// Package config loads the JSON configuration file shared by all commands.
//
// The file has a "database" and an "auth" section (both required) plus
// optional "collector", "checkpoint" and "logging" sections. Every scalar key
// can be overridden from the environment with the SONET_ prefix, for example
// SONET_DATABASE_ADDRESS or SONET_COLLECTOR_BACKOFF=5m.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Sternrassler/sonet/pkg/collector"
	"github.com/Sternrassler/sonet/pkg/credentials"
	"github.com/Sternrassler/sonet/pkg/logging"
	"github.com/Sternrassler/sonet/pkg/search"
	"github.com/Sternrassler/sonet/pkg/store"
)

// ErrInvalid is wrapped by every configuration error.
var ErrInvalid = errors.New("invalid configuration")

// DefaultPath is used when no --config flag is given.
const DefaultPath = "config/config.json"

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "SONET"

// Config is the complete configuration.
type Config struct {
	Database   store.DatabaseConfig     `mapstructure:"database"`
	Auth       []credentials.Credential `mapstructure:"auth"`
	Collector  CollectorConfig          `mapstructure:"collector"`
	Checkpoint CheckpointConfig         `mapstructure:"checkpoint"`
	Logging    LoggingConfig            `mapstructure:"logging"`
}

// CollectorConfig tunes the collect loop.
type CollectorConfig struct {
	PageSize     int           `mapstructure:"page_size"`
	Backoff      time.Duration `mapstructure:"backoff"`
	MaxBackoffs  int           `mapstructure:"max_backoffs"`
	Resume       bool          `mapstructure:"resume"`
	WaitForReset bool          `mapstructure:"wait_for_reset"`
}

// CheckpointConfig locates the Redis checkpoint store.
// An empty Address keeps checkpoints in memory.
type CheckpointConfig struct {
	Address string        `mapstructure:"address"`
	DB      int           `mapstructure:"db"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// LoggingConfig selects the log level and format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

var defaults = map[string]any{
	"database.address":         "",
	"database.port":            store.DefaultPort,
	"database.name":            store.DefaultDatabase,
	"database.collection":      store.DefaultCollection,
	"collector.page_size":      search.MaxPageSize,
	"collector.backoff":        "16m",
	"collector.max_backoffs":   0,
	"collector.resume":         false,
	"collector.wait_for_reset": false,
	"checkpoint.address":       "",
	"checkpoint.db":            0,
	"checkpoint.ttl":           "24h",
	"logging.level":            string(logging.LevelInfo),
	"logging.pretty":           false,
}

// Load reads the configuration at path. A non-empty authPath names a second
// file whose "auth" section replaces the one in path.
func Load(path, authPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrInvalid, path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrInvalid, path, err)
	}

	if authPath != "" {
		auth, err := loadAuth(authPath)
		if err != nil {
			return nil, err
		}
		cfg.Auth = auth
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("json")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func loadAuth(path string) ([]credentials.Credential, error) {
	v := viper.New()
	v.SetConfigType("json")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: read auth file %s: %w", ErrInvalid, path, err)
	}

	var file struct {
		Auth []credentials.Credential `mapstructure:"auth"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("%w: decode auth file %s: %w", ErrInvalid, path, err)
	}
	if !v.IsSet("auth") {
		return nil, fmt.Errorf("%w: auth file %s has no auth section", ErrInvalid, path)
	}
	return file.Auth, nil
}

// Validate checks every section. Credential errors also match
// credentials.ErrEmptyPool or credentials.ErrMissingSecret.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if len(c.Auth) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, credentials.ErrEmptyPool)
	}
	for i, cred := range c.Auth {
		if err := cred.Validate(); err != nil {
			var ce *credentials.CredentialError
			if errors.As(err, &ce) {
				ce.Index = i
			}
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	if p := c.Collector.PageSize; p <= 0 || p > search.MaxPageSize {
		return fmt.Errorf("%w: collector.page_size must be in 1..%d (got %d)", ErrInvalid, search.MaxPageSize, p)
	}
	if c.Collector.Backoff < 0 {
		return fmt.Errorf("%w: collector.backoff must be >= 0 (got %s)", ErrInvalid, c.Collector.Backoff)
	}
	if c.Collector.MaxBackoffs < 0 {
		return fmt.Errorf("%w: collector.max_backoffs must be >= 0 (got %d)", ErrInvalid, c.Collector.MaxBackoffs)
	}
	if c.Checkpoint.TTL < 0 {
		return fmt.Errorf("%w: checkpoint.ttl must be >= 0 (got %s)", ErrInvalid, c.Checkpoint.TTL)
	}
	if err := logging.ValidateLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// CollectorSettings returns the collector configuration without its
// Tracker and Checkpoints, which the caller wires in.
func (c *Config) CollectorSettings() collector.Config {
	cfg := collector.DefaultConfig()
	cfg.PageSize = c.Collector.PageSize
	cfg.Backoff = c.Collector.Backoff
	cfg.MaxBackoffs = c.Collector.MaxBackoffs
	cfg.Resume = c.Collector.Resume
	cfg.WaitForReset = c.Collector.WaitForReset
	return cfg
}

// LoggingSettings returns the logger configuration.
func (c *Config) LoggingSettings() logging.Config {
	cfg := logging.DefaultConfig()
	if c.Logging.Level != "" {
		cfg.Level = logging.LogLevel(strings.ToLower(c.Logging.Level))
	}
	cfg.Pretty = c.Logging.Pretty
	return cfg
}
