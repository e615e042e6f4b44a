package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	units "github.com/docker/go-units"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// FileName is the name of the config file inside both the user config
// directory and a repository's metadata directory.
const FileName = "config.yaml"

type Config struct {
	User        UserConfig        `mapstructure:"user" yaml:"user,omitempty"`
	LogLevel    string            `mapstructure:"log_level" yaml:"log_level,omitempty"` // debug, info, warn, error
	Store       StoreConfig       `mapstructure:"store" yaml:"store,omitempty"`
	Snapshot    SnapshotConfig    `mapstructure:"snapshot" yaml:"snapshot,omitempty"`
	Transaction TransactionConfig `mapstructure:"transaction" yaml:"transaction,omitempty"`
	UI          UIConfig          `mapstructure:"ui" yaml:"ui,omitempty"`
}

type UserConfig struct {
	Name  string `mapstructure:"name" yaml:"name,omitempty"`
	Email string `mapstructure:"email" yaml:"email,omitempty"`
}

type StoreConfig struct {
	CacheEntries     int    `mapstructure:"cache_entries" yaml:"cache_entries,omitempty"`
	CompressMinSize  string `mapstructure:"compress_min_size" yaml:"compress_min_size,omitempty"`
	CompressionLevel int    `mapstructure:"compression_level" yaml:"compression_level,omitempty"`
}

type SnapshotConfig struct {
	MaxFileSize string `mapstructure:"max_file_size" yaml:"max_file_size,omitempty"`
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency,omitempty"`
}

type TransactionConfig struct {
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries,omitempty"`
}

type UIConfig struct {
	Color string `mapstructure:"color" yaml:"color,omitempty"` // auto, always, never
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("user.name", "")
	v.SetDefault("user.email", "")
	v.SetDefault("log_level", "warn")
	v.SetDefault("store.cache_entries", 4096)
	v.SetDefault("store.compress_min_size", "1KiB")
	v.SetDefault("store.compression_level", 2)
	v.SetDefault("snapshot.max_file_size", "1MiB")
	v.SetDefault("snapshot.concurrency", 8)
	v.SetDefault("transaction.max_retries", 3)
	v.SetDefault("ui.color", "auto")
}

// Default returns the configuration used when no file or environment
// variable overrides anything.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// UserConfigPath returns $HOME/.config/strand/config.yaml, or "" when the
// home directory cannot be determined.
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "strand", FileName)
}

// Load layers defaults, the user config, the repository config and STRAND_*
// environment variables, in that order. Missing files are skipped.
func Load(fs afero.Fs, paths ...string) (*Config, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigType("yaml")
	setDefaults(v)

	for _, path := range paths {
		if path == "" {
			continue
		}
		exists, err := afero.Exists(fs, path)
		if err != nil {
			return nil, fmt.Errorf("checking config file %s: %w", path, err)
		}
		if !exists {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("STRAND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Write serializes cfg as YAML at path.
func Write(fs afero.Fs, path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if _, err := c.MaxFileSize(); err != nil {
		return err
	}
	if _, err := c.CompressMinSize(); err != nil {
		return err
	}
	if c.Store.CacheEntries <= 0 {
		return fmt.Errorf("store.cache_entries must be positive, got %d", c.Store.CacheEntries)
	}
	if c.Store.CompressionLevel < 1 || c.Store.CompressionLevel > 4 {
		return fmt.Errorf("store.compression_level must be between 1 and 4, got %d", c.Store.CompressionLevel)
	}
	if c.Snapshot.Concurrency <= 0 {
		return fmt.Errorf("snapshot.concurrency must be positive, got %d", c.Snapshot.Concurrency)
	}
	if c.Transaction.MaxRetries < 0 {
		return fmt.Errorf("transaction.max_retries cannot be negative")
	}
	switch c.UI.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("ui.color must be one of auto, always, never; got %q", c.UI.Color)
	}
	return nil
}

// MaxFileSize is the largest new file the snapshotter will add.
func (c *Config) MaxFileSize() (int64, error) {
	n, err := units.RAMInBytes(c.Snapshot.MaxFileSize)
	if err != nil {
		return 0, fmt.Errorf("snapshot.max_file_size: %w", err)
	}
	return n, nil
}

func (c *Config) CompressMinSize() (int, error) {
	n, err := units.RAMInBytes(c.Store.CompressMinSize)
	if err != nil {
		return 0, fmt.Errorf("store.compress_min_size: %w", err)
	}
	return int(n), nil
}
