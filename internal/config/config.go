// Package config loads the plugscan configuration from file, environment
// and defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// PLUGSCAN_LOGGING_LEVEL=DEBUG.
const EnvPrefix = "PLUGSCAN"

// Config represents the plugscan configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (PLUGSCAN_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Scanner    ScannerConfig    `mapstructure:"scanner" yaml:"scanner"`
	Registry   RegistryConfig   `mapstructure:"registry" yaml:"registry"`
	Introspect IntrospectConfig `mapstructure:"introspect" yaml:"introspect"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR (normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR" yaml:"level"`

	// Format is text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ScannerConfig configures the worker sessions.
type ScannerConfig struct {
	// Worker is the worker executable. Empty means the running plugscan
	// binary started with WorkerArgs.
	Worker string `mapstructure:"worker" yaml:"worker,omitempty"`

	// WorkerArgs are passed to Worker.
	WorkerArgs []string `mapstructure:"worker_args" yaml:"worker_args"`

	// InProcess serves scans from a goroutine instead of a child process.
	// A crashing addon then takes plugscan down with it.
	InProcess bool `mapstructure:"in_process" yaml:"in_process"`

	// ReapTimeout bounds the wait for the worker to exit before it is killed.
	ReapTimeout time.Duration `mapstructure:"reap_timeout" validate:"gt=0" yaml:"reap_timeout"`

	// MaxPayload bounds one message payload in bytes.
	MaxPayload uint32 `mapstructure:"max_payload" validate:"gt=0" yaml:"max_payload"`
}

// RegistryConfig describes what to scan and where the catalog lives.
type RegistryConfig struct {
	// Paths are the directories or files scanned when none are given on
	// the command line.
	Paths []string `mapstructure:"paths" yaml:"paths"`

	Recursive bool `mapstructure:"recursive" yaml:"recursive"`

	// Extensions filters addon files by suffix.
	Extensions []string `mapstructure:"extensions" validate:"dive,required" yaml:"extensions"`

	// StoreDir holds the badger catalog. Empty keeps the catalog in memory.
	StoreDir string `mapstructure:"store_dir" yaml:"store_dir"`
}

// IntrospectConfig selects how the worker reads addon metadata.
type IntrospectConfig struct {
	Mode          string `mapstructure:"mode" validate:"required,oneof=elf goplugin" yaml:"mode"`
	EntrySymbol   string `mapstructure:"entry_symbol" yaml:"entry_symbol"`
	FeaturePrefix string `mapstructure:"feature_prefix" yaml:"feature_prefix"`
}

// MetricsConfig configures the Prometheus endpoint of the watch command.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Address is the listen address of /metrics.
	Address string `mapstructure:"address" validate:"omitempty,hostname_port" yaml:"address"`
}

// Load loads configuration from file, environment, and defaults. An empty
// configPath uses the default location; a missing file yields the defaults
// with environment overrides applied.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks cfg against its validation tags.
func Validate(cfg *Config) error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(cfg)
}

// SaveConfig writes cfg as YAML to path, creating parent directories.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v, reflect.TypeOf(Config{}), "")

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// bindEnv registers every leaf key so AutomaticEnv overrides reach
// Unmarshal even when the key is absent from the config file.
func bindEnv(v *viper.Viper, t reflect.Type, prefix string) {
	for i := range t.NumField() {
		f := t.Field(i)
		key := f.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(time.Duration(0)) {
			bindEnv(v, f.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

func readConfigFile(v *viper.Viper) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to read config file: %w", err)
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationDecodeHook converts strings like "30s" and raw nanosecond
// numbers to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/plugscan, ~/.config/plugscan, or
// the current directory as a last resort.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "plugscan")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "plugscan")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// GetDefaultStoreDir returns the default catalog directory,
// $XDG_CACHE_HOME/plugscan or ~/.cache/plugscan.
func GetDefaultStoreDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "plugscan")
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "plugscan")
	}
	return ""
}
