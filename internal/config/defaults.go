package config

import (
	"strings"

	"github.com/snowmerak/plugscan/lib/introspect"
	"github.com/snowmerak/plugscan/lib/multiplexer"
	"github.com/snowmerak/plugscan/lib/plugin"
	"github.com/snowmerak/plugscan/lib/registry"
)

// WorkerCommand is the hidden subcommand that turns plugscan into a worker.
const WorkerCommand = "worker"

// ApplyDefaults replaces zero values with defaults and normalizes the rest.
// Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyScannerDefaults(&cfg.Scanner)
	applyRegistryDefaults(&cfg.Registry)
	applyIntrospectDefaults(&cfg.Introspect)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Level == "WARNING" {
		cfg.Level = "WARN"
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	cfg.Format = strings.ToLower(cfg.Format)
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyScannerDefaults(cfg *ScannerConfig) {
	if cfg.Worker == "" && len(cfg.WorkerArgs) == 0 {
		cfg.WorkerArgs = []string{WorkerCommand}
	}
	if cfg.ReapTimeout == 0 {
		cfg.ReapTimeout = plugin.DefaultReapTimeout
	}
	if cfg.MaxPayload == 0 {
		cfg.MaxPayload = multiplexer.DefaultMaxPayload
	}
}

func applyRegistryDefaults(cfg *RegistryConfig) {
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = append([]string(nil), registry.DefaultExtensions...)
	}
	if cfg.StoreDir == "" {
		cfg.StoreDir = GetDefaultStoreDir()
	}
}

func applyIntrospectDefaults(cfg *IntrospectConfig) {
	if cfg.Mode == "" {
		cfg.Mode = introspect.ModeELF
	}
	cfg.Mode = strings.ToLower(cfg.Mode)
	if cfg.Mode == introspect.ModeELF {
		if cfg.EntrySymbol == "" {
			cfg.EntrySymbol = introspect.DefaultEntrySymbol
		}
		if cfg.FeaturePrefix == "" {
			cfg.FeaturePrefix = introspect.DefaultFeaturePrefix
		}
	}
	if cfg.Mode == introspect.ModeGoPlugin && cfg.EntrySymbol == "" {
		cfg.EntrySymbol = introspect.DefaultGoSymbol
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Address == "" {
		cfg.Address = "127.0.0.1:9464"
	}
}

// GetDefaultConfig returns a Config with every default applied. It is the
// content written by "plugscan config init".
func GetDefaultConfig() *Config {
	cfg := &Config{
		Registry: RegistryConfig{Paths: []string{"/usr/lib/plugscan"}},
	}
	ApplyDefaults(cfg)
	return cfg
}

// IntrospectOptions converts the introspect section for introspect.New.
func (c IntrospectConfig) IntrospectOptions() introspect.Options {
	return introspect.Options{EntrySymbol: c.EntrySymbol, FeaturePrefix: c.FeaturePrefix}
}
