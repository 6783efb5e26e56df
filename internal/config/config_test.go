package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
scanner:
  reap_timeout: 750ms
  max_payload: 1048576
registry:
  paths: [/opt/addons, /usr/local/lib/addons]
  recursive: true
  store_dir: /var/cache/plugscan
introspect:
  mode: goplugin
metrics:
  enabled: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.Equal(t, 750*time.Millisecond, cfg.Scanner.ReapTimeout)
	assert.Equal(t, uint32(1<<20), cfg.Scanner.MaxPayload)
	assert.Equal(t, []string{WorkerCommand}, cfg.Scanner.WorkerArgs)
	assert.Equal(t, []string{"/opt/addons", "/usr/local/lib/addons"}, cfg.Registry.Paths)
	assert.True(t, cfg.Registry.Recursive)
	assert.Equal(t, []string{".so"}, cfg.Registry.Extensions)
	assert.Equal(t, "/var/cache/plugscan", cfg.Registry.StoreDir)
	assert.Equal(t, "goplugin", cfg.Introspect.Mode)
	assert.Equal(t, "PlugscanDescriptor", cfg.Introspect.EntrySymbol)
	assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.Address)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/tmp/cache-home")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "elf", cfg.Introspect.Mode)
	assert.Equal(t, "plugscan_addon_init", cfg.Introspect.EntrySymbol)
	assert.Equal(t, "plugscan_feature_", cfg.Introspect.FeaturePrefix)
	assert.Equal(t, 5*time.Second, cfg.Scanner.ReapTimeout)
	assert.Equal(t, "/tmp/cache-home/plugscan", cfg.Registry.StoreDir)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: INFO\n")
	t.Setenv("PLUGSCAN_LOGGING_LEVEL", "warn")
	t.Setenv("PLUGSCAN_SCANNER_IN_PROCESS", "true")
	t.Setenv("PLUGSCAN_SCANNER_REAP_TIMEOUT", "2s")
	t.Setenv("PLUGSCAN_REGISTRY_PATHS", "/a,/b")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "WARN", cfg.Logging.Level)
	assert.True(t, cfg.Scanner.InProcess)
	assert.Equal(t, 2*time.Second, cfg.Scanner.ReapTimeout)
	assert.Equal(t, []string{"/a", "/b"}, cfg.Registry.Paths)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"level", "logging:\n  level: LOUD\n"},
		{"format", "logging:\n  format: xml\n"},
		{"mode", "introspect:\n  mode: wasm\n"},
		{"address", "metrics:\n  enabled: true\n  address: not an address\n"},
		{"duration", "scanner:\n  reap_timeout: soon\n"},
		{"extension", "registry:\n  extensions: ['']\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "logging: [unclosed\n"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := GetDefaultConfig()
	cfg.Scanner.ReapTimeout = 3 * time.Second
	cfg.Registry.Paths = []string{"/srv/addons"}
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, "/tmp/xdg/plugscan/config.yaml", GetDefaultConfigPath())
}

func TestGetDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, Validate(GetDefaultConfig()))
}
