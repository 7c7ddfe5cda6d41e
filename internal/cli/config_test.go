package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atomic-image-manager/internal/executor"
	"atomic-image-manager/pkg/errx"
)

func envFrom(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestCLIConfigFromEnv(t *testing.T) {
	cfg, err := cliConfigFromEnv(envFrom(map[string]string{
		EnvHistoryFile:      "/tmp/history.json",
		EnvCatalogFile:      "/etc/aim/catalog.yaml",
		EnvIdleTimeout:      "30s",
		EnvMaxDuration:      "2h",
		EnvKillGrace:        "1s",
		EnvPolkitAction:     "org.example.rebase",
		EnvElevationRetries: "5",
		EnvMetricsTextfile:  "/var/lib/node_exporter/aim.prom",
	}))
	require.NoError(t, err)
	assert.Equal(t, CLIConfig{
		HistoryFile:      "/tmp/history.json",
		CatalogFile:      "/etc/aim/catalog.yaml",
		IdleTimeout:      30 * time.Second,
		MaxDuration:      2 * time.Hour,
		KillGrace:        time.Second,
		PolkitAction:     "org.example.rebase",
		ElevationRetries: 5,
		MetricsTextfile:  "/var/lib/node_exporter/aim.prom",
	}, cfg)

	empty, err := cliConfigFromEnv(envFrom(nil))
	require.NoError(t, err)
	assert.Equal(t, CLIConfig{}, empty)
}

func TestCLIConfigFromEnvInvalid(t *testing.T) {
	tests := []struct {
		name, value string
	}{
		{EnvIdleTimeout, "soon"},
		{EnvMaxDuration, "-1m"},
		{EnvKillGrace, "0s"},
		{EnvElevationRetries, "three"},
		{EnvElevationRetries, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name+"="+tt.value, func(t *testing.T) {
			_, err := cliConfigFromEnv(envFrom(map[string]string{tt.name: tt.value}))
			require.ErrorIs(t, err, ErrInvalidConfigValue)
			assert.Equal(t, errx.CodeConfig, errx.CodeOf(err))

			var e *errx.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, tt.name, e.Context()["name"])
		})
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), configFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadCLIConfigFile(t *testing.T) {
	t.Run("missing", func(t *testing.T) {
		cfg, err := loadCLIConfigFile(filepath.Join(t.TempDir(), "none.yaml"))
		require.NoError(t, err)
		assert.Equal(t, CLIConfig{}, cfg)
	})

	t.Run("valid", func(t *testing.T) {
		cfg, err := loadCLIConfigFile(writeConfig(t, "idle_timeout: 90s\nelevation_retries: 2\npolkit_action: org.example.rebase\n"))
		require.NoError(t, err)
		assert.Equal(t, CLIConfig{
			IdleTimeout:      90 * time.Second,
			ElevationRetries: 2,
			PolkitAction:     "org.example.rebase",
		}, cfg)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := loadCLIConfigFile(writeConfig(t, "idle_timeout: [1, 2\n"))
		assert.ErrorIs(t, err, ErrUnmarshalConfigFailed)
	})

	t.Run("negative", func(t *testing.T) {
		_, err := loadCLIConfigFile(writeConfig(t, "kill_grace: -5s\n"))
		assert.ErrorIs(t, err, ErrInvalidConfigValue)
	})
}

func TestResolveCLIConfigPrecedence(t *testing.T) {
	origEnv, origErr := DefaultCLIConfig, defaultCLIConfigErr
	t.Cleanup(func() { DefaultCLIConfig, defaultCLIConfigErr = origEnv, origErr })

	path := writeConfig(t, "history_file: /from/file.json\npolkit_action: org.example.file\nkill_grace: 10s\n")
	DefaultCLIConfig = CLIConfig{HistoryFile: "/from/env.json", ElevationRetries: 5}
	defaultCLIConfigErr = nil

	cfg, err := resolveCLIConfig(&CLIConfig{HistoryFile: "/from/flag.json"}, path)
	require.NoError(t, err)
	assert.Equal(t, "/from/flag.json", cfg.HistoryFile)
	assert.Equal(t, "org.example.file", cfg.PolkitAction)
	assert.Equal(t, 10*time.Second, cfg.KillGrace)
	assert.Equal(t, 5, cfg.ElevationRetries)
	assert.Equal(t, executor.DefaultIdleTimeout, cfg.IdleTimeout)
	assert.Equal(t, executor.DefaultMaxDuration, cfg.MaxDuration)

	cfg, err = resolveCLIConfig(nil, path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env.json", cfg.HistoryFile)

	defaultCLIConfigErr = newWithSentinel(ErrInvalidConfigValue, "bad env")
	_, err = resolveCLIConfig(nil, path)
	assert.ErrorIs(t, err, ErrInvalidConfigValue)
}

func TestResolveCLIConfigDefaults(t *testing.T) {
	origEnv, origErr := DefaultCLIConfig, defaultCLIConfigErr
	t.Cleanup(func() { DefaultCLIConfig, defaultCLIConfigErr = origEnv, origErr })
	DefaultCLIConfig, defaultCLIConfigErr = CLIConfig{}, nil

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := resolveCLIConfig(nil, "")
	require.NoError(t, err)
	assert.Equal(t, builtinCLIConfig(), cfg)
	assert.Equal(t, executor.DefaultPolkitAction, cfg.PolkitAction)
}

func TestConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	path, err := configPath()
	require.NoError(t, err)
	assert.Equal(t, "/xdg/atomic-image-manager/config.yaml", path)
}
