package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"atomic-image-manager/internal/executor"
	"atomic-image-manager/internal/history"
)

const (
	configDirName  = "atomic-image-manager"
	configFileName = "config.yaml"
)

// Environment variables read at startup.
const (
	EnvHistoryFile      = "AIM_HISTORY_FILE"
	EnvCatalogFile      = "AIM_CATALOG_FILE"
	EnvIdleTimeout      = "AIM_IDLE_TIMEOUT"
	EnvMaxDuration      = "AIM_MAX_DURATION"
	EnvKillGrace        = "AIM_KILL_GRACE"
	EnvPolkitAction     = "AIM_POLKIT_ACTION"
	EnvElevationRetries = "AIM_ELEVATION_RETRIES"
	EnvMetricsTextfile  = "AIM_METRICS_TEXTFILE"
)

// CLIConfig holds the settings shared by all commands. Zero values mean
// "not set" so layers can be merged.
type CLIConfig struct {
	HistoryFile      string        `yaml:"history_file,omitempty"`
	CatalogFile      string        `yaml:"catalog_file,omitempty"`
	IdleTimeout      time.Duration `yaml:"idle_timeout,omitempty"`
	MaxDuration      time.Duration `yaml:"max_duration,omitempty"`
	KillGrace        time.Duration `yaml:"kill_grace,omitempty"`
	PolkitAction     string        `yaml:"polkit_action,omitempty"`
	ElevationRetries int           `yaml:"elevation_retries,omitempty"`
	MetricsTextfile  string        `yaml:"metrics_textfile,omitempty"`
}

// DefaultCLIConfig holds the values taken from the environment at startup.
var DefaultCLIConfig, defaultCLIConfigErr = cliConfigFromEnv(os.Getenv)

// builtinCLIConfig is the bottom layer.
func builtinCLIConfig() CLIConfig {
	return CLIConfig{
		HistoryFile:      history.DefaultPath(),
		IdleTimeout:      executor.DefaultIdleTimeout,
		MaxDuration:      executor.DefaultMaxDuration,
		KillGrace:        executor.DefaultKillGrace,
		PolkitAction:     executor.DefaultPolkitAction,
		ElevationRetries: executor.DefaultRetries,
	}
}

func cliConfigFromEnv(getenv func(string) string) (CLIConfig, error) {
	cfg := CLIConfig{
		HistoryFile:     getenv(EnvHistoryFile),
		CatalogFile:     getenv(EnvCatalogFile),
		PolkitAction:    getenv(EnvPolkitAction),
		MetricsTextfile: getenv(EnvMetricsTextfile),
	}
	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{EnvIdleTimeout, &cfg.IdleTimeout},
		{EnvMaxDuration, &cfg.MaxDuration},
		{EnvKillGrace, &cfg.KillGrace},
	}
	for _, d := range durations {
		raw := getenv(d.name)
		if raw == "" {
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil || v <= 0 {
			return CLIConfig{}, invalidConfigValue(d.name, raw, err)
		}
		*d.dst = v
	}
	if raw := getenv(EnvElevationRetries); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return CLIConfig{}, invalidConfigValue(EnvElevationRetries, raw, err)
		}
		cfg.ElevationRetries = n
	}
	return cfg, nil
}

func invalidConfigValue(name, value string, cause error) error {
	return wrapWithSentinelAndContext(ErrInvalidConfigValue, cause,
		fmt.Sprintf("invalid value %q for %s", value, name),
		map[string]any{"name": name, "value": value})
}

// configPath returns the config file under $XDG_CONFIG_HOME, falling back
// to ~/.config.
func configPath() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, configDirName, configFileName), nil
}

// loadCLIConfigFile reads path. A missing file yields an empty config.
func loadCLIConfigFile(path string) (CLIConfig, error) {
	// #nosec G304 -- path is scoped to the user's config directory.
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return CLIConfig{}, nil
		}
		return CLIConfig{}, wrapWithSentinel(ErrReadConfigFailed, err, fmt.Sprintf("failed to read config: %v", err))
	}
	var cfg CLIConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return CLIConfig{}, wrapWithSentinel(ErrUnmarshalConfigFailed, err, fmt.Sprintf("failed to unmarshal config %s: %v", path, err))
	}
	if cfg.IdleTimeout < 0 || cfg.MaxDuration < 0 || cfg.KillGrace < 0 || cfg.ElevationRetries < 0 {
		return CLIConfig{}, newWithSentinel(ErrInvalidConfigValue, fmt.Sprintf("negative limit in config %s", path))
	}
	return cfg, nil
}

// resolveCLIConfig merges the layers: flags over environment over the
// config file over the built-in defaults.
func resolveCLIConfig(flagCfg *CLIConfig, path string) (CLIConfig, error) {
	if defaultCLIConfigErr != nil {
		return CLIConfig{}, defaultCLIConfigErr
	}
	cfg := builtinCLIConfig()

	if path == "" {
		var err error
		if path, err = configPath(); err != nil {
			return CLIConfig{}, wrapWithSentinel(ErrReadConfigFailed, err, "failed to locate config directory")
		}
	}
	fileCfg, err := loadCLIConfigFile(path)
	if err != nil {
		return CLIConfig{}, err
	}
	cfg.overlay(fileCfg)
	cfg.overlay(DefaultCLIConfig)
	if flagCfg != nil {
		cfg.overlay(*flagCfg)
	}
	return cfg, nil
}

// overlay copies every set field of o onto c.
func (c *CLIConfig) overlay(o CLIConfig) {
	if o.HistoryFile != "" {
		c.HistoryFile = o.HistoryFile
	}
	if o.CatalogFile != "" {
		c.CatalogFile = o.CatalogFile
	}
	if o.IdleTimeout > 0 {
		c.IdleTimeout = o.IdleTimeout
	}
	if o.MaxDuration > 0 {
		c.MaxDuration = o.MaxDuration
	}
	if o.KillGrace > 0 {
		c.KillGrace = o.KillGrace
	}
	if o.PolkitAction != "" {
		c.PolkitAction = o.PolkitAction
	}
	if o.ElevationRetries > 0 {
		c.ElevationRetries = o.ElevationRetries
	}
	if o.MetricsTextfile != "" {
		c.MetricsTextfile = o.MetricsTextfile
	}
}
