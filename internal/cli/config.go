package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/mesh-intelligence/localservice/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"
)

// Config keys. They match the mapstructure tags of types.Config.
const (
	cfgKeyBackend       = "backend"
	cfgKeyDataDir       = "data_dir"
	cfgKeyMonitoring    = "monitoring"
	cfgKeyDispatchMode  = "dispatch_mode"
	cfgKeyMaxWorkers    = "max_workers"
	cfgKeyWatchInterval = "watch_interval"
	cfgKeyLoggingLevel  = "logging.level"
	cfgKeyLoggingFormat = "logging.format"
	cfgKeyLoggingOutput = "logging.output"
)

// defaultWatchInterval applies when config.yaml does not set watch_interval.
const defaultWatchInterval = 500 * time.Millisecond

// defaultConfigYAML is written to config.yaml on first run.
const defaultConfigYAML = `# localservice configuration

# Storage backend
backend: sqlite

# Data directory (optional; overridable by --data-dir)
# data_dir:

# Resource monitoring (also enabled by --monitor)
monitoring: false

# per_call runs every operation on a fresh worker; per_type reuses one
# worker per record type.
dispatch_mode: per_call

# Upper bound on live workers; 0 means unbounded.
max_workers: 0

# How often get --watch checks for changes made by other processes;
# 0 disables the check.
watch_interval: 500ms

logging:
  level: warn
  format: text
  output: stderr
`

// loadConfig reads config.yaml from configDir, creating the directory and a
// default file on first run. A missing file leaves the defaults in place.
func loadConfig(configDir string) (*viper.Viper, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return nil, fmt.Errorf("ensure default config: %w", err)
	}

	v := viper.New()
	v.SetDefault(cfgKeyBackend, types.BackendSQLite)
	v.SetDefault(cfgKeyMonitoring, false)
	v.SetDefault(cfgKeyDispatchMode, types.DispatchPerCall)
	v.SetDefault(cfgKeyMaxWorkers, 0)
	v.SetDefault(cfgKeyWatchInterval, defaultWatchInterval)
	v.SetDefault(cfgKeyLoggingLevel, "warn")
	v.SetDefault(cfgKeyLoggingFormat, "text")
	v.SetDefault(cfgKeyLoggingOutput, "stderr")

	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// ensureDefaultConfigFile writes defaultConfigYAML unless config.yaml exists.
func ensureDefaultConfigFile(configDir string) error {
	path := filepath.Join(configDir, configFileExt)

	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}
