package types

import (
	"errors"
	"time"
)

// Config holds backend selection and access layer parameters for
// localservice.New.
type Config struct {
	Backend string `json:"backend" yaml:"backend" mapstructure:"backend"`
	DataDir string `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`

	// Monitoring enables the resource counters behind GetMonitoringLog.
	Monitoring bool `json:"monitoring" yaml:"monitoring" mapstructure:"monitoring"`

	// DispatchMode selects how execution contexts are created: a fresh
	// worker per operation (per_call, the default) or one reused worker per
	// record type (per_type).
	DispatchMode string `json:"dispatch_mode" yaml:"dispatch_mode" mapstructure:"dispatch_mode"`

	// MaxWorkers bounds the number of live workers. Zero means unbounded.
	MaxWorkers int `json:"max_workers" yaml:"max_workers" mapstructure:"max_workers"`

	// WatchInterval, when positive, polls the database for commits made by
	// other processes and re-evaluates live streams when one is seen. Zero
	// limits live streams to changes committed through this process.
	WatchInterval time.Duration `json:"watch_interval" yaml:"watch_interval" mapstructure:"watch_interval"`

	Logging LoggingConfig `json:"logging" yaml:"logging" mapstructure:"logging"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`    // debug, info, warn, error
	Format string `json:"format" yaml:"format" mapstructure:"format"` // json, text
	Output string `json:"output" yaml:"output" mapstructure:"output"` // stdout, stderr, discard
}

// Supported backend names.
const (
	BackendSQLite = "sqlite"
)

// Dispatch modes.
const (
	DispatchPerCall = "per_call"
	DispatchPerType = "per_type"
)

// DatabaseFileName is the SQLite file created inside DataDir.
const DatabaseFileName = "localservice.db"

// Config validation errors.
var (
	ErrBackendEmpty         = errors.New("backend must not be empty")
	ErrBackendUnknown       = errors.New("unknown backend")
	ErrDispatchModeUnknown  = errors.New("unknown dispatch mode")
	ErrMaxWorkersInvalid    = errors.New("max workers must not be negative")
	ErrWatchIntervalInvalid = errors.New("watch interval must not be negative")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite: true,
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return ErrBackendUnknown
	}
	switch c.DispatchMode {
	case "", DispatchPerCall, DispatchPerType:
	default:
		return ErrDispatchModeUnknown
	}
	if c.MaxWorkers < 0 {
		return ErrMaxWorkersInvalid
	}
	if c.WatchInterval < 0 {
		return ErrWatchIntervalInvalid
	}
	return nil
}

// GetDispatchMode returns the effective dispatch mode.
func (c Config) GetDispatchMode() string {
	if c.DispatchMode == "" {
		return DispatchPerCall
	}
	return c.DispatchMode
}
