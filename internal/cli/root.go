// Package cli implements the localservice command-line interface: a
// document-level front end to the access layer for inspecting and editing a
// local store.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mesh-intelligence/localservice/internal/logging"
	"github.com/mesh-intelligence/localservice/internal/paths"
	"github.com/mesh-intelligence/localservice/internal/service"
	"github.com/mesh-intelligence/localservice/pkg/localservice"
	"github.com/mesh-intelligence/localservice/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// userErrors are failures caused by the command line rather than the system.
var userErrors = []error{
	types.ErrInvalidRecordType,
	types.ErrInvalidID,
	types.ErrInvalidData,
	types.ErrIdentityChanged,
	types.ErrInvalidField,
	types.ErrInvalidAggregation,
	types.ErrFieldRequired,
	types.ErrInvalidFilter,
	types.ErrInvalidLimit,
	types.ErrBackendEmpty,
	types.ErrBackendUnknown,
	types.ErrDispatchModeUnknown,
	types.ErrMaxWorkersInvalid,
	types.ErrWatchIntervalInvalid,
	errUsage,
}

var errUsage = errors.New("usage")

// usageErrorf reports a malformed argument.
func usageErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errUsage}, args...)...)
}

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return exitUserError
		}
	}
	return exitSysError
}

// app holds the global flag values and the loaded configuration for one
// command tree.
type app struct {
	configDir string
	dataDir   string
	jsonOut   bool
	monitor   bool

	// watching keeps the cross-process change poller; only get --watch
	// needs it.
	watching bool

	v *viper.Viper
}

// NewRootCmd creates the top-level "localservice" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "localservice",
		Short:         "Inspect and edit a local record store",
		Long:          "localservice reads, writes, watches and aggregates JSON records kept in an embedded SQLite store.",
		Version:       localservice.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageErrorf("unknown command %q for %q", args[0], cmd.CommandPath())
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configDir, err := paths.ResolveConfigDir(a.configDir)
			if err != nil {
				return fmt.Errorf("resolve config dir: %w", err)
			}
			a.configDir = configDir

			a.v, err = loadConfig(configDir)
			return err
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configDir, "config-dir", "", "configuration directory (default: per-user config dir)")
	pf.StringVar(&a.dataDir, "data-dir", "", "data directory (default: $(CWD)/"+paths.DefaultDataDirName+")")
	pf.BoolVar(&a.jsonOut, "json", false, "output as JSON instead of YAML")
	pf.BoolVar(&a.monitor, "monitor", false, "enable resource monitoring for this run")

	root.AddCommand(
		newInitCmd(a),
		newVersionCmd(),
		newStoreCmd(a),
		newGetCmd(a),
		newUpdateCmd(a),
		newDeleteCmd(a),
		newReplaceCmd(a),
		newAggregateCmd(a),
		newSizeCmd(a),
		newIDsCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newStatsCmd(a),
	)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageErrorf("%v", err)
	})
	for _, cmd := range root.Commands() {
		cmd.Args = usageArgs(cmd.Args)
	}
	return root
}

// usageArgs marks argument validation failures as usage errors.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	if validate == nil {
		return nil
	}
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return usageErrorf("%v", err)
		}
		return nil
	}
}

// Execute runs the root command and exits with the matching code.
func Execute() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "localservice:", err)
		os.Exit(exitCode(err))
	}
}

// serviceConfig builds the access layer configuration from config.yaml and
// the global flags.
func (a *app) serviceConfig() (types.Config, error) {
	var cfg types.Config
	if err := a.v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}

	dataDir, err := paths.ResolveDataDir(a.dataDir, cfg.DataDir)
	if err != nil {
		return cfg, fmt.Errorf("resolve data dir: %w", err)
	}
	cfg.DataDir = dataDir
	if a.monitor {
		cfg.Monitoring = true
	}
	if !a.watching {
		cfg.WatchInterval = 0
	}
	return cfg, cfg.Validate()
}

// open starts an access layer over the configured store. The caller closes it.
func (a *app) open() (*service.Service, error) {
	cfg, err := a.serviceConfig()
	if err != nil {
		return nil, err
	}
	svc, err := service.Open(cfg, logging.New(cfg.Logging, localservice.Version))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return svc, nil
}

// withService opens the store, runs fn and closes the store, keeping fn's
// error over the close error.
func (a *app) withService(fn func(svc *service.Service) error) (err error) {
	svc, err := a.open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close store: %w", cerr)
		}
	}()
	return fn(svc)
}
