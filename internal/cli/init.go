package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/localservice/internal/service"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the configuration and the store",
		Long: `Init creates the configuration directory with a default config.yaml and
the data directory holding the database. Running it again is harmless.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// The root command already wrote config.yaml; opening the store
			// creates the data directory and the schema.
			return a.withService(func(svc *service.Service) error {
				cfg, err := a.serviceConfig()
				if err != nil {
					return err
				}
				return a.render(cmd, map[string]string{
					"config":   filepath.Join(a.configDir, configFileExt),
					"data":     cfg.DataDir,
					"database": svc.Path(),
					"backend":  cfg.Backend,
				})
			})
		},
	}
}
