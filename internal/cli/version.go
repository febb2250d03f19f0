package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/localservice/pkg/localservice"
)

const modulePath = "github.com/mesh-intelligence/localservice"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the localservice version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "localservice v%s\nmodule: %s\n", localservice.Version, modulePath)
			return err
		},
	}
}
