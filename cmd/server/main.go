package main // Entry point package

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iliyamo/lmeve2/internal/settings"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd builds `lmeve2`. Without a subcommand it serves the API.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lmeve2",
		Short:         "Corporation management API for the lmeve2 dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newPasswdCmd(), newConsumeCmd())
	return root
}

// dbFlags binds the connection override flags shared by the database
// subcommands. Unset flags fall through to the settings file.
func dbFlags(cmd *cobra.Command, o *settings.DBOverrides) {
	f := cmd.Flags()
	f.StringVar((*string)(&o.Host), "db-host", "", "database host")
	f.StringVar((*string)(&o.Port), "db-port", "", "database port")
	f.StringVar((*string)(&o.User), "db-user", "", "database user")
	f.StringVar((*string)(&o.Password), "db-password", "", "database password")
	f.StringVar((*string)(&o.Name), "db-name", "", "database schema")
}
