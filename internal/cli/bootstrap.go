package cli

import (
	"os"

	"github.com/serverledge-faas/localfaas/internal/executor"
	"github.com/spf13/cobra"
)

// bootstrapCmd is started by the isolated executor; it skips the usual
// configuration loading and takes everything from LOCALFAAS_* variables.
var bootstrapCmd = &cobra.Command{
	Use:                "bootstrap <handler> [event|-]",
	Short:              "Run one invocation in this process (used by the isolated executor)",
	Hidden:             true,
	DisableFlagParsing: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return nil
	},
	RunE: func(_ *cobra.Command, args []string) error {
		if code := executor.RunBootstrap(args, os.Getenv, os.Stdin, os.Stdout, os.Stderr); code != 0 {
			return &ExitError{Code: code}
		}
		return nil
	},
}
