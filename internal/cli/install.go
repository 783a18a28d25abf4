package cli

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/serverledge-faas/localfaas/internal/config"
	"github.com/spf13/cobra"
)

var (
	installFlags functionFlags

	installCmd = &cobra.Command{
		Use:   "install",
		Short: "Install the dependencies of the function directory and exit",
		Args:  cobra.NoArgs,
		RunE:  install,
	}
)

func init() {
	installFlags.register(installCmd, false)
}

func install(cmd *cobra.Command, _ []string) error {
	installFlags.apply(cmd)

	cache, err := newCache()
	if err != nil {
		return err
	}
	manifest := manifestPath()
	tag := config.GetString(config.REQUIREMENTS_TAG, "default")

	var dir string
	if config.GetBool(config.REQUIREMENTS_FORCE, false) {
		dir, err = cache.Reinstall(cmd.Context(), manifest, tag)
	} else {
		dir, err = cache.EnsureInstalled(cmd.Context(), manifest, tag)
	}
	if err != nil {
		return err
	}
	if dir == "" {
		log.Printf("Nothing to install")
		return nil
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), dir)
	return nil
}
