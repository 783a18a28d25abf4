package cli

import (
	"path/filepath"

	"github.com/serverledge-faas/localfaas/internal/config"
	"github.com/serverledge-faas/localfaas/internal/requirements"
	"github.com/spf13/cobra"
)

// functionFlags are shared by serve and install.
type functionFlags struct {
	timeout      float64
	directory    string
	requirements string
	force        bool
	tag          string
}

func (f *functionFlags) register(cmd *cobra.Command, withTimeout bool) {
	if withTimeout {
		cmd.Flags().Float64VarP(&f.timeout, "timeout", "t", 6, "handler timeout in seconds")
	}
	cmd.Flags().StringVarP(&f.directory, "directory", "d", "/src", "directory holding the handler sources")
	cmd.Flags().StringVarP(&f.requirements, "requirements", "r", "requirements.txt", "dependency manifest, relative to the directory")
	cmd.Flags().BoolVar(&f.force, "force", false, "reinstall dependencies even if the manifest did not change")
	cmd.Flags().StringVar(&f.tag, "tag", requirements.DefaultTag, "dependency cache tag")
}

// apply copies the flags given on the command line over the configuration.
func (f *functionFlags) apply(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Lookup("timeout") != nil && flags.Changed("timeout") {
		config.Set(config.FUNCTION_TIMEOUT, f.timeout)
	}
	if flags.Changed("directory") {
		config.Set(config.FUNCTION_DIRECTORY, f.directory)
	}
	if flags.Changed("requirements") {
		config.Set(config.REQUIREMENTS_PATH, f.requirements)
	}
	if flags.Changed("force") {
		config.Set(config.REQUIREMENTS_FORCE, f.force)
	}
	if flags.Changed("tag") {
		config.Set(config.REQUIREMENTS_TAG, f.tag)
	}
}

func functionDirectory() string {
	return config.GetString(config.FUNCTION_DIRECTORY, "/src")
}

// manifestPath joins relative manifest paths to the function directory.
func manifestPath() string {
	p := config.GetString(config.REQUIREMENTS_PATH, "requirements.txt")
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(functionDirectory(), p)
}

func newCache() (*requirements.Cache, error) {
	var installer requirements.Installer
	args := config.GetStringSlice(config.REQUIREMENTS_INSTALLER_CMD, nil)
	switch backend := config.GetString(config.REQUIREMENTS_INSTALLER, "command"); backend {
	case "docker":
		docker, err := requirements.NewDockerInstaller(config.GetString(config.REQUIREMENTS_INSTALLER_IMAGE, "node:20-alpine"), args)
		if err != nil {
			return nil, err
		}
		installer = docker
	case "command", "":
		installer = requirements.NewCommandInstaller(args)
	default:
		return nil, &ExitError{Code: 64, Err: errUnknownInstaller(backend)}
	}
	return requirements.NewCache(config.GetString(config.REQUIREMENTS_CACHE_DIR, "/packages"), installer), nil
}

type errUnknownInstaller string

func (e errUnknownInstaller) Error() string {
	return "unknown installer backend '" + string(e) + "'"
}
