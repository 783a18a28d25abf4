// Package cli holds the localfaas commands.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/serverledge-faas/localfaas/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	rootCmd = &cobra.Command{
		Use:   "localfaas",
		Short: "Local function-as-a-service runtime",
		Long: `localfaas runs JavaScript function handlers behind an HTTP endpoint,
the way a managed function platform would: dependencies are installed once
per manifest content, each invocation runs under a timeout and is followed
by a REPORT line with its billed duration.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}
)

// ExitError carries the process exit status out of a RunE handler.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is localfaas-conf.yaml in /etc/localfaas, $HOME or .)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(invokeCmd)
	rootCmd.AddCommand(bootstrapCmd)
}

// Execute runs the command line and returns the process exit status.
func Execute() int {
	return run(os.Args[1:])
}

func run(args []string) int {
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Err != nil {
				log.Error(exitErr.Err)
			}
			return exitErr.Code
		}
		log.Error(err)
		return 1
	}
	return 0
}

func setup(cmd *cobra.Command, _ []string) error {
	config.ReadConfiguration(cfgFile)
	if cmd.Flags().Changed("log-level") {
		config.Set(config.LOG_LEVEL, logLevel)
	}

	level, err := log.ParseLevel(config.GetString(config.LOG_LEVEL, "info"))
	if err != nil {
		return &ExitError{Code: 64, Err: err}
	}
	log.SetDefault(log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Level:           level,
	}))
	return nil
}
