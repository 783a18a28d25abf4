package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	"github.com/serverledge-faas/localfaas/internal/api"
	"github.com/serverledge-faas/localfaas/internal/config"
	"github.com/serverledge-faas/localfaas/internal/executor"
	"github.com/serverledge-faas/localfaas/internal/handler"
	"github.com/serverledge-faas/localfaas/internal/metrics"
	"github.com/serverledge-faas/localfaas/internal/report"
	"github.com/serverledge-faas/localfaas/internal/telemetry"
	"github.com/spf13/cobra"
)

var (
	serveFlags functionFlags
	servePort  int
	serveMode  string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the invocation server",
		Args:  cobra.NoArgs,
		RunE:  serve,
	}
)

func init() {
	serveFlags.register(serveCmd, true)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "port of the invocation API")
	serveCmd.Flags().StringVar(&serveMode, "mode", executor.ModeInProcess, "execution strategy: inprocess or isolated")
}

func serve(cmd *cobra.Command, _ []string) (err error) {
	serveFlags.apply(cmd)
	if cmd.Flags().Changed("port") {
		config.Set(config.API_PORT, servePort)
	}
	if cmd.Flags().Changed("mode") {
		config.Set(config.EXECUTOR_MODE, serveMode)
	}

	metrics.Init()

	if config.GetBool(config.TRACING_ENABLED, false) {
		tracesOutfile := config.GetString(config.TRACING_OUTFILE, "")
		if len(tracesOutfile) < 1 {
			tracesOutfile = fmt.Sprintf("traces-%s.json", time.Now().Format("20060102-150405"))
		}
		log.Printf("Enabling tracing to %s", tracesOutfile)
		otelShutdown, err := telemetry.SetupOTelSDK(cmd.Context(), tracesOutfile)
		if err != nil {
			return err
		}
		defer func() {
			if shutdownErr := otelShutdown(context.Background()); shutdownErr != nil {
				log.Errorf("Flushing traces: %v", shutdownErr)
			}
		}()
	}

	cache, err := newCache()
	if err != nil {
		return err
	}
	manifest := manifestPath()
	tag := config.GetString(config.REQUIREMENTS_TAG, "default")

	// install at startup so the first request does not pay for it
	if config.GetBool(config.REQUIREMENTS_FORCE, false) {
		_, err = cache.Reinstall(cmd.Context(), manifest, tag)
	} else {
		_, err = cache.EnsureInstalled(cmd.Context(), manifest, tag)
	}
	if err != nil {
		return err
	}

	exec, err := newExecutor()
	if err != nil {
		return err
	}
	log.Printf("Executor: %s", exec.Name())

	s := &api.Server{
		SourceDir: functionDirectory(),
		Manifest:  manifest,
		Tag:       tag,
		Timeout:   config.GetFloat(config.FUNCTION_TIMEOUT, 6),
		Cache:     cache,
		Executor:  exec,
		Reporter:  report.NewReporter(log.Default()),
		Logger:    log.Default(),
	}

	e := echo.New()
	api.RegisterTerminationHandler(e, s)
	return api.StartAPIServer(e, s)
}

func newExecutor() (executor.Executor, error) {
	mode := config.GetString(config.EXECUTOR_MODE, executor.ModeInProcess)
	opts := executor.Options{
		Resolver:      handler.NewResolver(handler.WithConsole(os.Stderr)),
		PoolSize:      config.GetInt(config.EXECUTOR_POOL_SIZE, executor.DefaultPoolSize()),
		QueueCapacity: config.GetInt(config.EXECUTOR_QUEUE_CAPACITY, 100),
		Bootstrap:     config.GetStringSlice(config.ISOLATION_BOOTSTRAP, nil),
		Demote:        config.GetBool(config.ISOLATION_DEMOTE, true),
		Uid:           config.GetInt(config.ISOLATION_UID, 1000),
		Gid:           config.GetInt(config.ISOLATION_GID, 1000),
		Logger:        log.Default(),
	}
	e, err := executor.New(mode, opts)
	if err != nil {
		return nil, &ExitError{Code: 64, Err: err}
	}
	return e, nil
}
