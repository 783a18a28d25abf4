package api

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/serverledge-faas/localfaas/internal/config"
	"github.com/serverledge-faas/localfaas/internal/executor"
	"github.com/serverledge-faas/localfaas/internal/metrics"
	"github.com/serverledge-faas/localfaas/internal/report"
	"github.com/serverledge-faas/localfaas/internal/requirements"
)

//go:embed static/index.html
var static embed.FS

// Server holds what the invocation endpoints need. Cache may be nil, in
// which case no dependencies are installed.
type Server struct {
	SourceDir string
	Manifest  string
	Tag       string
	// Timeout is the default execution bound in seconds.
	Timeout float64

	Cache    *requirements.Cache
	Executor executor.Executor
	Reporter *report.Reporter
	Logger   *log.Logger

	started time.Time
}

// Register mounts the routes on e.
func (s *Server) Register(e *echo.Echo) {
	if s.Logger == nil {
		s.Logger = log.Default()
	}
	if s.Reporter == nil {
		s.Reporter = report.NewReporter(s.Logger)
	}
	s.started = time.Now()

	e.Use(middleware.Recover())

	e.GET("/", Index)
	e.POST("/", s.Invoke)
	e.GET("/status", s.GetServerStatus)

	if metrics.Enabled && metrics.ScrapingHandler != nil {
		e.GET("/metrics", func(c echo.Context) error {
			metrics.ScrapingHandler.ServeHTTP(c.Response(), c.Request())
			return nil
		})
	}
}

func StartAPIServer(e *echo.Echo, s *Server) error {
	s.Register(e)

	host := config.GetString(config.API_IP, "0.0.0.0")
	portNumber := config.GetInt(config.API_PORT, 8080)
	e.HideBanner = true

	if err := e.Start(fmt.Sprintf("%s:%d", host, portNumber)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Index serves the landing page.
func Index(c echo.Context) error {
	page, err := static.ReadFile("static/index.html")
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}
	return c.HTMLBlob(http.StatusOK, page)
}

func RegisterTerminationHandler(e *echo.Echo, s *Server) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-c
		s.Logger.Printf("Got %s signal. Terminating...", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(ctx); err != nil {
			s.Logger.Errorf("Shutdown: %v", err)
		}
		if err := s.Executor.Close(); err != nil {
			s.Logger.Errorf("Closing executor: %v", err)
		}
	}()
}
