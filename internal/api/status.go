package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/serverledge-faas/localfaas/internal/executor"
	"github.com/serverledge-faas/localfaas/internal/report"
	"github.com/serverledge-faas/localfaas/internal/requirements"
)

type StatusInformation struct {
	SourceDir     string                   `json:"sourceDir"`
	UptimeSeconds float64                  `json:"uptimeSeconds"`
	Executor      executor.Status          `json:"executor"`
	Requirements  []requirements.TagStatus `json:"requirements"`
	Invocations   report.Summary           `json:"invocations"`
}

func (s *Server) GetServerStatus(c echo.Context) error {
	info := StatusInformation{
		SourceDir:     s.SourceDir,
		UptimeSeconds: time.Since(s.started).Seconds(),
		Executor:      s.Executor.Status(),
		Requirements:  []requirements.TagStatus{},
		Invocations:   s.Reporter.Summary(),
	}
	if s.Cache != nil {
		info.Requirements = s.Cache.Status()
	}
	return c.JSON(http.StatusOK, info)
}
