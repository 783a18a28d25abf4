package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/serverledge-faas/localfaas/internal/function"
	"github.com/serverledge-faas/localfaas/internal/handler"
	"github.com/serverledge-faas/localfaas/internal/requirements"
	"github.com/serverledge-faas/localfaas/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	HeaderRequestId      = "X-Localfaas-Request-Id"
	HeaderBilledDuration = "X-Localfaas-Billed-Duration"
)

// Invoke runs the handler named in the request body and returns its
// serialized result.
func (s *Server) Invoke(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err.Error(), "MalformedRequest"))
	}
	req, err := function.ParseRequest(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err.Error(), "MalformedRequest"))
	}
	c.Response().Header().Set(HeaderRequestId, req.Id)

	ctx := c.Request().Context()
	if telemetry.DefaultTracer != nil {
		var span trace.Span
		ctx, span = telemetry.DefaultTracer.Start(ctx, "invoke")
		span.SetAttributes(attribute.String("request.id", req.Id), attribute.String("handler", req.Handler))
		defer span.End()
	}

	var depsDir string
	if s.Cache != nil {
		// held until the handler returns, so a concurrent manifest change
		// cannot remove the directory it loads from
		lease, err := s.Cache.Acquire(ctx, s.Manifest, s.Tag)
		if err != nil {
			s.Logger.Errorf("[%s] %v", req, err)
			var installErr *requirements.InstallError
			if errors.As(err, &installErr) {
				return c.JSON(http.StatusInternalServerError, errorBody(err.Error(), "InstallFailure"))
			}
			return c.JSON(http.StatusInternalServerError, errorBody(err.Error(), function.TypeName(err)))
		}
		defer lease.Release()
		depsDir = lease.Dir
	}
	if telemetry.DefaultTracer != nil {
		trace.SpanFromContext(ctx).AddEvent("Requirements ready")
	}

	ref, err := handler.Locate(s.SourceDir, req.ModulePath, req.Handler)
	if err != nil {
		return s.resolutionFailure(c, req, err)
	}
	var searchPaths []string
	if depsDir != "" {
		searchPaths = []string{depsDir}
	}
	timeout := req.TimeoutOr(s.Timeout)
	loadCtx, cancelLoad := context.WithTimeout(ctx, function.SecondsToDuration(timeout))
	target, err := s.Executor.Prepare(loadCtx, ref, searchPaths)
	cancelLoad()
	if errors.Is(err, context.DeadlineExceeded) {
		s.Logger.Errorf("[%s] %v", req, err)
		return c.JSON(http.StatusOK, function.TimeoutResult(timeout))
	}
	if err != nil {
		return s.resolutionFailure(c, req, err)
	}
	if telemetry.DefaultTracer != nil {
		trace.SpanFromContext(ctx).AddEvent("Handler resolved")
	}

	// the deadline starts once the handler is resolved
	lc := function.NewContext(timeout, req.Arn, req.Version, req.Id)
	res, billing := s.Reporter.RunFor(req.Handler, req.Id, req.Event, func() *function.Result {
		return s.Executor.Execute(ctx, target, req.Event, lc)
	})

	if telemetry.DefaultTracer != nil {
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.String("outcome", res.Kind.String()),
			attribute.Int64("billed_ms", billing.BilledDurationMs))
	}
	c.Response().Header().Set(HeaderBilledDuration, strconv.FormatInt(billing.BilledDurationMs, 10))
	return c.JSON(http.StatusOK, res)
}

// resolutionFailure answers like a handler fault, so clients see the same
// error shape for a missing handler and a crashing one.
func (s *Server) resolutionFailure(c echo.Context, req *function.Request, err error) error {
	s.Logger.Errorf("[%s] %v", req, err)
	errorType := "ResolutionError"
	var resErr *handler.ResolutionError
	if !errors.As(err, &resErr) {
		errorType = function.TypeName(err)
	}
	res := function.FailureResult(&function.Failure{
		ErrorMessage: err.Error(),
		StackTrace:   []string{},
		ErrorType:    errorType,
	})
	return c.JSON(http.StatusOK, res)
}

func errorBody(msg, errorType string) *function.Failure {
	return &function.Failure{ErrorMessage: msg, StackTrace: []string{}, ErrorType: errorType}
}
