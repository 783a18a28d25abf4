package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTracer is nil unless tracing has been set up.
var DefaultTracer trace.Tracer = nil

// SetupOTelSDK bootstraps the OpenTelemetry pipeline, writing spans as JSON to
// outfile. The returned function flushes and releases everything it set up.
func SetupOTelSDK(ctx context.Context, outfile string) (shutdown func(context.Context) error, err error) {
	var shutdownFuncs []func(context.Context) error

	shutdown = func(ctx context.Context) error {
		var err error
		for _, fn := range shutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}
		shutdownFuncs = nil
		return err
	}

	handleErr := func(inErr error) {
		err = errors.Join(inErr, shutdown(ctx))
	}

	f, err := os.Create(outfile)
	if err != nil {
		return shutdown, fmt.Errorf("could not create traces file: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, func(context.Context) error {
		return f.Close()
	})

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(f))
	if err != nil {
		handleErr(err)
		return shutdown, err
	}

	tracerProvider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	// the provider must flush before the file is closed
	shutdownFuncs = append([]func(context.Context) error{tracerProvider.Shutdown}, shutdownFuncs...)
	otel.SetTracerProvider(tracerProvider)

	DefaultTracer = otel.Tracer("localfaas")
	return shutdown, nil
}
