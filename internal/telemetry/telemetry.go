// Package telemetry wires the global OpenTelemetry TracerProvider/
// MeterProvider that internal/storage/sqlstore's spans and counters report
// into. Gated by HIVE_TELEMETRY the same way internal/debug gates
// HIVE_DEBUG: off by default, since a stdout exporter writing a trace line
// per query would drown out the CLI's own output otherwise.
package telemetry

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Shutdown flushes and releases whatever providers Setup installed. It is
// always safe to call, even when telemetry was never enabled.
type Shutdown func(ctx context.Context) error

// Setup installs stdout-exporting SDK providers as the process-wide
// otel.Tracer/otel.Meter source when HIVE_TELEMETRY is set, and returns the
// Shutdown that flushes them. With HIVE_TELEMETRY unset, Setup is a no-op
// and the global no-op providers already in effect continue to absorb every
// span/counter call internal/storage/sqlstore makes for free.
func Setup(ctx context.Context) (Shutdown, error) {
	if !enabled() {
		return func(context.Context) error { return nil }, nil
	}

	traceExp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp))
	otel.SetTracerProvider(tp)

	metricExp, err := stdoutmetric.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}, nil
}

func enabled() bool {
	v := strings.TrimSpace(os.Getenv("HIVE_TELEMETRY"))
	return v != "" && v != "0" && v != "false"
}
