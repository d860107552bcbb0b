// Package telemetry provides OpenTelemetry counters for import runs.
//
// Telemetry is disabled by default. When HL_OTEL_ENABLED=true the meter
// provider periodically writes the record counters to the configured writer
// (stderr for the CLI) and flushes them on shutdown.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const instrumentationScope = "github.com/lherron/hlmigrate"

// Outcome values recorded per legacy record.
const (
	OutcomeCreated = "created"
	OutcomeExisted = "existed"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Init installs the global meter provider and returns its shutdown func.
func Init(ctx context.Context, enabled bool, out io.Writer) (func(context.Context) error, error) {
	if !enabled {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return func(context.Context) error { return nil }, nil
	}

	exp, err := stdoutmetric.New(stdoutmetric.WithWriter(out))
	if err != nil {
		return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(
		sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second)),
	))
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// Counters records per-record outcomes. A nil *Counters is a no-op.
type Counters struct {
	records metric.Int64Counter
}

// NewCounters creates counters on the global meter provider.
func NewCounters() (*Counters, error) {
	return NewCountersFrom(otel.Meter(instrumentationScope))
}

// NewCountersFrom creates counters on the given meter.
func NewCountersFrom(meter metric.Meter) (*Counters, error) {
	records, err := meter.Int64Counter("hlmigrate.records",
		metric.WithDescription("Legacy records processed, by family and outcome"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: records counter: %w", err)
	}
	return &Counters{records: records}, nil
}

// Add counts one record.
func (c *Counters) Add(ctx context.Context, family, outcome string) {
	c.AddN(ctx, family, outcome, 1)
}

// AddN counts n records with the same outcome.
func (c *Counters) AddN(ctx context.Context, family, outcome string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.records.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("family", family),
		attribute.String("outcome", outcome),
	))
}
