package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const resultsScopeName = "github.com/psychoinformatics-de/hirni/results"

// ResultCounter counts emitted result records by action and status.
type ResultCounter struct {
	once    sync.Once
	records metric.Int64Counter
	runs    metric.Float64Histogram
}

// Results is the process-wide result counter. Instruments are created on
// first use so that they bind to the provider installed by Init.
var Results = &ResultCounter{}

func (c *ResultCounter) init() {
	c.once.Do(func() {
		m := Meter(resultsScopeName)
		c.records, _ = m.Int64Counter("hirni.results",
			metric.WithDescription("Result records emitted by spec2bids"),
		)
		c.runs, _ = m.Float64Histogram("hirni.procedure.duration",
			metric.WithDescription("Procedure run duration in milliseconds"),
			metric.WithUnit("ms"),
		)
	})
}

// Record counts one result record.
func (c *ResultCounter) Record(ctx context.Context, action, status string) {
	c.init()
	if c.records == nil {
		return
	}
	c.records.Add(ctx, 1, metric.WithAttributes(
		attribute.String("hirni.action", action),
		attribute.String("hirni.status", status),
	))
}

// RecordRun records the duration of one procedure run.
func (c *ResultCounter) RecordRun(ctx context.Context, procedure string, ms float64) {
	c.init()
	if c.runs == nil {
		return
	}
	c.runs.Record(ctx, ms, metric.WithAttributes(attribute.String("hirni.procedure", procedure)))
}
