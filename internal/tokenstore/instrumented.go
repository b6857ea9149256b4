package tokenstore

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce     sync.Once
	storeOperations metric.Int64Counter
	storeDuration   metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/apptemplate/clientkit/internal/tokenstore")

		var err error
		storeOperations, err = meter.Int64Counter(
			"tokenstore.operations",
			metric.WithDescription("Total token store operations"),
		)
		if err != nil {
			otel.Handle(err)
		}

		storeDuration, err = meter.Float64Histogram(
			"tokenstore.operation.duration",
			metric.WithDescription("Token store operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented wraps a Store with metrics instrumentation.
type Instrumented struct {
	wrapped   Store
	storeType string
}

func NewInstrumented(store Store, storeType string) *Instrumented {
	initMetrics()
	return &Instrumented{
		wrapped:   store,
		storeType: storeType,
	}
}

func (i *Instrumented) Token(ctx context.Context, kind Kind) (string, error) {
	start := time.Now()

	value, err := i.wrapped.Token(ctx, kind)

	status := "miss"
	if err != nil {
		status = "error"
	} else if value != "" {
		status = "hit"
	}
	i.record(ctx, "get", status, time.Since(start))

	return value, err
}

func (i *Instrumented) SetToken(ctx context.Context, kind Kind, value string) error {
	start := time.Now()
	err := i.wrapped.SetToken(ctx, kind, value)
	i.record(ctx, "set", outcome(err), time.Since(start))
	return err
}

func (i *Instrumented) SetTokens(ctx context.Context, tokens Pair) error {
	start := time.Now()
	err := i.wrapped.SetTokens(ctx, tokens)
	i.record(ctx, "set", outcome(err), time.Since(start))
	return err
}

func (i *Instrumented) RemoveTokens(ctx context.Context) error {
	start := time.Now()
	err := i.wrapped.RemoveTokens(ctx)
	i.record(ctx, "remove", outcome(err), time.Since(start))
	return err
}

func (i *Instrumented) Close() error {
	return i.wrapped.Close()
}

func (i *Instrumented) record(ctx context.Context, operation, status string, duration time.Duration) {
	if storeOperations != nil {
		storeOperations.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("tokenstore.type", i.storeType),
				attribute.String("tokenstore.operation", operation),
				attribute.String("tokenstore.status", status),
			),
		)
	}

	if storeDuration != nil {
		storeDuration.Record(ctx, duration.Seconds(),
			metric.WithAttributes(
				attribute.String("tokenstore.type", i.storeType),
				attribute.String("tokenstore.operation", operation),
			),
		)
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("tokenstore.type", i.storeType),
		attribute.String("tokenstore."+operation+".status", status),
		attribute.Float64("tokenstore."+operation+".duration", duration.Seconds()),
	)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
