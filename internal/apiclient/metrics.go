package apiclient

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce     sync.Once
	refreshTotal    metric.Int64Counter
	requestDuration metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/apptemplate/clientkit/internal/apiclient")

		var err error
		refreshTotal, err = meter.Int64Counter(
			"apiclient.refresh.total",
			metric.WithDescription("Session refresh attempts"),
		)
		if err != nil {
			otel.Handle(err)
		}

		requestDuration, err = meter.Float64Histogram(
			"apiclient.request.duration",
			metric.WithDescription("Upstream API request duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

func recordRefresh(ctx context.Context, instance string, err error) {
	if refreshTotal == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	refreshTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("apiclient.instance", instance),
			attribute.String("apiclient.outcome", outcome),
		),
	)
}

// recordRequest records one attempt; status zero means no response.
func recordRequest(ctx context.Context, instance string, v Variant, status int, duration time.Duration) {
	if requestDuration == nil {
		return
	}
	statusClass := "none"
	if status != 0 {
		statusClass = strconv.Itoa(status/100) + "xx"
	}
	requestDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("apiclient.instance", instance),
			attribute.String("apiclient.variant", v.String()),
			attribute.String("apiclient.status_class", statusClass),
		),
	)
}
