package filecache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	metricsOnce      sync.Once
	lookupTotal      metric.Int64Counter
	downloadDuration metric.Float64Histogram
	evictedTotal     metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/apptemplate/clientkit/internal/filecache")

		var err error
		lookupTotal, err = meter.Int64Counter(
			"filecache.lookups",
			metric.WithDescription("File cache lookups by result"),
		)
		if err != nil {
			otel.Handle(err)
		}

		downloadDuration, err = meter.Float64Histogram(
			"filecache.download.duration",
			metric.WithDescription("Background download duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}

		evictedTotal, err = meter.Int64Counter(
			"filecache.evicted",
			metric.WithDescription("Files removed to stay within cache limits"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

func recordLookup(ctx context.Context, result string) {
	if lookupTotal == nil {
		return
	}
	lookupTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("filecache.result", result)))
}

func recordDownload(ctx context.Context, duration time.Duration, err error) {
	if downloadDuration == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	downloadDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("filecache.outcome", outcome)),
	)
}

func recordEvicted(ctx context.Context, policy Policy, removed int) {
	if evictedTotal == nil || removed == 0 {
		return
	}
	evictedTotal.Add(ctx, int64(removed),
		metric.WithAttributes(attribute.String("filecache.policy", string(policy))),
	)
}
