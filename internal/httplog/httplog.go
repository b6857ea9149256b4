// Package httplog writes structured log events for outgoing API traffic.
package httplog

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Exchange identifies one outgoing request.
type Exchange struct {
	Instance string
	Method   string
	URL      string
}

func (x Exchange) apply(ev *zerolog.Event) *zerolog.Event {
	return ev.
		Str("instance", x.Instance).
		Str("method", x.Method).
		Str("url", x.URL)
}

// Request logs a request as it is sent.
func Request(ctx context.Context, x Exchange) {
	x.apply(log.Ctx(ctx).Info()).
		Str("event", "request").
		Msg("api request")
}

// Success logs a response that completed with a 2xx status.
func Success(ctx context.Context, x Exchange, status int, duration time.Duration) {
	x.apply(log.Ctx(ctx).Info()).
		Str("event", "response").
		Int("status", status).
		Dur("duration", duration).
		Msg("api response")
}

// Failure logs a rejected exchange. The detail is written as the "error"
// dictionary; a nil detail falls back to the error message.
func Failure(ctx context.Context, x Exchange, status int, duration time.Duration, err error, detail zerolog.LogObjectMarshaler) {
	ev := x.apply(log.Ctx(ctx).Error()).
		Str("event", "response").
		Dur("duration", duration)

	if status != 0 {
		ev = ev.Int("status", status)
	}

	if detail != nil {
		ev = ev.Object("error", detail)
	} else if err != nil {
		ev = ev.Dict("error", zerolog.Dict().Str("message", err.Error()))
	}

	ev.Msg("api request failed")
}
