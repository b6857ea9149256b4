package httplog_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/apptemplate/clientkit/internal/httplog"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureContext(t *testing.T) (context.Context, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	logger := zerolog.New(buf)
	return logger.WithContext(context.Background()), buf
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

var exchange = httplog.Exchange{Instance: "client", Method: "GET", URL: "https://api.example.com/users"}

func TestRequest(t *testing.T) {
	ctx, buf := captureContext(t)

	httplog.Request(ctx, exchange)

	entry := decode(t, buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "request", entry["event"])
	assert.Equal(t, "client", entry["instance"])
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "https://api.example.com/users", entry["url"])
}

func TestSuccess(t *testing.T) {
	ctx, buf := captureContext(t)

	httplog.Success(ctx, exchange, 200, 150*time.Millisecond)

	entry := decode(t, buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "response", entry["event"])
	assert.EqualValues(t, 200, entry["status"])
	assert.EqualValues(t, 150, entry["duration"])
}

func TestFailure_WithDetail(t *testing.T) {
	ctx, buf := captureContext(t)

	detail := marshalerFunc(func(e *zerolog.Event) {
		httplog.NewOptionalEvent(e).
			Str("message", "Invalid credentials").
			Str("code", "ERR_BAD_REQUEST").
			Str("empty", "")
	})

	httplog.Failure(ctx, exchange, 401, time.Second, errors.New("ignored"), detail)

	entry := decode(t, buf)
	assert.Equal(t, "error", entry["level"])
	assert.EqualValues(t, 401, entry["status"])

	errDict, ok := entry["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Invalid credentials", errDict["message"])
	assert.Equal(t, "ERR_BAD_REQUEST", errDict["code"])
	assert.NotContains(t, errDict, "empty")
}

func TestFailure_WithoutDetail(t *testing.T) {
	ctx, buf := captureContext(t)

	httplog.Failure(ctx, exchange, 0, time.Second, errors.New("connection refused"), nil)

	entry := decode(t, buf)
	assert.NotContains(t, entry, "status")
	assert.Equal(t, map[string]any{"message": "connection refused"}, entry["error"])
}

type marshalerFunc func(e *zerolog.Event)

func (f marshalerFunc) MarshalZerologObject(e *zerolog.Event) { f(e) }
