package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/apptemplate/clientkit/internal/httplog"
	"github.com/apptemplate/clientkit/internal/tokenstore"
	"github.com/rs/zerolog/log"
)

type retriedKey struct{}

func withRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

func isRetried(ctx context.Context) bool {
	retried, _ := ctx.Value(retriedKey{}).(bool)
	return retried
}

// transport runs the interceptor chain for one client variant: token
// attachment, traffic logging, the per-attempt timeout and, for the default
// variant, 401 recovery.
type transport struct {
	manager  *Manager
	instance *instance
	variant  Variant
	base     http.RoundTripper
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	body, err := readRequestBody(req)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	out := cloneWithBody(ctx, req, body)
	if token := t.resolveToken(ctx); token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}

	exchange := httplog.Exchange{
		Instance: t.instance.name,
		Method:   out.Method,
		URL:      out.URL.String(),
	}
	start := time.Now()
	httplog.Request(ctx, exchange)

	resp, respBody, err := t.send(out)
	elapsed := time.Since(start)

	if err != nil {
		apiErr := newTransportError(out, body, err, t.instance.timeoutMessage)
		recordRequest(ctx, t.instance.name, t.variant, 0, elapsed)
		if t.variant == VariantDefault {
			httplog.Failure(ctx, exchange, 0, elapsed, err, apiErr.Summary)
		}
		return nil, apiErr
	}

	recordRequest(ctx, t.instance.name, t.variant, resp.StatusCode, elapsed)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 || isRedirect(resp) {
		if t.variant == VariantDefault {
			httplog.Success(ctx, exchange, resp.StatusCode, elapsed)
		}
		return resp, nil
	}

	apiErr := newStatusError(out, body, resp, respBody)
	if t.variant != VariantDefault {
		return nil, apiErr
	}

	httplog.Failure(ctx, exchange, resp.StatusCode, elapsed, apiErr, apiErr.Summary)

	return t.recover(req, body, apiErr)
}

// recover refreshes the session and replays req once when it was rejected
// with a 401 by anything other than the access endpoint.
func (t *transport) recover(req *http.Request, body []byte, apiErr *Error) (*http.Response, error) {
	ctx := req.Context()

	if isRetried(ctx) {
		return nil, apiErr
	}
	if apiErr.StatusCode != http.StatusUnauthorized || t.instance.isAccessPath(req.URL) {
		return nil, apiErr
	}

	err := t.manager.refresh.do(ctx, func(ctx context.Context) error {
		_, err := t.manager.refreshAccessToken(ctx, t.instance)
		return err
	})
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		// this caller stopped waiting; the session outcome is not known here
		return nil, ctxErr
	}
	if err != nil {
		return nil, &RefreshError{err: err}
	}

	replay := cloneWithBody(withRetried(ctx), req, body)

	next, ok := t.manager.transportFor(t.instance.name, VariantDefault)
	if !ok {
		next = t
	}
	return next.RoundTrip(replay)
}

// isRedirect reports a response the http.Client will follow. The followed
// request comes back through RoundTrip and is classified on its own status.
func isRedirect(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return resp.Header.Get("Location") != ""
	}
	return false
}

// resolveToken returns the instance token if configured, otherwise the
// stored token for the variant. Store failures are logged and treated as no
// token.
func (t *transport) resolveToken(ctx context.Context) string {
	if t.instance.token != "" {
		return t.instance.token
	}

	kind := tokenstore.Access
	if t.variant == VariantBasic {
		kind = tokenstore.BasicAccess
	}

	token, err := t.manager.store.Token(ctx, kind)
	if err != nil {
		log.Ctx(ctx).Warn().
			Err(err).
			Str("instance", t.instance.name).
			Str("kind", string(kind)).
			Msg("token lookup failed, sending request without credentials")
		return ""
	}
	return token
}

// send performs one attempt under the instance timeout. The response body is
// read in full so the timeout can be released before returning.
func (t *transport) send(req *http.Request) (*http.Response, []byte, error) {
	ctx, cancel := context.WithTimeout(req.Context(), t.instance.timeout)
	defer cancel()

	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		return nil, nil, classify(ctx, req.Context(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, classify(ctx, req.Context(), err)
	}

	resp.Body = io.NopCloser(bytes.NewReader(data))
	resp.ContentLength = int64(len(data))

	return resp, data, nil
}

// classify marks errors caused by the attempt deadline, as opposed to
// cancellation by the caller.
func classify(attempt, parent context.Context, err error) error {
	if errors.Is(attempt.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		return fmt.Errorf("%w: %w", errRequestTimeout, err)
	}
	return err
}

func readRequestBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

func cloneWithBody(ctx context.Context, req *http.Request, body []byte) *http.Request {
	out := req.Clone(ctx)
	if body == nil {
		out.Body = http.NoBody
		out.GetBody = nil
		out.ContentLength = 0
		return out
	}

	out.Body = io.NopCloser(bytes.NewReader(body))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	out.ContentLength = int64(len(body))
	return out
}
