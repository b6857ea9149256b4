package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInstanceNotFound       = errors.New("client instance not found")
	ErrInvalidInstanceConfig  = errors.New("invalid instance configuration")
	ErrMissingRefreshCallback = errors.New("refresh callback is missing")
	ErrMissingRefreshToken    = errors.New("refresh token is missing")
	ErrInvalidTokenResponse   = errors.New("invalid token response")
	// ErrRefreshFailed is returned to requests that waited on a refresh
	// started by another request when that refresh failed.
	ErrRefreshFailed = errors.New("token refresh failed")

	// errRequestTimeout marks transport errors caused by the instance timeout.
	errRequestTimeout = errors.New("request timeout")
)

// Error codes follow the vocabulary used by browser HTTP clients.
const (
	CodeBadRequest  = "ERR_BAD_REQUEST"
	CodeBadResponse = "ERR_BAD_RESPONSE"
	CodeTimeout     = "ECONNABORTED"
	CodeNetwork     = "ERR_NETWORK"
	CodeCanceled    = "ERR_CANCELED"
)

// Error is returned for any request that did not complete with a 2xx
// response. Summary is safe to log or return to callers: credentials are
// redacted.
type Error struct {
	Summary Summary

	// StatusCode is the upstream status, zero when no response was received.
	StatusCode int
	// Header and Body hold the upstream response, if any.
	Header http.Header
	Body   []byte

	err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Summary.Method, e.Summary.URL, e.Summary.Message)
}

// Unwrap returns the transport error, nil for status errors.
func (e *Error) Unwrap() error {
	return e.err
}

// Timeout reports whether the request exceeded the instance timeout.
func (e *Error) Timeout() bool {
	return e.Summary.Code == CodeTimeout
}

// Status maps the failure to the status a proxy should report.
func (e *Error) Status() (int, string) {
	switch {
	case e.StatusCode != 0:
		return e.StatusCode, e.Summary.Message
	case e.Summary.Code == CodeTimeout:
		return http.StatusGatewayTimeout, e.Summary.Message
	default:
		return http.StatusBadGateway, e.Summary.Message
	}
}

// RefreshError is returned when a request was rejected with a 401 and the
// session could not be renewed. The user has been signed out.
type RefreshError struct {
	err error
}

func (e *RefreshError) Error() string {
	return "session refresh failed: " + e.err.Error()
}

func (e *RefreshError) Unwrap() error {
	return e.err
}

func (e *RefreshError) Status() (int, string) {
	return http.StatusUnauthorized, "session expired"
}
