package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/apptemplate/clientkit/internal/httplog"
	"github.com/rs/zerolog"
)

const redacted = "[REDACTED]"

// Summary is the sanitized description of a failed exchange.
type Summary struct {
	Message  string            `json:"message"`
	Response any               `json:"response"`
	Name     string            `json:"name"`
	Code     string            `json:"code,omitempty"`
	Status   int               `json:"status,omitempty"`
	URL      string            `json:"url"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     any               `json:"body"`
}

func (s Summary) MarshalZerologObject(e *zerolog.Event) {
	httplog.NewOptionalEvent(e).
		Str("message", s.Message).
		Interface("response", s.Response).
		Str("name", s.Name).
		Str("code", s.Code).
		Int("status", s.Status).
		Str("url", s.URL).
		Str("method", s.Method).
		StrMap("headers", s.Headers).
		Interface("body", s.Body)
}

// newStatusError describes a response outside the 2xx range.
func newStatusError(req *http.Request, reqBody []byte, resp *http.Response, respBody []byte) *Error {
	code := ""
	switch {
	case resp.StatusCode >= 500:
		code = CodeBadResponse
	case resp.StatusCode >= 400:
		code = CodeBadRequest
	}

	payload := parseJSON(respBody)
	fallback := fmt.Sprintf("Request failed with status code %d", resp.StatusCode)

	return &Error{
		Summary: Summary{
			Message:  responseMessage(payload, fallback),
			Response: responseResults(payload),
			Name:     "APIError",
			Code:     code,
			Status:   resp.StatusCode,
			URL:      req.URL.String(),
			Method:   req.Method,
			Headers:  sanitizeHeaders(req.Header),
			Body:     requestBody(reqBody),
		},
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}
}

// newTransportError describes a request that received no response.
func newTransportError(req *http.Request, reqBody []byte, err error, timeoutMessage string) *Error {
	summary := Summary{
		Message:  err.Error(),
		Response: "No response",
		Name:     "NetworkError",
		Code:     CodeNetwork,
		URL:      req.URL.String(),
		Method:   req.Method,
		Headers:  sanitizeHeaders(req.Header),
		Body:     requestBody(reqBody),
	}

	switch {
	case errors.Is(err, errRequestTimeout):
		summary.Name = "TimeoutError"
		summary.Code = CodeTimeout
		summary.Message = timeoutMessage
	case req.Context().Err() != nil:
		summary.Name = "CanceledError"
		summary.Code = CodeCanceled
	}

	return &Error{Summary: summary, err: err}
}

// responseMessage returns the most specific message in the response
// payload: results.data.error, then results.data.message, then
// results.message.
func responseMessage(payload any, fallback string) string {
	paths := [][]string{
		{"results", "data", "error"},
		{"results", "data", "message"},
		{"results", "message"},
	}
	for _, path := range paths {
		if v, ok := lookup(payload, path...); ok {
			return stringify(v)
		}
	}
	if fallback == "" {
		return "No message"
	}
	return fallback
}

func responseResults(payload any) any {
	if v, ok := lookup(payload, "results"); ok {
		return v
	}
	return "No response"
}

// requestBody is the parsed request payload for the summary.
func requestBody(body []byte) any {
	if len(body) == 0 {
		return "No body"
	}
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "Invalid JSON"
	}
	return parsed
}

func parseJSON(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil
	}
	return parsed
}

// lookup walks nested objects; a JSON null counts as absent.
func lookup(v any, path ...string) (any, bool) {
	for _, key := range path {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return v, v != nil
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func sanitizeHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for name := range h {
		if name == "Authorization" {
			out[name] = redacted
			continue
		}
		out[name] = h.Get(name)
	}
	return out
}
