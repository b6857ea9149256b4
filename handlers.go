package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/apptemplate/clientkit/internal/apiclient"
	"github.com/apptemplate/clientkit/internal/authstate"
	"github.com/apptemplate/clientkit/internal/filecache"
	"github.com/apptemplate/clientkit/internal/tokenstore"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	Status() (int, string)
}

// ClientSource supplies the configured API clients.
type ClientSource interface {
	Instance(name string, v apiclient.Variant) (*resty.Client, error)
}

// Downloader saves a remote file under the given name.
type Downloader func(ctx context.Context, rawURL, name string) (filecache.Saved, error)

// variantHeader selects the client variant used to forward an API call.
const variantHeader = "Api-Variant"

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// handleGetMedia serves a cached copy of the "url" query parameter, or
// redirects to the remote file while a copy is fetched.
func handleGetMedia(cache *filecache.Cache) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		remote := r.URL.Query().Get("url")
		if remote == "" {
			writeJSONError(w, http.StatusBadRequest, "url parameter is required")
			return
		}

		var policy filecache.Policy
		if evict := r.URL.Query().Get("evict"); evict != "" {
			p, err := filecache.ParsePolicy(evict)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
			policy = p
		}

		source, err := cache.Get(r.Context(), remote, policy)
		switch {
		case errors.Is(err, filecache.ErrUncacheable):
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		case errors.Is(err, filecache.ErrClosed):
			writeJSONError(w, http.StatusServiceUnavailable, "file cache is shutting down")
			return
		case err != nil:
			log.Info().Err(err).Str("url", remote).Msg("file cache lookup failed")
			requestError(w, http.StatusInternalServerError)
			return
		}

		if source == remote {
			http.Redirect(w, r, remote, http.StatusTemporaryRedirect)
			return
		}

		w.Header().Set("Content-Type", filecache.DetectMimeType(source))
		http.ServeFile(w, r, source)
	})
}

type downloadRequest struct {
	URL      string `json:"url"`
	FileName string `json:"fileName"`
}

func handlePostDownload(download Downloader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var req downloadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Info().Err(err).Msg("invalid download request")
			requestError(w, http.StatusBadRequest)
			return
		}
		if req.URL == "" || req.FileName == "" {
			writeJSONError(w, http.StatusBadRequest, "url and fileName are required")
			return
		}

		saved, err := download(r.Context(), req.URL, req.FileName)
		if errors.Is(err, filecache.ErrInvalidFileName) {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			log.Info().Err(err).Str("url", req.URL).Msg("download failed")
			writeJSONError(w, http.StatusBadGateway, "download failed")
			return
		}

		writeJSON(w, http.StatusOK, saved)
	})
}

type sessionRequest struct {
	Access      string `json:"access"`
	Refresh     string `json:"refresh"`
	BasicAccess string `json:"basicAccess"`
}

// handlePutSession stores the tokens issued at login.
func handlePutSession(session *authstate.Session) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var req sessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Info().Err(err).Msg("invalid session request")
			requestError(w, http.StatusBadRequest)
			return
		}

		tokens := tokenstore.Pair{Access: req.Access, Refresh: req.Refresh}
		if tokens.Access == "" || tokens.Refresh == "" {
			writeJSONError(w, http.StatusBadRequest, "access and refresh tokens are required")
			return
		}

		if err := session.SignIn(r.Context(), tokens, req.BasicAccess); err != nil {
			log.Info().Err(err).Msg("sign in failed")
			requestError(w, http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

// handleDeleteSession signs out.
func handleDeleteSession(dispatcher authstate.Dispatcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		dispatcher.Dispatch(r.Context(), authstate.Action{Type: authstate.Reset})
		w.WriteHeader(http.StatusNoContent)
	})
}

// apiErrorResponse is written when an upstream API rejects a forwarded call.
type apiErrorResponse struct {
	Error   string            `json:"error"`
	Details apiclient.Summary `json:"details"`
}

// handleAPIProxy forwards /api/{instance}/{path...} through the named client
// instance, using the variant named in the Api-Variant header.
func handleAPIProxy(clients ClientSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		variant, err := apiclient.ParseVariant(r.Header.Get(variantHeader))
		if err != nil {
			drainRequestBody(r)
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		client, err := clients.Instance(r.PathValue("instance"), variant)
		if err != nil {
			drainRequestBody(r)
			writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			log.Info().Err(err).Msg("reading proxied request body failed")
			requestError(w, http.StatusRequestEntityTooLarge)
			return
		}

		req := client.R().
			SetContext(r.Context()).
			SetQueryString(r.URL.RawQuery)
		if len(body) > 0 {
			req.SetBody(body)
		}
		if ct := r.Header.Get("Content-Type"); ct != "" {
			req.SetHeader("Content-Type", ct)
		}

		resp, err := req.Execute(r.Method, "/"+r.PathValue("path"))
		if err != nil {
			writeAPIError(w, err)
			return
		}

		if ct := resp.Header().Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(resp.StatusCode())
		if _, err := w.Write(resp.Body()); err != nil {
			log.Info().Err(err).Msg("failed to write response")
		}
	})
}

func writeAPIError(w http.ResponseWriter, err error) {
	status, message := errorStatus(err)

	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) {
		writeJSON(w, status, apiErrorResponse{Error: message, Details: apiErr.Summary})
		return
	}

	writeJSONError(w, status, message)
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// At this point the status code has been written, so we can only log
		log.Info().Msgf("failed to write JSON response: %v", err)
	}
}

// errorStatus extracts HTTP status code and message from an error.
// Returns (StatusInternalServerError, StatusText) for errors that don't implement HTTPStatuser.
func errorStatus(err error) (int, string) {
	var statuser HTTPStatuser
	if errors.As(err, &statuser) {
		return statuser.Status()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

func requestError(w http.ResponseWriter, statusCode int) {
	http.Error(w, http.StatusText(statusCode), statusCode)
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5MB max: after this we'll assume the client is broken or malicious
		// and close the connection
		_, _ = io.CopyN(io.Discard, r.Body, 5*1024*1024)
	}
}
