package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// MockAPIServer is an upstream API that accepts a single bearer token and
// serves a refresh endpoint at AccessPath.
type MockAPIServer struct {
	Server     *httptest.Server
	AccessPath string

	mu             sync.Mutex
	validToken     string
	authHeaders    []string
	refreshTokens  []string
	refreshStatus  int
	refreshedPair  [2]string
	hold           chan struct{}
	requestCount   atomic.Int32
	refreshCount   atomic.Int32
	arrivedCount   atomic.Int32
	alwaysRejected bool
}

// SetupMockAPIServer creates a mock API that accepts "Bearer <validToken>".
// The refresh endpoint returns the pair set with RefreshReturns and then
// starts accepting the new access token.
func SetupMockAPIServer(t *testing.T, validToken string) *MockAPIServer {
	t.Helper()

	mock := &MockAPIServer{
		AccessPath:    "/auth/refresh",
		validToken:    validToken,
		refreshStatus: http.StatusOK,
	}

	router := http.NewServeMux()

	router.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		mock.refreshCount.Add(1)

		var body struct {
			Refresh string `json:"refresh"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		mock.mu.Lock()
		mock.refreshTokens = append(mock.refreshTokens, body.Refresh)
		status := mock.refreshStatus
		pair := mock.refreshedPair
		if status == http.StatusOK && pair[0] != "" {
			mock.validToken = pair[0]
		}
		mock.mu.Unlock()

		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"results": map[string]any{"message": "refresh rejected"},
			})
			return
		}

		WriteJSON(w, map[string]any{
			"results": map[string]any{
				"data": map[string]any{
					"jwt":          pair[0],
					"refreshToken": pair[1],
				},
			},
		})
	})

	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		mock.requestCount.Add(1)
		auth := r.Header.Get("Authorization")

		mock.mu.Lock()
		mock.authHeaders = append(mock.authHeaders, auth)
		hold := mock.hold
		mock.mu.Unlock()

		if hold != nil {
			mock.arrivedCount.Add(1)
			<-hold
		}

		mock.mu.Lock()
		accepted := !mock.alwaysRejected && auth == "Bearer "+mock.validToken
		mock.mu.Unlock()

		if !accepted {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"results": map[string]any{"message": "Unauthorized"},
			})
			return
		}

		WriteJSON(w, map[string]any{
			"results": map[string]any{
				"data": map[string]any{"path": r.URL.Path},
			},
		})
	})

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Server.Close)
	return mock
}

// URL is the base URL of the server.
func (m *MockAPIServer) URL() string {
	return m.Server.URL
}

// AccessURL is the absolute URL of the refresh endpoint.
func (m *MockAPIServer) AccessURL() string {
	return m.Server.URL + m.AccessPath
}

// RefreshReturns sets the pair issued by the refresh endpoint.
func (m *MockAPIServer) RefreshReturns(access, refresh string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshedPair = [2]string{access, refresh}
}

// RefreshFailsWith makes the refresh endpoint respond with status.
func (m *MockAPIServer) RefreshFailsWith(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshStatus = status
}

// RejectAll makes every API request fail with 401 regardless of token.
func (m *MockAPIServer) RejectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alwaysRejected = true
}

// Hold makes API requests block until Release is called.
func (m *MockAPIServer) Hold() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hold = make(chan struct{})
}

// Release unblocks held requests; later requests are no longer held.
func (m *MockAPIServer) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hold != nil {
		close(m.hold)
		m.hold = nil
	}
}

// Arrived is the number of requests that reached the hold point.
func (m *MockAPIServer) Arrived() int {
	return int(m.arrivedCount.Load())
}

func (m *MockAPIServer) RequestCount() int {
	return int(m.requestCount.Load())
}

func (m *MockAPIServer) RefreshCount() int {
	return int(m.refreshCount.Load())
}

// AuthHeaders returns the Authorization headers received, in order.
func (m *MockAPIServer) AuthHeaders() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.authHeaders...)
}

// RefreshTokens returns the refresh tokens presented to the refresh endpoint.
func (m *MockAPIServer) RefreshTokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.refreshTokens...)
}

// MockFileServer serves generated files under /files/{name} and tracks how
// many downloads are in flight.
type MockFileServer struct {
	Server *httptest.Server

	mu       sync.Mutex
	sizes    map[string]int
	failing  map[string]bool
	hold     chan struct{}
	inFlight int
	peak     int
	served   map[string]int
}

// SetupMockFileServer creates a file server where every file has
// defaultSize bytes unless overridden with SetSize.
func SetupMockFileServer(t *testing.T, defaultSize int) *MockFileServer {
	t.Helper()

	mock := &MockFileServer{
		sizes:   map[string]int{},
		failing: map[string]bool{},
		served:  map[string]int{},
	}

	router := http.NewServeMux()
	router.HandleFunc("GET /files/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")

		mock.mu.Lock()
		mock.inFlight++
		mock.peak = max(mock.peak, mock.inFlight)
		hold := mock.hold
		size, ok := mock.sizes[name]
		failing := mock.failing[name]
		mock.mu.Unlock()

		defer func() {
			mock.mu.Lock()
			mock.inFlight--
			mock.mu.Unlock()
		}()

		if hold != nil {
			select {
			case <-hold:
			case <-r.Context().Done():
				return
			}
		}

		if failing {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		if !ok {
			size = defaultSize
		}

		mock.mu.Lock()
		mock.served[name]++
		mock.mu.Unlock()

		w.Header().Set("Content-Length", fmt.Sprint(size))
		_, _ = w.Write([]byte(strings.Repeat("x", size)))
	})

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Server.Close)
	return mock
}

// FileURL returns the URL of the named file.
func (m *MockFileServer) FileURL(name string) string {
	return m.Server.URL + "/files/" + name
}

func (m *MockFileServer) SetSize(name string, size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizes[name] = size
}

// Fail makes requests for name respond with 503.
func (m *MockFileServer) Fail(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[name] = true
}

// Hold blocks downloads until Release is called.
func (m *MockFileServer) Hold() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hold = make(chan struct{})
}

func (m *MockFileServer) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hold != nil {
		close(m.hold)
		m.hold = nil
	}
}

// InFlight is the number of downloads currently being served.
func (m *MockFileServer) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// Peak is the highest number of concurrent downloads observed.
func (m *MockFileServer) Peak() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// Served is the number of times name was served successfully.
func (m *MockFileServer) Served(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.served[name]
}

// WriteJSON is a helper function that writes a JSON response.
// It sets the Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
