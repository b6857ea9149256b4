// Package apiclient manages the HTTP clients used to talk to upstream APIs.
//
// Every registered instance gets three clients: the default variant attaches
// the access token, logs traffic and transparently refreshes the session on
// a 401; the token and basic variants only attach the access or basic access
// token. Concurrent 401s share a single refresh.
package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/apptemplate/clientkit/internal/authstate"
	"github.com/apptemplate/clientkit/internal/tokenstore"
	"github.com/go-resty/resty/v2"
)

const (
	DefaultTimeout             = 5000 * time.Millisecond
	DefaultTimeoutErrorMessage = "Oops! Network is unstable. Please retry."
)

// RefreshFunc exchanges a refresh token for a new token pair.
type RefreshFunc func(ctx context.Context, refreshToken string) (tokenstore.Pair, error)

// InstanceConfig describes one upstream API.
type InstanceConfig struct {
	Name    string
	BaseURL string

	// Timeout bounds each request attempt; zero means DefaultTimeout.
	Timeout time.Duration
	// TimeoutErrorMessage is reported when Timeout is exceeded.
	TimeoutErrorMessage string

	// Refresh renews the session when a request is rejected with a 401.
	Refresh RefreshFunc
	// AccessPath is the login/refresh endpoint. A 401 from it never triggers
	// a refresh.
	AccessPath string

	// Token, when set, is attached to every request instead of a stored
	// token.
	Token string
}

// instance is the immutable form of an InstanceConfig.
type instance struct {
	name           string
	timeout        time.Duration
	timeoutMessage string
	refresh        RefreshFunc
	accessPath     string
	token          string
}

// isAccessPath compares the path of u with the configured access path,
// ignoring a trailing slash.
func (i *instance) isAccessPath(u *url.URL) bool {
	if i.accessPath == "" || u == nil {
		return false
	}
	target, err := url.Parse(i.accessPath)
	if err != nil {
		return false
	}
	return strings.TrimSuffix(target.Path, "/") == strings.TrimSuffix(u.Path, "/")
}

// Manager owns the client instances and the shared refresh state.
type Manager struct {
	store      tokenstore.Store
	dispatcher authstate.Dispatcher
	base       http.RoundTripper

	mu         sync.RWMutex
	clients    map[string]*resty.Client
	transports map[string]*transport

	refresh refreshGroup
}

type Option func(*Manager)

// WithTransport sets the transport used for outgoing requests. Defaults to
// http.DefaultTransport.
func WithTransport(rt http.RoundTripper) Option {
	return func(m *Manager) {
		m.base = rt
	}
}

// NewManager creates a manager reading tokens from store. The dispatcher
// receives a Reset action whenever the session cannot be refreshed.
func NewManager(store tokenstore.Store, dispatcher authstate.Dispatcher, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		dispatcher: dispatcher,
		base:       http.DefaultTransport,
		clients:    map[string]*resty.Client{},
		transports: map[string]*transport{},
	}
	for _, opt := range opts {
		opt(m)
	}
	initMetrics()
	return m
}

// CreateInstance registers an API, building its three client variants.
// Registering a name again replaces the previous clients.
func (m *Manager) CreateInstance(cfg InstanceConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("%w: instance name must be a non-empty string", ErrInvalidInstanceConfig)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return fmt.Errorf("%w: base URL must be a non-empty string", ErrInvalidInstanceConfig)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return fmt.Errorf("%w: base URL: %w", ErrInvalidInstanceConfig, err)
	}

	inst := &instance{
		name:           cfg.Name,
		timeout:        cfg.Timeout,
		timeoutMessage: cfg.TimeoutErrorMessage,
		refresh:        cfg.Refresh,
		accessPath:     cfg.AccessPath,
		token:          cfg.Token,
	}
	if inst.timeout <= 0 {
		inst.timeout = DefaultTimeout
	}
	if inst.timeoutMessage == "" {
		inst.timeoutMessage = DefaultTimeoutErrorMessage
	}

	clients := make(map[string]*resty.Client, len(variants))
	transports := make(map[string]*transport, len(variants))
	for _, v := range variants {
		t := &transport{
			manager:  m,
			instance: inst,
			variant:  v,
			base:     m.base,
		}
		key := instanceKey(cfg.Name, v)
		transports[key] = t
		clients[key] = resty.New().
			SetBaseURL(cfg.BaseURL).
			SetHeader("Content-Type", "application/json").
			SetTransport(t)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, client := range clients {
		m.clients[key] = client
		m.transports[key] = transports[key]
	}

	return nil
}

// Instance returns the client for the named API and variant.
func (m *Manager) Instance(name string, v Variant) (*resty.Client, error) {
	key := instanceKey(name, v)

	m.mu.RLock()
	defer m.mu.RUnlock()

	client, ok := m.clients[key]
	if !ok {
		return nil, fmt.Errorf("%w: instance %q does not exist", ErrInstanceNotFound, key)
	}
	return client, nil
}

// transportFor returns the current transport registered for the key, used to
// replay a request through the instance it originated from.
func (m *Manager) transportFor(name string, v Variant) (*transport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.transports[instanceKey(name, v)]
	return t, ok
}

// logout clears the application session.
func (m *Manager) logout(ctx context.Context) {
	if m.dispatcher == nil {
		return
	}
	m.dispatcher.Dispatch(ctx, authstate.Action{Type: authstate.Reset})
}
