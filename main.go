package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/apptemplate/clientkit/internal/apiclient"
	"github.com/apptemplate/clientkit/internal/authstate"
	"github.com/apptemplate/clientkit/internal/config"
	"github.com/apptemplate/clientkit/internal/filecache"
	"github.com/apptemplate/clientkit/internal/httplog"
	"github.com/apptemplate/clientkit/internal/observe"
	"github.com/apptemplate/clientkit/internal/server"
	"github.com/apptemplate/clientkit/internal/tokenstore"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/justinas/alice"
)

// services are the long lived components the routes are served from.
type services struct {
	clients  ClientSource
	session  *authstate.Session
	cache    *filecache.Cache
	download Downloader
}

func configureServerRoutes(svc services) http.Handler {
	// wrap a mux such that HTTP telemetry is configured by default
	mux := observe.NewMux(http.NewServeMux())

	// Control routes carry small JSON documents; proxied API calls may carry
	// larger payloads.
	standardRouteMiddleware := alice.New(httplog.Middleware(), maxRequestSize(20 << 10))
	proxyRouteMiddleware := alice.New(httplog.Middleware(), maxRequestSize(10 << 20))

	mux.Handle("GET /media", standardRouteMiddleware.Then(handleGetMedia(svc.cache)))
	mux.Handle("POST /downloads", standardRouteMiddleware.Then(handlePostDownload(svc.download)))

	mux.Handle("PUT /session", standardRouteMiddleware.Then(handlePutSession(svc.session)))
	mux.Handle("DELETE /session", standardRouteMiddleware.Then(handleDeleteSession(svc.session)))

	mux.Handle("/api/{instance}/{path...}", proxyRouteMiddleware.Then(handleAPIProxy(svc.clients)))

	// healthchecks are not included in telemetry or the access log
	mux.HandleUntraced("GET /healthcheck", handleHealthCheck())

	return mux
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	http.DefaultTransport = observe.HTTPTransport(
		configureHTTPTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	store, err := tokenstore.NewFromConfig(ctx, cfg.Tokens)
	if err != nil {
		return fmt.Errorf("token store configuration failed: %w", err)
	}
	session := authstate.NewSession(store)

	clients, err := configureClients(cfg.API, store, session)
	if err != nil {
		return fmt.Errorf("API client configuration failed: %w", err)
	}

	files := resty.NewWithClient(http.DefaultClient)

	policy, err := filecache.ParsePolicy(cfg.FileCache.DefaultPolicy)
	if err != nil {
		return fmt.Errorf("file cache configuration failed: %w", err)
	}
	cache, err := filecache.New(filecache.Config{
		Dir:             cfg.FileCache.Dir,
		MaxSizeBytes:    cfg.FileCache.MaxSizeBytes(),
		MaxFiles:        cfg.FileCache.MaxFiles,
		Workers:         cfg.FileCache.MaxConcurrentDownloads,
		DownloadTimeout: cfg.FileCache.DownloadTimeout(),
		DefaultPolicy:   policy,
	}, filecache.WithClient(files))
	if err != nil {
		return fmt.Errorf("file cache configuration failed: %w", err)
	}

	downloadDir := cfg.Download.Dir
	download := func(ctx context.Context, rawURL, name string) (filecache.Saved, error) {
		return filecache.Download(ctx, files, rawURL, downloadDir, name)
	}

	handler := configureServerRoutes(services{
		clients:  clients,
		session:  session,
		cache:    cache,
		download: download,
	})

	srv := &http.Server{
		Handler:           handler,
		MaxHeaderBytes:    20 << 10,         // 20 KB
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	// queued downloads finish before the token store and telemetry go away
	hooks := &server.ShutdownHooks{}
	hooks.AddContext("file cache", cache.Close)
	hooks.AddClose("token store", store)
	hooks.AddContext("telemetry", shutdownTelemetry)

	ln, err := server.Listen(cfg.Server.Port)
	if err != nil {
		return err
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	if err := server.Serve(ctx, srv, ln, shutdownTimeout, hooks); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// configureClients registers a client instance for every configured API.
// Instances with an access path renew their session by posting the refresh
// token to it.
func configureClients(cfg config.APIConfig, store tokenstore.Store, dispatcher authstate.Dispatcher) (*apiclient.Manager, error) {
	defs, err := cfg.Instances()
	if err != nil {
		return nil, err
	}

	manager := apiclient.NewManager(store, dispatcher, apiclient.WithTransport(http.DefaultTransport))

	// the refresh call itself bypasses the instance interceptors
	refreshClient := resty.NewWithClient(http.DefaultClient)

	for _, def := range defs {
		instance := apiclient.InstanceConfig{
			Name:                def.Name,
			BaseURL:             def.BaseURL,
			Timeout:             def.Timeout,
			TimeoutErrorMessage: def.TimeoutErrorMessage,
			Token:               def.Token,
		}

		if def.AccessPath != "" {
			accessURL, err := resolveAccessURL(def.BaseURL, def.AccessPath)
			if err != nil {
				return nil, fmt.Errorf("instance %s: %w", def.Name, err)
			}
			instance.AccessPath = accessURL
			instance.Refresh = apiclient.PostRefresh(refreshClient, accessURL)
		}

		if err := manager.CreateInstance(instance); err != nil {
			return nil, err
		}

		log.Info().
			Str("instance", def.Name).
			Str("baseURL", def.BaseURL).
			Bool("refresh", instance.Refresh != nil).
			Msg("API client configured")
	}

	return manager, nil
}

// resolveAccessURL returns accessPath as an absolute URL, treating a
// relative path as relative to the base URL's path.
func resolveAccessURL(baseURL, accessPath string) (string, error) {
	access, err := url.Parse(accessPath)
	if err != nil {
		return "", fmt.Errorf("invalid access path %q: %w", accessPath, err)
	}
	if access.IsAbs() {
		return access.String(), nil
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}

	return base.JoinPath(access.Path).String(), nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHTTPTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHTTPMaxConnsPerHost

	return transport
}
