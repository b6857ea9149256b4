// Package filecache keeps local copies of remote files.
//
// Get never blocks on the network: a hit returns the local path, a miss
// queues a background download and returns the remote URL so the caller can
// use it until the copy lands. Downloads run on a fixed number of workers and
// each one trims the cache directory, by total size or by file count, before
// it fetches.
package filecache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxSizeBytes    = 150 * 1024 * 1024
	DefaultMaxFiles        = 10
	DefaultWorkers         = 3
	DefaultDownloadTimeout = 5 * time.Minute
)

var (
	ErrUncacheable = errors.New("url has no file name to cache under")
	ErrClosed      = errors.New("file cache is closed")
)

// Policy selects how the cache directory is trimmed before a download.
type Policy string

const (
	PolicySize  Policy = "size"
	PolicyCount Policy = "count"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicySize, PolicyCount:
		return p, nil
	default:
		return "", fmt.Errorf("unknown eviction policy %q", s)
	}
}

type Config struct {
	Dir             string
	MaxSizeBytes    int64
	MaxFiles        int
	Workers         int
	DownloadTimeout time.Duration
	DefaultPolicy   Policy
}

type Cache struct {
	dir             string
	maxSizeBytes    int64
	maxFiles        int
	downloadTimeout time.Duration
	defaultPolicy   Policy

	client *resty.Client
	queue  *queue
}

type Option func(*Cache)

// WithClient sets the client used for downloads.
func WithClient(client *resty.Client) Option {
	return func(c *Cache) {
		c.client = client
	}
}

// New creates the cache directory if needed and starts the download
// workers. Zero limits take the package defaults.
func New(cfg Config, opts ...Option) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, errors.New("cache directory is required")
	}

	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolving cache directory: %w", err)
	}

	c := &Cache{
		dir:             dir,
		maxSizeBytes:    orDefault(cfg.MaxSizeBytes, DefaultMaxSizeBytes),
		maxFiles:        orDefault(cfg.MaxFiles, DefaultMaxFiles),
		downloadTimeout: orDefault(cfg.DownloadTimeout, DefaultDownloadTimeout),
		defaultPolicy:   cfg.DefaultPolicy,
	}
	if c.defaultPolicy == "" {
		c.defaultPolicy = PolicySize
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = resty.New()
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	initMetrics()
	c.queue = newQueue(orDefault(cfg.Workers, DefaultWorkers), c.fill)

	return c, nil
}

func orDefault[T int | int64 | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}

// Dir is the absolute path of the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Get returns the local path of rawURL if it is cached. Otherwise it queues
// a download and returns rawURL unchanged. An empty policy uses the cache
// default.
func (c *Cache) Get(ctx context.Context, rawURL string, policy Policy) (string, error) {
	name, err := LocalName(rawURL)
	if err != nil {
		return "", err
	}
	if policy == "" {
		policy = c.defaultPolicy
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating cache directory: %w", err)
	}

	local := filepath.Join(c.dir, name)
	if info, err := os.Stat(local); err == nil && info.Mode().IsRegular() {
		recordLookup(ctx, "hit")
		return local, nil
	}

	recordLookup(ctx, "miss")

	queued, err := c.queue.push(task{url: rawURL, path: local, policy: policy})
	if err != nil {
		return "", err
	}

	log.Ctx(ctx).Debug().
		Str("url", rawURL).
		Bool("queued", queued).
		Msg("file cache miss")

	return rawURL, nil
}

// Close stops accepting downloads and waits for queued ones to finish, or
// for ctx to end.
func (c *Cache) Close(ctx context.Context) error {
	return c.queue.close(ctx)
}

// LocalName is the file name a URL is cached under: the last segment of its
// path.
func LocalName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUncacheable, err)
	}

	name := path.Base(u.Path)
	switch {
	case strings.HasSuffix(u.Path, "/") || name == "." || name == "..":
		return "", fmt.Errorf("%w: %s", ErrUncacheable, rawURL)
	case strings.HasPrefix(name, tempPrefix):
		return "", fmt.Errorf("%w: reserved name %s", ErrUncacheable, name)
	}

	return name, nil
}

// fill runs on a worker: trim the directory, then fetch into place. Failures
// are logged and dropped; the next Get for the URL queues it again.
func (c *Cache) fill(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), c.downloadTimeout)
	defer cancel()

	removed, err := c.evict(t.policy)
	recordEvicted(ctx, t.policy, removed)
	if err != nil {
		log.Warn().Err(err).Str("policy", string(t.policy)).Msg("cache eviction incomplete")
	}

	start := time.Now()
	size, _, err := fetch(ctx, c.client, t.url, t.path)
	recordDownload(ctx, time.Since(start), err)

	if err != nil {
		log.Warn().Err(err).Str("url", t.url).Msg("download failed")
		return
	}

	log.Debug().
		Str("url", t.url).
		Str("path", t.path).
		Int64("bytes", size).
		Dur("duration", time.Since(start)).
		Msg("file cached")
}

func (c *Cache) evict(policy Policy) (int, error) {
	if policy == PolicyCount {
		return evictByCount(c.dir, c.maxFiles)
	}
	return evictBySize(c.dir, c.maxSizeBytes)
}
