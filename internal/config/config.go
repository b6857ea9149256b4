package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const appName = "clientkit"

type Config struct {
	API       APIConfig
	Download  DownloadConfig
	FileCache FileCacheConfig
	Observe   ObserveConfig
	Server    ServerConfig
	Tokens    TokenStoreConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

// APIConfig describes the upstream APIs that client instances are created
// for. The "client" instance is configured directly from the environment;
// further instances can be listed in InstancesFile.
type APIConfig struct {
	ClientURL           string `env:"CLIENT_API_URL"`
	AccessPath          string `env:"API_ACCESS_PATH"`
	TimeoutMillis       int    `env:"API_TIMEOUT_MS, default=5000"`
	TimeoutErrorMessage string `env:"API_TIMEOUT_ERROR_MESSAGE, default=Oops! Network is unstable. Please retry."`
	InstancesFile       string `env:"API_INSTANCES_FILE"`
}

// Timeout is the default request timeout for configured instances.
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

// FileCacheConfig controls the remote file cache.
type FileCacheConfig struct {
	// Dir is the cache directory. Defaults to a directory under the user cache
	// directory.
	Dir string `env:"FILE_CACHE_DIR"`

	MaxSizeMB              int64  `env:"FILE_CACHE_MAX_SIZE_MB, default=150"`
	MaxFiles               int    `env:"FILE_CACHE_MAX_FILES, default=10"`
	MaxConcurrentDownloads int    `env:"FILE_CACHE_MAX_CONCURRENT_DOWNLOADS, default=3"`
	DownloadTimeoutSeconds int    `env:"FILE_CACHE_DOWNLOAD_TIMEOUT_SECS, default=300"`
	DefaultPolicy          string `env:"FILE_CACHE_DEFAULT_POLICY, default=size"`
}

// MaxSizeBytes is the byte ceiling for size based eviction.
func (c FileCacheConfig) MaxSizeBytes() int64 {
	return c.MaxSizeMB * 1024 * 1024
}

func (c FileCacheConfig) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSeconds) * time.Second
}

// DownloadConfig controls persistent (user requested) downloads.
type DownloadConfig struct {
	Dir string `env:"DOWNLOAD_DIR"`
}

// TokenStoreConfig selects where authentication tokens are kept.
type TokenStoreConfig struct {
	// Type selects the store implementation: "memory" (default), "file" or
	// "valkey".
	Type string `env:"TOKEN_STORE_TYPE, default=memory"`

	// File is the location of the token document when Type is "file".
	File string `env:"TOKEN_STORE_FILE"`

	// Namespace prefixes every key written to a shared store.
	Namespace string `env:"TOKEN_STORE_NAMESPACE, default=clientkit"`

	// Valkey holds distributed store settings.
	Valkey ValkeyConfig

	// Encryption holds token encryption settings. Only supported by the file
	// and valkey stores.
	Encryption TokenEncryptionConfig
}

// ValkeyConfig specifies distributed store configuration.
type ValkeyConfig struct {
	// Address is the Valkey server address (host:port).
	Address string `env:"VALKEY_ADDRESS"`

	// TLS enables TLS connection to Valkey. Defaults to true so the secure option
	// is the default.
	TLS bool `env:"VALKEY_TLS, default=true"`

	Username string `env:"VALKEY_USERNAME"`
	Password string `env:"VALKEY_PASSWORD"`
}

// TokenEncryptionConfig holds settings for encryption of stored tokens.
type TokenEncryptionConfig struct {
	Enabled bool `env:"TOKEN_ENCRYPTION_ENABLED, default=false"`

	// KeysetFile is a cleartext Tink keyset in JSON format, as written by
	// cmd/keyset.
	KeysetFile string `env:"TOKEN_ENCRYPTION_KEYSET_FILE"`

	// RefreshMinutes is how often the keyset file is reloaded.
	RefreshMinutes int `env:"TOKEN_ENCRYPTION_REFRESH_MINS, default=15"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=clientkit"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Tokens.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid token store configuration: %w", err)
	}

	err = cfg.FileCache.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid file cache configuration: %w", err)
	}

	if cfg.FileCache.Dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return cfg, fmt.Errorf("FILE_CACHE_DIR not set and no user cache directory available: %w", err)
		}
		cfg.FileCache.Dir = filepath.Join(base, appName)
	}

	if cfg.Download.Dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, fmt.Errorf("DOWNLOAD_DIR not set and no home directory available: %w", err)
		}
		cfg.Download.Dir = filepath.Join(home, "Downloads")
	}

	return cfg, nil
}

// Validate checks that the token store configuration is valid.
func (c *TokenStoreConfig) Validate() error {
	switch c.Type {
	case "memory", "file", "valkey":
	default:
		return fmt.Errorf("TOKEN_STORE_TYPE must be one of memory, file or valkey, got %q", c.Type)
	}

	// Encryption only makes sense where tokens leave the process
	if c.Encryption.Enabled && c.Type == "memory" {
		return fmt.Errorf("token encryption requires TOKEN_STORE_TYPE=file or TOKEN_STORE_TYPE=valkey")
	}

	if c.Encryption.Enabled && c.Encryption.KeysetFile == "" {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEYSET_FILE required when encryption enabled")
	}

	if c.Type == "file" && c.File == "" {
		return fmt.Errorf("TOKEN_STORE_FILE required when TOKEN_STORE_TYPE=file")
	}

	if c.Type == "valkey" && c.Valkey.Address == "" {
		return fmt.Errorf("VALKEY_ADDRESS required when TOKEN_STORE_TYPE=valkey")
	}

	return nil
}

// Validate checks that the file cache limits are usable.
func (c *FileCacheConfig) Validate() error {
	if c.DefaultPolicy != "size" && c.DefaultPolicy != "count" {
		return fmt.Errorf("FILE_CACHE_DEFAULT_POLICY must be size or count, got %q", c.DefaultPolicy)
	}
	if c.MaxSizeMB <= 0 {
		return fmt.Errorf("FILE_CACHE_MAX_SIZE_MB must be positive")
	}
	if c.MaxFiles <= 0 {
		return fmt.Errorf("FILE_CACHE_MAX_FILES must be positive")
	}
	if c.MaxConcurrentDownloads <= 0 {
		return fmt.Errorf("FILE_CACHE_MAX_CONCURRENT_DOWNLOADS must be positive")
	}
	return nil
}
