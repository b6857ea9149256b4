package tokenstore

import (
	"context"
	"fmt"
	"time"

	"github.com/apptemplate/clientkit/internal/config"
	"github.com/apptemplate/clientkit/internal/encryption"
	"github.com/rs/zerolog/log"
	"github.com/valkey-io/valkey-go"
)

// NewFromConfig creates the token store selected by cfg.Type, wrapped with
// instrumentation.
func NewFromConfig(ctx context.Context, cfg config.TokenStoreConfig) (Store, error) {
	switch cfg.Type {
	case "valkey":
		log.Info().
			Str("store_type", "valkey").
			Str("address", cfg.Valkey.Address).
			Bool("tls", cfg.Valkey.TLS).
			Msg("initializing distributed token store")

		if cfg.Valkey.Address == "" {
			return nil, fmt.Errorf("valkey address is required when store type is valkey")
		}

		valkeyClient, err := valkey.NewClient(valkeyClientOption(cfg.Valkey))
		if err != nil {
			return nil, fmt.Errorf("failed to create valkey client: %w", err)
		}

		strategy, err := newStrategy(ctx, cfg.Encryption)
		if err != nil {
			valkeyClient.Close()
			return nil, err
		}

		return NewInstrumented(NewDistributed(valkeyClient, cfg.Namespace, strategy), "distributed"), nil

	case "file":
		log.Info().
			Str("store_type", "file").
			Str("path", cfg.File).
			Msg("initializing file token store")

		strategy, err := newStrategy(ctx, cfg.Encryption)
		if err != nil {
			return nil, err
		}

		file, err := NewFile(cfg.File, strategy)
		if err != nil {
			if strategy != nil {
				_ = strategy.Close()
			}
			return nil, fmt.Errorf("failed to create file token store: %w", err)
		}

		return NewInstrumented(file, "file"), nil

	case "memory":
		log.Info().
			Str("store_type", "memory").
			Msg("initializing in-memory token store")

		return NewInstrumented(NewMemory(), "memory"), nil

	default:
		return nil, fmt.Errorf("invalid token store type %q: must be one of \"memory\", \"file\" or \"valkey\"", cfg.Type)
	}
}

// newStrategy returns nil when encryption is disabled.
func newStrategy(ctx context.Context, cfg config.TokenEncryptionConfig) (EncryptionStrategy, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	interval := time.Duration(cfg.RefreshMinutes) * time.Minute
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	aead, err := encryption.NewRefreshableAEAD(ctx, cfg.KeysetFile, interval)
	if err != nil {
		return nil, fmt.Errorf("initializing encryption: %w", err)
	}

	log.Info().Msg("token encryption enabled with periodic keyset reload")

	return NewInstrumentedStrategy(NewTinkEncryptionStrategy(aead)), nil
}
