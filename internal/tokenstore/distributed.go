package tokenstore

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/valkey-io/valkey-go"
)

// Distributed keeps tokens in Valkey so that several processes acting for the
// same user share one session. Keys are "<namespace>:<kind>", decorated by
// the encryption strategy.
type Distributed struct {
	client    valkey.Client
	namespace string
	strategy  EncryptionStrategy
}

// NewDistributed creates a Valkey backed store. A nil strategy stores values
// unencrypted.
func NewDistributed(client valkey.Client, namespace string, strategy EncryptionStrategy) *Distributed {
	if strategy == nil {
		strategy = &NoEncryptionStrategy{}
	}
	return &Distributed{
		client:    client,
		namespace: namespace,
		strategy:  strategy,
	}
}

// entryKey is the logical key for kind and is also the associated data for
// encryption.
func (d *Distributed) entryKey(kind Kind) string {
	return d.namespace + ":" + string(kind)
}

func (d *Distributed) storageKey(kind Kind) string {
	return d.strategy.StorageKey(d.entryKey(kind))
}

// Token reads one token. A value that fails to decrypt is deleted on a
// best-effort basis and reported as an error.
func (d *Distributed) Token(ctx context.Context, kind Kind) (string, error) {
	storageKey := d.storageKey(kind)

	result := d.client.Do(ctx, d.client.B().Get().Key(storageKey).Build())
	if err := result.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get token: %w", err)
	}

	val, err := result.ToString()
	if err != nil {
		return "", fmt.Errorf("failed to convert token to string: %w", err)
	}

	data, err := d.strategy.DecryptValue(ctx, val, d.entryKey(kind))
	if err != nil {
		_ = d.client.Do(ctx, d.client.B().Del().Key(storageKey).Build()).Error()

		return "", fmt.Errorf("token decryption failure for %q: %w", kind, err)
	}

	return string(data), nil
}

func (d *Distributed) SetToken(ctx context.Context, kind Kind, value string) error {
	cmd, err := d.writeCommand(ctx, kind, value)
	if err != nil {
		return err
	}
	if err := d.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to store %s token: %w", kind, err)
	}
	return nil
}

// SetTokens writes both tokens in one round trip.
func (d *Distributed) SetTokens(ctx context.Context, tokens Pair) error {
	access, err := d.writeCommand(ctx, Access, tokens.Access)
	if err != nil {
		return err
	}
	refresh, err := d.writeCommand(ctx, Refresh, tokens.Refresh)
	if err != nil {
		return err
	}

	for _, result := range d.client.DoMulti(ctx, access, refresh) {
		if err := result.Error(); err != nil {
			return fmt.Errorf("failed to store tokens: %w", err)
		}
	}
	return nil
}

func (d *Distributed) RemoveTokens(ctx context.Context) error {
	keys := make([]string, 0, len(Kinds))
	for _, kind := range Kinds {
		keys = append(keys, d.storageKey(kind))
	}

	cmd := d.client.B().Del().Key(keys...).Build()
	if err := d.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to remove tokens: %w", err)
	}
	return nil
}

// Close releases the Valkey client and the encryption strategy.
func (d *Distributed) Close() error {
	if err := d.strategy.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing encryption strategy")
	}
	d.client.Close()
	return nil
}

// writeCommand builds the command storing value for kind; an empty value
// deletes the entry.
func (d *Distributed) writeCommand(ctx context.Context, kind Kind, value string) (valkey.Completed, error) {
	storageKey := d.storageKey(kind)
	if value == "" {
		return d.client.B().Del().Key(storageKey).Build(), nil
	}

	encrypted, err := d.strategy.EncryptValue(ctx, []byte(value), d.entryKey(kind))
	if err != nil {
		return valkey.Completed{}, fmt.Errorf("failed to encrypt %s token: %w", kind, err)
	}

	return d.client.B().Set().Key(storageKey).Value(encrypted).Build(), nil
}
