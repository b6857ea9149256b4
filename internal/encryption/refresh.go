package encryption

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tink-crypto/tink-go/v2/tink"
)

// keysetLoader returns the AEAD for the current key material along with the
// modification time it was read at. A nil AEAD with a nil error means the
// material has not changed since the given time.
type keysetLoader func(since time.Time) (tink.AEAD, time.Time, error)

type activeAEAD struct {
	tink.AEAD
	modified time.Time
}

// RefreshableAEAD is a tink.AEAD backed by a keyset file that is checked for
// changes at a fixed interval. A keyset that fails to load is logged and the
// previous one stays active.
type RefreshableAEAD struct {
	active atomic.Pointer[activeAEAD]
	load   keysetLoader
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRefreshableAEAD loads keysetFile and watches it for rotation until ctx
// ends or Close is called. The first load is synchronous and its failure is
// returned.
func NewRefreshableAEAD(ctx context.Context, keysetFile string, interval time.Duration) (*RefreshableAEAD, error) {
	return newRefreshableAEAD(ctx, fileLoader(keysetFile), interval)
}

func fileLoader(path string) keysetLoader {
	return func(since time.Time) (tink.AEAD, time.Time, error) {
		info, err := os.Stat(path)
		if err != nil {
			return nil, since, fmt.Errorf("opening keyset: %w", err)
		}

		if !since.IsZero() && info.ModTime().Equal(since) {
			return nil, since, nil
		}

		aead, err := NewAEADFromKeysetFile(path)
		if err != nil {
			return nil, since, err
		}

		return aead, info.ModTime(), nil
	}
}

func newRefreshableAEAD(ctx context.Context, load keysetLoader, interval time.Duration) (*RefreshableAEAD, error) {
	initial, modified, err := load(time.Time{})
	if err != nil {
		return nil, err
	}
	if initial == nil {
		return nil, errors.New("keyset loader returned no AEAD")
	}

	ctx, cancel := context.WithCancel(ctx)

	r := &RefreshableAEAD{
		load:   load,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.active.Store(&activeAEAD{AEAD: initial, modified: modified})

	go r.watch(ctx, interval)

	return r, nil
}

func (r *RefreshableAEAD) Encrypt(plaintext, associatedData []byte) ([]byte, error) {
	return r.active.Load().Encrypt(plaintext, associatedData)
}

func (r *RefreshableAEAD) Decrypt(ciphertext, associatedData []byte) ([]byte, error) {
	return r.active.Load().Decrypt(ciphertext, associatedData)
}

// Close stops watching the keyset and waits for the watcher to exit. It is
// safe to call more than once.
func (r *RefreshableAEAD) Close() error {
	r.cancel()
	<-r.done
	return nil
}

func (r *RefreshableAEAD) watch(ctx context.Context, interval time.Duration) {
	defer close(r.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reload()
		}
	}
}

func (r *RefreshableAEAD) reload() {
	current := r.active.Load()

	next, modified, err := r.load(current.modified)
	if err != nil {
		log.Warn().
			Err(err).
			Msg("keyset reload failed, keeping current keyset")
		return
	}
	if next == nil {
		return
	}

	r.active.Store(&activeAEAD{AEAD: next, modified: modified})

	log.Info().
		Time("modified", modified).
		Msg("token encryption keyset reloaded")
}
