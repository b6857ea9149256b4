package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// File keeps tokens in a YAML document on local disk so a session survives
// restarts. Every operation re-reads the document; writes replace it
// atomically with owner-only permissions.
type File struct {
	mu       sync.Mutex
	path     string
	strategy EncryptionStrategy
}

// NewFile creates a file backed store at path. A nil strategy stores values
// unencrypted.
func NewFile(path string, strategy EncryptionStrategy) (*File, error) {
	if strategy == nil {
		strategy = &NoEncryptionStrategy{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating token store directory: %w", err)
	}
	return &File{path: path, strategy: strategy}, nil
}

func (f *File) Token(ctx context.Context, kind Kind) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return "", err
	}

	stored, ok := doc[f.strategy.StorageKey(string(kind))]
	if !ok {
		return "", nil
	}

	data, err := f.strategy.DecryptValue(ctx, stored, string(kind))
	if err != nil {
		return "", fmt.Errorf("token decryption failure for %q: %w", kind, err)
	}
	return string(data), nil
}

func (f *File) SetToken(ctx context.Context, kind Kind, value string) error {
	return f.update(ctx, map[Kind]string{kind: value})
}

func (f *File) SetTokens(ctx context.Context, tokens Pair) error {
	return f.update(ctx, map[Kind]string{
		Access:  tokens.Access,
		Refresh: tokens.Refresh,
	})
}

func (f *File) RemoveTokens(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}

func (f *File) Close() error {
	if err := f.strategy.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing encryption strategy")
	}
	return nil
}

// update applies changes to the stored document. Empty values remove the
// entry.
func (f *File) update(ctx context.Context, changes map[Kind]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}

	for kind, value := range changes {
		key := f.strategy.StorageKey(string(kind))
		if value == "" {
			delete(doc, key)
			continue
		}

		encrypted, err := f.strategy.EncryptValue(ctx, []byte(value), string(kind))
		if err != nil {
			return fmt.Errorf("failed to encrypt %s token: %w", kind, err)
		}
		doc[key] = encrypted
	}

	return f.write(doc)
}

func (f *File) read() (map[string]string, error) {
	doc := map[string]string{}

	content, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}

	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parsing token file %s: %w", f.path, err)
	}
	if doc == nil {
		doc = map[string]string{}
	}
	return doc, nil
}

func (f *File) write(doc map[string]string) error {
	content, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding token file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".tokens-*")
	if err != nil {
		return fmt.Errorf("creating token file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op once renamed

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replacing token file: %w", err)
	}
	return nil
}
