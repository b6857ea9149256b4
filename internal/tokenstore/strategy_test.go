package tokenstore

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/apptemplate/clientkit/internal/encryption"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoEncryptionStrategy_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := &NoEncryptionStrategy{}

	input := []byte("eyJhbGciOi.access")
	encrypted, err := s.EncryptValue(ctx, input, "clientkit:access")
	require.NoError(t, err)
	assert.Equal(t, string(input), encrypted)

	decrypted, err := s.DecryptValue(ctx, encrypted, "clientkit:access")
	require.NoError(t, err)
	assert.Equal(t, input, decrypted)

	assert.Equal(t, "clientkit:access", s.StorageKey("clientkit:access"))
	assert.NoError(t, s.Close())
}

func TestTinkEncryptionStrategy_RoundTrip(t *testing.T) {
	ctx := context.Background()
	testAEAD, err := encryption.NewTestAEAD()
	require.NoError(t, err)

	s := NewTinkEncryptionStrategy(testAEAD)

	input := []byte("refresh-token-value")
	key := "clientkit:refresh"

	encrypted, err := s.EncryptValue(ctx, input, key)
	require.NoError(t, err)
	assert.Greater(t, len(encrypted), len(valuePrefix))
	assert.Equal(t, valuePrefix, encrypted[:len(valuePrefix)])

	decrypted, err := s.DecryptValue(ctx, encrypted, key)
	require.NoError(t, err)
	assert.Equal(t, input, decrypted)
}

func TestTinkEncryptionStrategy_StorageKey(t *testing.T) {
	testAEAD, err := encryption.NewTestAEAD()
	require.NoError(t, err)

	s := NewTinkEncryptionStrategy(testAEAD)

	tests := []struct {
		name     string
		key      string
		expected string
	}{
		{name: "kind only", key: "access", expected: "enc:access"},
		{name: "namespaced", key: "clientkit:basicAccess", expected: "enc:clientkit:basicAccess"},
		{name: "empty key", key: "", expected: "enc:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, s.StorageKey(tt.key))
		})
	}
}

func TestTinkEncryptionStrategy_DecryptValue_Errors(t *testing.T) {
	ctx := context.Background()
	testAEAD, err := encryption.NewTestAEAD()
	require.NoError(t, err)

	s := NewTinkEncryptionStrategy(testAEAD)

	_, err = s.DecryptValue(ctx, "plain-token", "access")
	assert.ErrorContains(t, err, "missing")

	_, err = s.DecryptValue(ctx, valuePrefix+"!!not-base64!!", "access")
	assert.ErrorContains(t, err, "base64 decode failed")

	_, err = s.DecryptValue(ctx, valuePrefix+base64.StdEncoding.EncodeToString([]byte("garbage")), "access")
	assert.ErrorContains(t, err, "decryption failed")
}

func TestTinkEncryptionStrategy_WrongKeyFails(t *testing.T) {
	ctx := context.Background()
	testAEAD, err := encryption.NewTestAEAD()
	require.NoError(t, err)

	s := NewTinkEncryptionStrategy(testAEAD)

	encrypted, err := s.EncryptValue(ctx, []byte("token"), "clientkit:access")
	require.NoError(t, err)

	// ciphertext is bound to its entry and cannot be moved to another kind
	_, err = s.DecryptValue(ctx, encrypted, "clientkit:refresh")
	assert.ErrorContains(t, err, "decryption failed")
}

func TestTinkEncryptionStrategy_CloseClosesAEAD(t *testing.T) {
	aead := &closingAEAD{}
	s := NewTinkEncryptionStrategy(aead)

	require.NoError(t, s.Close())
	assert.True(t, aead.closed)
}

func TestInstrumentedStrategy_Delegates(t *testing.T) {
	ctx := context.Background()
	testAEAD, err := encryption.NewTestAEAD()
	require.NoError(t, err)

	s := NewInstrumentedStrategy(NewTinkEncryptionStrategy(testAEAD))

	encrypted, err := s.EncryptValue(ctx, []byte("token"), "k")
	require.NoError(t, err)

	decrypted, err := s.DecryptValue(ctx, encrypted, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("token"), decrypted)

	_, err = s.DecryptValue(ctx, "plain", "k")
	assert.Error(t, err)

	assert.Equal(t, "enc:k", s.StorageKey("k"))
	assert.NoError(t, s.Close())
}

type closingAEAD struct {
	closed bool
}

func (a *closingAEAD) Encrypt(plaintext, _ []byte) ([]byte, error) { return plaintext, nil }
func (a *closingAEAD) Decrypt(ciphertext, _ []byte) ([]byte, error) { return ciphertext, nil }
func (a *closingAEAD) Close() error {
	a.closed = true
	return nil
}
