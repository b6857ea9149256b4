package authstate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/apptemplate/clientkit/internal/authstate"
	"github.com/apptemplate/clientkit/internal/tokenstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_ResetRemovesTokens(t *testing.T) {
	ctx := context.Background()
	store := tokenstore.NewMemory()
	session := authstate.NewSession(store)

	require.NoError(t, session.SignIn(ctx, tokenstore.Pair{Access: "a", Refresh: "r"}, "b"))

	session.Dispatch(ctx, authstate.Action{Type: authstate.Reset})

	for _, kind := range tokenstore.Kinds {
		value, err := store.Token(ctx, kind)
		require.NoError(t, err)
		assert.Empty(t, value)
	}
}

func TestSession_UnknownActionIgnored(t *testing.T) {
	ctx := context.Background()
	store := tokenstore.NewMemory()
	session := authstate.NewSession(store)

	require.NoError(t, session.SignIn(ctx, tokenstore.Pair{Access: "a", Refresh: "r"}, ""))

	session.Dispatch(ctx, authstate.Action{Type: "REFRESH"})

	value, err := store.Token(ctx, tokenstore.Access)
	require.NoError(t, err)
	assert.Equal(t, "a", value)
}

func TestSession_ResetStoreFailureDoesNotPanic(t *testing.T) {
	session := authstate.NewSession(&failingStore{Memory: tokenstore.NewMemory()})

	assert.NotPanics(t, func() {
		session.Dispatch(context.Background(), authstate.Action{Type: authstate.Reset})
	})
}

func TestSession_SignIn(t *testing.T) {
	ctx := context.Background()
	store := tokenstore.NewMemory()
	session := authstate.NewSession(store)

	err := session.SignIn(ctx, tokenstore.Pair{Access: "a"}, "")
	assert.ErrorContains(t, err, "requires both")

	require.NoError(t, session.SignIn(ctx, tokenstore.Pair{Access: "a", Refresh: "r"}, "basic"))

	basic, err := store.Token(ctx, tokenstore.BasicAccess)
	require.NoError(t, err)
	assert.Equal(t, "basic", basic)
}

func TestDispatcherFunc(t *testing.T) {
	var received []authstate.Action
	d := authstate.DispatcherFunc(func(_ context.Context, action authstate.Action) {
		received = append(received, action)
	})

	d.Dispatch(context.Background(), authstate.Action{Type: authstate.Reset})

	assert.Equal(t, []authstate.Action{{Type: authstate.Reset}}, received)
}

type failingStore struct {
	*tokenstore.Memory
}

func (f *failingStore) RemoveTokens(context.Context) error {
	return errors.New("store unavailable")
}
