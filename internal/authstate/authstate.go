// Package authstate holds the application wide authentication state and the
// actions that change it.
package authstate

import (
	"context"
	"fmt"

	"github.com/apptemplate/clientkit/internal/tokenstore"
	"github.com/rs/zerolog/log"
)

type ActionType string

// Reset signs the user out.
const Reset ActionType = "RESET"

type Action struct {
	Type ActionType
}

// Dispatcher receives auth state actions.
type Dispatcher interface {
	Dispatch(ctx context.Context, action Action)
}

// DispatcherFunc adapts a function to a Dispatcher.
type DispatcherFunc func(ctx context.Context, action Action)

func (f DispatcherFunc) Dispatch(ctx context.Context, action Action) {
	f(ctx, action)
}

// Session applies actions to the token store. Reset removes every stored
// token; failures are logged since dispatching never fails for the caller.
type Session struct {
	store tokenstore.Store
}

func NewSession(store tokenstore.Store) *Session {
	return &Session{store: store}
}

func (s *Session) Dispatch(ctx context.Context, action Action) {
	switch action.Type {
	case Reset:
		if err := s.store.RemoveTokens(ctx); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("logout: failed to remove stored tokens")
			return
		}
		log.Ctx(ctx).Info().Msg("logout: session tokens removed")
	default:
		log.Ctx(ctx).Warn().Str("action", string(action.Type)).Msg("ignoring unknown auth action")
	}
}

// SignIn stores the tokens issued at login.
func (s *Session) SignIn(ctx context.Context, tokens tokenstore.Pair, basicAccess string) error {
	if tokens.Access == "" || tokens.Refresh == "" {
		return fmt.Errorf("sign in requires both access and refresh tokens")
	}

	if err := s.store.SetTokens(ctx, tokens); err != nil {
		return fmt.Errorf("storing session tokens: %w", err)
	}

	if basicAccess != "" {
		if err := s.store.SetToken(ctx, tokenstore.BasicAccess, basicAccess); err != nil {
			return fmt.Errorf("storing basic access token: %w", err)
		}
	}

	return nil
}
