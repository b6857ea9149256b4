package apiclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/apptemplate/clientkit/internal/tokenstore"
	"github.com/rs/zerolog/log"
)

// refreshCall is one in-flight refresh. done is closed once err is set.
type refreshCall struct {
	done    chan struct{}
	err     error
	waiters int
}

// refreshGroup ensures at most one refresh runs at a time. Callers arriving
// while a refresh is in flight wait for its outcome instead of starting
// another.
type refreshGroup struct {
	mu   sync.Mutex
	call *refreshCall
}

// do runs fn unless a call is already in flight, in which case it waits for
// that call. The initiator receives fn's error; waiters receive it wrapped in
// ErrRefreshFailed. fn runs without the caller's cancellation so that one
// caller going away cannot fail the others.
func (g *refreshGroup) do(ctx context.Context, fn func(context.Context) error) error {
	g.mu.Lock()
	if c := g.call; c != nil {
		c.waiters++
		g.mu.Unlock()

		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}

		if c.err != nil {
			return fmt.Errorf("%w: %w", ErrRefreshFailed, c.err)
		}
		return nil
	}

	c := &refreshCall{done: make(chan struct{})}
	g.call = c
	g.mu.Unlock()

	c.err = fn(context.WithoutCancel(ctx))

	g.mu.Lock()
	g.call = nil
	g.mu.Unlock()
	close(c.done)

	return c.err
}

// pending returns the number of callers waiting on the in-flight refresh.
func (g *refreshGroup) pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.call == nil {
		return 0
	}
	return g.call.waiters
}

// refreshAccessToken exchanges the stored refresh token for a new pair and
// stores it. Every failure signs the user out before being returned.
func (m *Manager) refreshAccessToken(ctx context.Context, inst *instance) (string, error) {
	access, err := m.exchangeRefreshToken(ctx, inst)
	recordRefresh(ctx, inst.name, err)

	if err != nil {
		log.Ctx(ctx).Warn().
			Err(err).
			Str("instance", inst.name).
			Msg("session refresh failed, signing out")
		m.logout(ctx)
		return "", err
	}

	log.Ctx(ctx).Info().Str("instance", inst.name).Msg("session refreshed")
	return access, nil
}

func (m *Manager) exchangeRefreshToken(ctx context.Context, inst *instance) (string, error) {
	if inst.refresh == nil {
		return "", ErrMissingRefreshCallback
	}

	refreshToken, err := m.store.Token(ctx, tokenstore.Refresh)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMissingRefreshToken, err)
	}
	if refreshToken == "" {
		return "", ErrMissingRefreshToken
	}

	tokens, err := inst.refresh(ctx, refreshToken)
	if err != nil {
		return "", fmt.Errorf("refreshing session: %w", err)
	}

	if tokens.Access == "" || tokens.Refresh == "" {
		return "", ErrInvalidTokenResponse
	}

	if err := m.store.SetTokens(ctx, tokens); err != nil {
		return "", fmt.Errorf("storing refreshed tokens: %w", err)
	}

	return tokens.Access, nil
}
