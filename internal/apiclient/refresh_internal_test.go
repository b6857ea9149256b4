package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apptemplate/clientkit/internal/authstate"
	"github.com/apptemplate/clientkit/internal/testhelpers"
	"github.com/apptemplate/clientkit/internal/tokenstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestRefreshGroup_WaitersShareOutcome(t *testing.T) {
	var g refreshGroup
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	calls := atomic.Int32{}
	cause := errors.New("upstream rejected refresh token")

	fn := func(context.Context) error {
		calls.Add(1)
		close(started)
		<-release
		return cause
	}

	initiator := make(chan error, 1)
	go func() { initiator <- g.do(ctx, fn) }()
	<-started

	var eg errgroup.Group
	waiterErrs := make([]error, 3)
	for i := range waiterErrs {
		eg.Go(func() error {
			waiterErrs[i] = g.do(ctx, fn)
			return nil
		})
	}

	require.Eventually(t, func() bool { return g.pending() == 3 }, time.Second, 5*time.Millisecond)
	close(release)

	require.NoError(t, eg.Wait())
	assert.Equal(t, cause, <-initiator)
	for _, err := range waiterErrs {
		assert.ErrorIs(t, err, ErrRefreshFailed)
		assert.ErrorIs(t, err, cause)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0, g.pending())
}

func TestRefreshGroup_NextCallStartsFresh(t *testing.T) {
	var g refreshGroup
	calls := 0

	for range 3 {
		err := g.do(context.Background(), func(context.Context) error {
			calls++
			return nil
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 3, calls)
}

func TestRefreshGroup_WaiterCancellation(t *testing.T) {
	var g refreshGroup

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = g.do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.do(ctx, func(context.Context) error {
		t.Error("waiter must not start a second refresh")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRefreshGroup_InitiatorCancellationDoesNotAbortRefresh(t *testing.T) {
	var g refreshGroup

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.do(ctx, func(ctx context.Context) error {
		return ctx.Err()
	})
	assert.NoError(t, err)
}

func TestManager_ConcurrentUnauthorizedRequestsShareOneRefresh(t *testing.T) {
	const requests = 5
	ctx := context.Background()

	api := testhelpers.SetupMockAPIServer(t, "access-2")

	store := tokenstore.NewMemory()
	require.NoError(t, store.SetTokens(ctx, tokenstore.Pair{Access: "access-1", Refresh: "refresh-1"}))

	m := NewManager(store, nil)

	calls := atomic.Int32{}
	refresh := func(ctx context.Context, refreshToken string) (tokenstore.Pair, error) {
		calls.Add(1)
		assert.Equal(t, "refresh-1", refreshToken)

		// hold the refresh open until every other request is queued behind it
		assert.Eventually(t, func() bool {
			return m.refresh.pending() == requests-1
		}, 5*time.Second, 5*time.Millisecond)

		return tokenstore.Pair{Access: "access-2", Refresh: "refresh-2"}, nil
	}
	require.NoError(t, m.CreateInstance(InstanceConfig{Name: "client", BaseURL: api.URL(), Refresh: refresh}))

	client, err := m.Instance("client", VariantDefault)
	require.NoError(t, err)

	api.Hold()

	var eg errgroup.Group
	statuses := make([]int, requests)
	for i := range requests {
		eg.Go(func() error {
			resp, err := client.R().Get(fmt.Sprintf("/orders/%d", i))
			if err != nil {
				return err
			}
			statuses[i] = resp.StatusCode()
			return nil
		})
	}

	require.Eventually(t, func() bool { return api.Arrived() == requests }, 5*time.Second, 5*time.Millisecond)
	api.Release()

	require.NoError(t, eg.Wait())

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 2*requests, api.RequestCount())
	for _, status := range statuses {
		assert.Equal(t, http.StatusOK, status)
	}
}

func TestManager_ConcurrentRefreshFailureRejectsAll(t *testing.T) {
	const requests = 3
	ctx := context.Background()

	api := testhelpers.SetupMockAPIServer(t, "never-issued")

	store := tokenstore.NewMemory()
	require.NoError(t, store.SetTokens(ctx, tokenstore.Pair{Access: "access-1", Refresh: "refresh-1"}))

	resets := atomic.Int32{}
	m := NewManager(store, authstate.DispatcherFunc(func(context.Context, authstate.Action) {
		resets.Add(1)
	}))

	cause := errors.New("refresh token revoked")
	refresh := func(context.Context, string) (tokenstore.Pair, error) {
		assert.Eventually(t, func() bool {
			return m.refresh.pending() == requests-1
		}, 5*time.Second, 5*time.Millisecond)
		return tokenstore.Pair{}, cause
	}
	require.NoError(t, m.CreateInstance(InstanceConfig{Name: "client", BaseURL: api.URL(), Refresh: refresh}))

	client, err := m.Instance("client", VariantDefault)
	require.NoError(t, err)

	api.Hold()

	errs := make([]error, requests)
	var eg errgroup.Group
	for i := range requests {
		eg.Go(func() error {
			_, errs[i] = client.R().Get("/orders")
			return nil
		})
	}

	require.Eventually(t, func() bool { return api.Arrived() == requests }, 5*time.Second, 5*time.Millisecond)
	api.Release()
	require.NoError(t, eg.Wait())

	waiters := 0
	for _, err := range errs {
		require.ErrorIs(t, err, cause)
		if errors.Is(err, ErrRefreshFailed) {
			waiters++
		}
	}
	assert.Equal(t, requests-1, waiters)
	assert.Equal(t, int32(1), resets.Load())
	assert.Equal(t, requests, api.RequestCount())
}

func TestManager_CancelledWaiterIsNotSignedOut(t *testing.T) {
	ctx := context.Background()

	api := testhelpers.SetupMockAPIServer(t, "access-2")

	store := tokenstore.NewMemory()
	require.NoError(t, store.SetTokens(ctx, tokenstore.Pair{Access: "access-1", Refresh: "refresh-1"}))

	resets := atomic.Int32{}
	m := NewManager(store, authstate.DispatcherFunc(func(context.Context, authstate.Action) {
		resets.Add(1)
	}))

	started := make(chan struct{})
	release := make(chan struct{})
	refresh := func(context.Context, string) (tokenstore.Pair, error) {
		close(started)
		<-release
		return tokenstore.Pair{Access: "access-2", Refresh: "refresh-2"}, nil
	}
	require.NoError(t, m.CreateInstance(InstanceConfig{Name: "client", BaseURL: api.URL(), Refresh: refresh}))

	client, err := m.Instance("client", VariantDefault)
	require.NoError(t, err)

	initiator := make(chan error, 1)
	go func() {
		resp, err := client.R().Get("/orders")
		if err == nil && resp.StatusCode() != http.StatusOK {
			err = fmt.Errorf("status %d", resp.StatusCode())
		}
		initiator <- err
	}()
	<-started

	waiterCtx, cancel := context.WithCancel(ctx)
	waiter := make(chan error, 1)
	go func() {
		_, err := client.R().SetContext(waiterCtx).Get("/orders")
		waiter <- err
	}()

	require.Eventually(t, func() bool { return m.refresh.pending() == 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	err = <-waiter
	assert.ErrorIs(t, err, context.Canceled)
	var refreshErr *RefreshError
	assert.False(t, errors.As(err, &refreshErr), "cancelled waiter reported as expired session")
	assert.Equal(t, int32(0), resets.Load())

	close(release)
	require.NoError(t, <-initiator)
	assert.Equal(t, int32(0), resets.Load())
}
