package resolver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"playerident/db"
	"playerident/internal/config"
	"playerident/internal/fetcher"
	"playerident/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	srv   *httptest.Server
	calls atomic.Int32
}

func newFakeAPI(t *testing.T, handler http.HandlerFunc) *fakeAPI {
	t.Helper()
	api := &fakeAPI{}
	api.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(api.srv.Close)
	return api
}

func status(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}
}

func body(s string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(s))
	}
}

const aliceProfile = `{"id":"5f3c6a2e0d1b4c8a9e7f1a2b3c4d5e6f","name":"Alice"}`

func TestResolveIdentityFillsCacheFromLocal(t *testing.T) {
	r := newTestResolver(t, offlineEndpoints(), localOnly())
	r.env.join(aliceID, "Alice")

	id, err := r.ResolveIdentity(context.Background(), "Alice", true)
	require.NoError(t, err)
	assert.Equal(t, aliceID, id)
	assert.Equal(t, int32(1), r.env.calls.Load())

	cached, err := r.GetID("Alice")
	require.NoError(t, err)
	assert.Equal(t, aliceID, cached)

	id, err = r.ResolveIdentity(context.Background(), "alice", true)
	require.NoError(t, err)
	assert.Equal(t, aliceID, id)
	assert.Equal(t, int32(1), r.env.calls.Load())

	stmts := r.store.statements()
	require.Len(t, stmts, 1)
	assert.Equal(t, db.CompactUUID(aliceID), stmts[0].Args[0])
}

func TestResolveNameFillsCacheFromLocal(t *testing.T) {
	r := newTestResolver(t, offlineEndpoints(), localOnly())
	r.env.join(bobID, "Bob")

	name, err := r.ResolveName(context.Background(), bobID, false)
	require.NoError(t, err)
	assert.Equal(t, "Bob", name)
	assert.True(t, r.IDExists(bobID))
}

func TestResolveFallsBackToCanonicalAPI(t *testing.T) {
	ashcon := newFakeAPI(t, status(http.StatusNotFound))
	mojang := newFakeAPI(t, body(aliceProfile))
	endpoints := offlineEndpoints()
	endpoints.Ashcon = ashcon.srv.URL + "/{subject}"
	endpoints.MojangProfile = mojang.srv.URL + "/{subject}"
	r := newTestResolver(t, endpoints, config.FetcherConfig{LocalLookup: true, Ashcon: true, Mojang: true})

	id, err := r.ResolveIdentity(context.Background(), "Alice", true)
	require.NoError(t, err)
	assert.Equal(t, aliceID, id)
	assert.Equal(t, int32(1), ashcon.calls.Load())
	assert.Equal(t, int32(1), mojang.calls.Load())
	assert.Equal(t, int32(1), r.env.calls.Load())

	name, err := r.GetName(aliceID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)
	stmts := r.store.statements()
	require.Len(t, stmts, 1)
	assert.Equal(t, db.InsertIdentity(aliceID, "Alice", models.EmptyIPList, 1700000000, 1700000000), stmts[0])
}

func TestResolveNameUsesFastAPIFirst(t *testing.T) {
	ashcon := newFakeAPI(t, body(`{"uuid":"5f3c6a2e-0d1b-4c8a-9e7f-1a2b3c4d5e6f","username":"Alice"}`))
	mojang := newFakeAPI(t, body(aliceProfile))
	endpoints := offlineEndpoints()
	endpoints.Ashcon = ashcon.srv.URL + "/{subject}"
	endpoints.MojangSession = mojang.srv.URL + "/{subject}"
	r := newTestResolver(t, endpoints, config.FetcherConfig{Ashcon: true, Mojang: true})

	name, err := r.ResolveName(context.Background(), aliceID, true)
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)
	assert.Equal(t, int32(1), ashcon.calls.Load())
	assert.Zero(t, mojang.calls.Load())
	assert.Zero(t, r.env.calls.Load())
}

func TestResolveSkipsNetworkWhenNotAllowed(t *testing.T) {
	api := newFakeAPI(t, body(aliceProfile))
	endpoints := offlineEndpoints()
	endpoints.Ashcon = api.srv.URL + "/{subject}"
	endpoints.MojangProfile = api.srv.URL + "/{subject}"
	fc := config.FetcherConfig{LocalLookup: true, Ashcon: true, Mojang: true}

	t.Run("caller forbids network", func(t *testing.T) {
		r := newTestResolver(t, endpoints, fc)
		_, err := r.ResolveIdentity(context.Background(), "Alice", false)
		var notFound *PlayerNotFoundError
		require.True(t, errors.As(err, &notFound))
		assert.Equal(t, "Alice", notFound.Subject)
	})

	t.Run("environment does not verify identities", func(t *testing.T) {
		r := newTestResolver(t, endpoints, fc)
		r.env.offline = true
		_, err := r.ResolveIdentity(context.Background(), "Alice", true)
		var notFound *PlayerNotFoundError
		assert.True(t, errors.As(err, &notFound))
	})

	t.Run("sources disabled", func(t *testing.T) {
		r := newTestResolver(t, endpoints, config.FetcherConfig{})
		_, err := r.ResolveIdentity(context.Background(), "Alice", true)
		var notFound *PlayerNotFoundError
		assert.True(t, errors.As(err, &notFound))
		assert.Zero(t, r.env.calls.Load())
	})

	assert.Zero(t, api.calls.Load())
}

func TestResolveReportsEveryStageFailure(t *testing.T) {
	ashcon := newFakeAPI(t, status(http.StatusInternalServerError))
	mojang := newFakeAPI(t, status(http.StatusNoContent))
	endpoints := offlineEndpoints()
	endpoints.Ashcon = ashcon.srv.URL + "/{subject}"
	endpoints.MojangProfile = mojang.srv.URL + "/{subject}"
	r := newTestResolver(t, endpoints, config.FetcherConfig{LocalLookup: true, Ashcon: true, Mojang: true})

	_, err := r.ResolveIdentity(context.Background(), "Nobody", true)
	var notFound *PlayerNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Contains(t, err.Error(), "Nobody")

	var f *fetcher.Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, fetcher.Transient, f.Kind)
	assert.Contains(t, notFound.Err.Error(), "cache")
	assert.Contains(t, notFound.Err.Error(), "local")
	assert.Contains(t, notFound.Err.Error(), "Mojang")
	assert.Empty(t, r.store.statements())
}

func TestCanceledCallerDoesNotFailSharedResolve(t *testing.T) {
	release := make(chan struct{})
	ashcon := newFakeAPI(t, func(w http.ResponseWriter, req *http.Request) {
		select {
		case <-release:
		case <-req.Context().Done():
			return
		}
		w.Write([]byte(`{"uuid":"5f3c6a2e-0d1b-4c8a-9e7f-1a2b3c4d5e6f","username":"Alice"}`))
	})
	endpoints := offlineEndpoints()
	endpoints.Ashcon = ashcon.srv.URL + "/{subject}"
	r := newTestResolver(t, endpoints, config.FetcherConfig{Ashcon: true})

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := r.ResolveIdentity(ctx, "Alice", true)
		first <- err
	}()
	require.Eventually(t, func() bool { return ashcon.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-first:
		assert.ErrorIs(t, err, context.Canceled)
		var notFound *PlayerNotFoundError
		assert.False(t, errors.As(err, &notFound))
	case <-time.After(2 * time.Second):
		t.Fatal("canceled caller kept waiting")
	}

	type result struct {
		id  uuid.UUID
		err error
	}
	second := make(chan result, 1)
	go func() {
		id, err := r.ResolveIdentity(context.Background(), "Alice", true)
		second <- result{id, err}
	}()
	close(release)

	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.Equal(t, aliceID, res.id)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never got a result")
	}
	assert.Equal(t, int32(1), ashcon.calls.Load())
}

func TestResolveIdentitySkipsRateLimitedAPI(t *testing.T) {
	ashcon := newFakeAPI(t, status(http.StatusTooManyRequests))
	mojang := newFakeAPI(t, body(aliceProfile))
	endpoints := offlineEndpoints()
	endpoints.Ashcon = ashcon.srv.URL + "/{subject}"
	endpoints.MojangProfile = mojang.srv.URL + "/{subject}"
	r := newTestResolver(t, endpoints, config.FetcherConfig{Ashcon: true, Mojang: true})

	_, err := r.ResolveIdentity(context.Background(), "Alice", true)
	require.NoError(t, err)
	_, err = r.ResolveIdentity(context.Background(), "Bob", true)
	require.NoError(t, err)

	assert.Equal(t, int32(1), ashcon.calls.Load())
	assert.Equal(t, int32(2), mojang.calls.Load())

	for _, s := range r.Services() {
		if s.Name == "Ashcon" {
			assert.False(t, s.Available)
			require.NotNil(t, s.AvailableAgain)
			assert.True(t, s.AvailableAgain.Equal(r.clock.Now().Add(fetcher.AshconCooldown)))
		}
	}
}

func TestServicesListsEveryEndpoint(t *testing.T) {
	r := newTestResolver(t, offlineEndpoints(), localOnly())

	services := r.Services()
	require.Len(t, services, 6)
	for _, s := range services {
		assert.True(t, s.Available, s.Name)
		assert.Nil(t, s.AvailableAgain)
	}
}
