package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"schooldesk/internal/client/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend speaks the auth wire contract: bearer-protected routes
// plus a refresh endpoint that rotates r1 -> r2 exactly once.
type fakeBackend struct {
	mu           sync.Mutex
	validAccess  string
	validRefresh string
	refreshCalls int32
	refreshDead  bool
	rejectAll    bool
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&b.refreshCalls, 1)

		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		b.mu.Lock()
		defer b.mu.Unlock()

		if b.refreshDead || req.RefreshToken != b.validRefresh {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"error":   map[string]string{"code": "INVALID_REFRESH_TOKEN", "message": "Refresh token is invalid or expired"},
			})
			return
		}

		// single-use: the old refresh token dies here
		b.validAccess = "a2"
		b.validRefresh = "r2"

		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"tokens": map[string]string{"access_token": "a2", "refresh_token": "r2"},
			},
		})
	})

	mux.HandleFunc("/api/v1/students", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		valid := "Bearer " + b.validAccess
		rejectAll := b.rejectAll
		b.mu.Unlock()

		if rejectAll || r.Header.Get("Authorization") != valid {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"error":   map[string]string{"code": "TOKEN_EXPIRED", "message": "Access token has expired"},
			})
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"students": []any{}},
		})
	})

	return mux
}

func newTestClient(t *testing.T, backend *fakeBackend, opts ...Option) (*Client, session.Store) {
	t.Helper()

	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	store := session.NewMemoryStore()
	require.NoError(t, store.Save(session.Pair{AccessToken: "a1-stale", RefreshToken: "r1", UserID: 1}))

	return New(srv.URL, store, opts...), store
}

func TestDo_ConcurrentExpiry_OneRotation(t *testing.T) {
	backend := &fakeBackend{validAccess: "a1", validRefresh: "r1"}
	client, store := newTestClient(t, backend)

	const n = 5
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			err := client.Do(context.Background(), http.MethodGet, "/api/v1/students", nil, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.refreshCalls),
		"all concurrent 401s share one refresh call")

	pair, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a2", pair.AccessToken)
	assert.Equal(t, "r2", pair.RefreshToken)
}

func TestDo_RetriesAtMostOnce(t *testing.T) {
	// the protected route rejects every token, so the retried request
	// fails even after a successful rotation
	backend := &fakeBackend{validAccess: "a1", validRefresh: "r1", rejectAll: true}
	client, _ := newTestClient(t, backend)

	err := client.Do(context.Background(), http.MethodGet, "/api/v1/students", nil, nil)
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&backend.refreshCalls),
		"a rejected retry must not trigger another rotation")
}

func TestDo_TerminalRefreshFailure(t *testing.T) {
	backend := &fakeBackend{validAccess: "a1", validRefresh: "r1", refreshDead: true}

	var notifications int32
	client, store := newTestClient(t, backend, WithSessionExpiredHandler(func() {
		atomic.AddInt32(&notifications, 1)
	}))

	const n = 4
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			err := client.Do(context.Background(), http.MethodGet, "/api/v1/students", nil, nil)
			assert.ErrorIs(t, err, session.ErrSessionExpired)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&notifications))

	_, ok, err := store.Load()
	require.NoError(t, err)
	assert.False(t, ok, "expired session is cleared from the store")

	// subsequent calls fail fast without touching the network
	before := atomic.LoadInt32(&backend.refreshCalls)
	err = client.Do(context.Background(), http.MethodGet, "/api/v1/students", nil, nil)
	assert.ErrorIs(t, err, session.ErrSessionExpired)
	assert.Equal(t, before, atomic.LoadInt32(&backend.refreshCalls))
}

func TestDo_NoStoredSession(t *testing.T) {
	backend := &fakeBackend{validAccess: "a1", validRefresh: "r1"}
	srv := httptest.NewServer(backend.handler())
	t.Cleanup(srv.Close)

	client := New(srv.URL, session.NewMemoryStore())

	err := client.Do(context.Background(), http.MethodGet, "/api/v1/students", nil, nil)
	assert.ErrorIs(t, err, session.ErrNoSession)
}
