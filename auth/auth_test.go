package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testJWT builds an unsigned token whose payload carries the given claims.
func testJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	body := base64.RawURLEncoding.EncodeToString(payload)
	sig := base64.RawURLEncoding.EncodeToString([]byte("sig"))
	return header + "." + body + "." + sig
}

func loginServer(t *testing.T, token string, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/Jwt/login", r.URL.Path)
		require.Equal(t, AppName, r.Header.Get("X-SC-ClientApp-Name"))
		require.Equal(t, AppVersion, r.Header.Get("X-SC-ClientApp-Version"))
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "user@example.com", req["userName"])
		require.Equal(t, true, req["rememberMe"])
		calls.Add(1)
		fmt.Fprintf(w, `{"token":%q}`, token)
	}))
}

func newTestManager(srv *httptest.Server) *Manager {
	return NewManager(Config{
		Credentials: Credentials{
			Username: "user@example.com",
			Password: "secret",
			ClientID: "client-uuid",
		},
		AuthBaseURL:    srv.URL,
		ServiceBaseURL: srv.URL,
	})
}

func TestAuthenticateDerivesExpiryFromExpClaim(t *testing.T) {
	var calls atomic.Int64
	token := testJWT(t, map[string]any{"exp": 1700000000})
	srv := loginServer(t, token, &calls)
	defer srv.Close()

	m := newTestManager(srv)
	require.NoError(t, m.Authenticate(context.Background()))
	assert.Equal(t, token, m.Token())
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), m.Expiry().UTC())
	assert.EqualValues(t, 1, calls.Load())
}

func TestAuthenticateRejectsMissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"other":"field"}`)
	}))
	defer srv.Close()

	m := newTestManager(srv)
	assert.ErrorIs(t, m.Authenticate(context.Background()), ErrNoToken)
}

func TestAuthenticateRejectsTokenWithoutExp(t *testing.T) {
	var calls atomic.Int64
	srv := loginServer(t, testJWT(t, map[string]any{"sub": "someone"}), &calls)
	defer srv.Close()

	m := newTestManager(srv)
	assert.ErrorIs(t, m.Authenticate(context.Background()), ErrBadExpiry)
	assert.Empty(t, m.Token())
}

func TestFailedAuthenticationKeepsCachedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cached := testJWT(t, map[string]any{"exp": 1700000000})
	expiry := time.Unix(1700000000, 0)
	m := NewManager(Config{
		Credentials:  Credentials{Username: "u", Password: "p", ClientID: "c"},
		AuthBaseURL:  srv.URL,
		CachedToken:  cached,
		CachedExpiry: expiry,
	})

	require.Error(t, m.Authenticate(context.Background()))
	assert.Equal(t, cached, m.Token())
	assert.True(t, m.Expiry().Equal(expiry))
}

func TestEnsureValidSkipsNetworkForFreshToken(t *testing.T) {
	var calls atomic.Int64
	srv := loginServer(t, testJWT(t, map[string]any{"exp": 1700000000}), &calls)
	defer srv.Close()

	m := newTestManager(srv)
	m.now = func() time.Time { return time.Unix(1000, 0) }
	m.token = "cached"
	m.expiry = time.Unix(1000+3600, 0)

	require.NoError(t, m.EnsureValid(context.Background()))
	assert.EqualValues(t, 0, calls.Load())
	assert.Equal(t, "cached", m.Token())
}

func TestEnsureValidRefreshesInsideMargin(t *testing.T) {
	var calls atomic.Int64
	fresh := testJWT(t, map[string]any{"exp": 1700000000})
	srv := loginServer(t, fresh, &calls)
	defer srv.Close()

	m := newTestManager(srv)
	m.now = func() time.Time { return time.Unix(1000, 0) }
	m.token = "stale"
	m.expiry = time.Unix(1000+200, 0) // inside the 300s margin

	require.NoError(t, m.EnsureValid(context.Background()))
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, fresh, m.Token())
}

func TestEnsureValidWithoutTokenAuthenticates(t *testing.T) {
	var calls atomic.Int64
	srv := loginServer(t, testJWT(t, map[string]any{"exp": 1700000000}), &calls)
	defer srv.Close()

	m := newTestManager(srv)
	require.NoError(t, m.EnsureValid(context.Background()))
	assert.EqualValues(t, 1, calls.Load())
}

func TestConcurrentEnsureValidCollapsesToOneLogin(t *testing.T) {
	var calls atomic.Int64
	token := testJWT(t, map[string]any{"exp": time.Now().Add(2 * time.Hour).Unix()})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond) // hold the request open so callers overlap
		fmt.Fprintf(w, `{"token":%q}`, token)
	}))
	defer srv.Close()

	m := newTestManager(srv)
	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.EnsureValid(context.Background())
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, token, m.Token())
}
