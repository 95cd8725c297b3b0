package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldline-inc/fieldline-engine/pkg/apperrors"
)

func newTestProvider(t *testing.T, handler http.Handler) *ClientCredentials {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p := NewClientCredentials("tenant-1", "client-1", "secret-1", "https://org.example")
	p.AuthorityBase = srv.URL
	return p
}

func TestGetAccessTokenCachesUntilExpiry(t *testing.T) {
	var hits int32
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		assert.Equal(t, "https://org.example/.default", r.Form.Get("scope"))
		_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":3600}`))
	}))

	ctx := context.Background()
	tok, err := p.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	tok, err = p.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "second call must hit the cache")
}

func TestGetAccessTokenFailureIsAuthError(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client","error_description":"bad secret"}`))
	}))

	_, err := p.GetAccessToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAuth))
	assert.Contains(t, err.Error(), "invalid_client")
}

func TestGetAccessTokenFailureClearsCachedToken(t *testing.T) {
	var hits int32
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n == 2 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"server_error"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok-` + string(rune('0'+n)) + `","expires_in":3600}`))
	}))

	ctx := context.Background()
	_, err := p.GetAccessToken(ctx)
	require.NoError(t, err)

	// Force re-acquisition; the platform fails this time.
	p.expires = p.expires.AddDate(-1, 0, 0)
	_, err = p.GetAccessToken(ctx)
	require.Error(t, err)
	assert.Empty(t, p.token, "a failed acquisition must not leave a stale token cached")

	// Next attempt recovers.
	tok, err := p.GetAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-3", tok)
}

func TestTokenExpiryPrefersExpiresIn(t *testing.T) {
	now := time.Now()

	expiry := tokenExpiry("not-a-jwt", 3600)
	assert.True(t, expiry.After(now.Add(50*time.Minute)), "expires_in minus skew should be close to an hour out")

	// No expires_in and an unparsable token: short default lifetime.
	fallback := tokenExpiry("not-a-jwt", 0)
	assert.True(t, fallback.After(now))
	assert.True(t, fallback.Before(now.Add(10*time.Minute)))
}
