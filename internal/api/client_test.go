package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/okazan/clauth/internal/apperrors"
	"github.com/okazan/clauth/internal/models"
	"github.com/okazan/clauth/internal/secretstore"
	"github.com/okazan/clauth/internal/session"
	"github.com/okazan/clauth/internal/testutil"
)

// newTestClient wires a client against the given base URL with fresh
// in-memory stores
func newTestClient(t *testing.T, baseURL string) (*Client, *session.Store, *secretstore.Memory) {
	t.Helper()

	sess := session.NewStore()
	secrets := secretstore.NewMemory()

	c, err := NewClient(Config{BaseURL: baseURL}, sess, secrets)
	require.NoError(t, err, "client should be created without errors")

	return c, sess, secrets
}

// signIn logs the client in against the fake server
func signIn(t *testing.T, c *Client, srv *testutil.AuthServer) models.User {
	t.Helper()

	user, err := c.Login(t.Context(), srv.User.Email, srv.Password)
	require.NoError(t, err, "login against the fake server should succeed")

	return user
}

func TestClient_New(t *testing.T) {
	t.Run("requires base url", func(t *testing.T) {
		_, err := NewClient(Config{}, session.NewStore(), secretstore.NewMemory())

		require.Error(t, err)
	})

	t.Run("requires stores", func(t *testing.T) {
		_, err := NewClient(Config{BaseURL: "http://localhost"}, nil, nil)

		require.Error(t, err)
	})

	t.Run("trims trailing slash", func(t *testing.T) {
		var gotPath string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		c, _, _ := newTestClient(t, srv.URL+"/")

		err := c.Do(t.Context(), http.MethodGet, "/v1/ping", nil, nil)

		require.NoError(t, err)
		require.Equal(t, "/v1/ping", gotPath)
	})
}

func TestClient_Do(t *testing.T) {
	t.Parallel()

	t.Run("attaches bearer and json headers", func(t *testing.T) {
		var gotAuth, gotContentType, gotRequestID string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotContentType = r.Header.Get("Content-Type")
			gotRequestID = r.Header.Get("X-Request-Id")
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		c, sess, _ := newTestClient(t, srv.URL)
		sess.Set("A1", nil)

		err := c.Do(t.Context(), http.MethodPost, "/v1/things", map[string]string{"k": "v"}, nil)

		require.NoError(t, err)
		require.Equal(t, "Bearer A1", gotAuth)
		require.Equal(t, "application/json", gotContentType)
		require.NotEmpty(t, gotRequestID, "every request should carry a request id")
	})

	t.Run("no bearer header when signed out", func(t *testing.T) {
		var gotAuth string
		var hasAuth bool
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			_, hasAuth = r.Header["Authorization"]
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		c, _, _ := newTestClient(t, srv.URL)

		err := c.Do(t.Context(), http.MethodGet, "/v1/ping", nil, nil)

		require.NoError(t, err)
		require.False(t, hasAuth, "no Authorization header expected, got %q", gotAuth)
	})

	t.Run("decodes json body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"message": "pong"}`))
		}))
		defer srv.Close()

		c, _, _ := newTestClient(t, srv.URL)

		var out struct {
			Message string `json:"message"`
		}
		err := c.Do(t.Context(), http.MethodGet, "/v1/ping", nil, &out)

		require.NoError(t, err)
		require.Equal(t, "pong", out.Message)
	})

	t.Run("empty body is not an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		c, _, _ := newTestClient(t, srv.URL)

		var out struct {
			Message string `json:"message"`
		}
		err := c.Do(t.Context(), http.MethodDelete, "/v1/things/1", nil, &out)

		require.NoError(t, err)
		require.Empty(t, out.Message, "out should be left untouched")
	})

	t.Run("maps structured error body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error": "email_taken", "message": "email already registered", "details": {"email": "a@b.com"}}`))
		}))
		defer srv.Close()

		c, _, _ := newTestClient(t, srv.URL)

		err := c.Do(t.Context(), http.MethodPost, "/v1/things", nil, nil)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusConflict, apiErr.Status)
		require.Equal(t, "email_taken", apiErr.Code)
		require.Equal(t, "email already registered", apiErr.Message)
		require.Equal(t, map[string]any{"email": "a@b.com"}, apiErr.Details)
	})

	t.Run("falls back to status text on unparseable body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream exploded"))
		}))
		defer srv.Close()

		c, _, _ := newTestClient(t, srv.URL)

		err := c.Do(t.Context(), http.MethodGet, "/v1/ping", nil, nil)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusBadGateway, apiErr.Status)
		require.Equal(t, "502 Bad Gateway", apiErr.Message)
	})

	t.Run("transport error is not an APIError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		c, _, _ := newTestClient(t, srv.URL)

		err := c.Do(t.Context(), http.MethodGet, "/v1/ping", nil, nil)

		require.Error(t, err)
		var apiErr *APIError
		require.False(t, errors.As(err, &apiErr), "transport failures should not look like server errors")
	})
}

func TestClient_RefreshAndRetry(t *testing.T) {
	t.Parallel()

	t.Run("no refresh when request succeeds", func(t *testing.T) {
		srv := testutil.NewAuthServer()
		defer srv.Close()

		c, _, _ := newTestClient(t, srv.URL)
		signIn(t, c, srv)

		var out struct {
			Message string `json:"message"`
		}
		err := c.Do(t.Context(), http.MethodGet, "/v1/ping", nil, &out)

		require.NoError(t, err)
		require.Equal(t, "pong", out.Message)
		require.Equal(t, 0, srv.RefreshCalls(), "valid access token must not trigger a refresh")
	})

	t.Run("401 refreshes once and retries", func(t *testing.T) {
		srv := testutil.NewAuthServer()
		defer srv.Close()

		c, sess, secrets := newTestClient(t, srv.URL)
		user := signIn(t, c, srv)
		srv.ExpireAccess()

		var out struct {
			Message string `json:"message"`
		}
		err := c.Do(t.Context(), http.MethodGet, "/v1/ping", nil, &out)

		require.NoError(t, err)
		require.Equal(t, "pong", out.Message, "retry response body should be returned")
		require.Equal(t, 1, srv.RefreshCalls(), "exactly one refresh call expected")

		snap := sess.Snapshot()
		require.Equal(t, srv.CurrentAccess(), snap.AccessToken, "access token should be rotated")
		require.NotNil(t, snap.User)
		require.Equal(t, user.ID, snap.User.ID, "user identity should be preserved, not re-derived")

		stored, err := secrets.Get(t.Context())
		require.NoError(t, err)
		require.Equal(t, srv.CurrentRefresh(), stored, "rotated refresh token should be persisted")
	})

	t.Run("401 on retry surfaces without second refresh", func(t *testing.T) {
		srv := testutil.NewAuthServer()
		defer srv.Close()

		c, _, _ := newTestClient(t, srv.URL)
		signIn(t, c, srv)
		srv.ForbidAccess()

		err := c.Do(t.Context(), http.MethodGet, "/v1/ping", nil, nil)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusUnauthorized, apiErr.Status)
		require.NotEqual(t, CodeRefreshFailed, apiErr.Code)
		require.NotEqual(t, CodeNoRefreshToken, apiErr.Code)
		require.Equal(t, 1, srv.RefreshCalls(), "a second 401 must never trigger a second refresh")
	})

	t.Run("401 without stored refresh token is terminal", func(t *testing.T) {
		srv := testutil.NewAuthServer()
		defer srv.Close()

		c, sess, _ := newTestClient(t, srv.URL)
		sess.Set("stale-access", &models.User{ID: "u1"})

		err := c.Do(t.Context(), http.MethodGet, "/v1/ping", nil, nil)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, http.StatusUnauthorized, apiErr.Status)
		require.Equal(t, CodeNoRefreshToken, apiErr.Code)
		require.ErrorIs(t, err, apperrors.ErrNoRefreshToken)

		require.False(t, sess.Snapshot().SignedIn(), "session should be cleared")
		require.Equal(t, 0, srv.RefreshCalls(), "no refresh call can be made without a token")
	})

	t.Run("rejected refresh clears all state", func(t *testing.T) {
		srv := testutil.NewAuthServer()
		defer srv.Close()

		c, sess, secrets := newTestClient(t, srv.URL)
		sess.Set("stale-access", &models.User{ID: "u1"})
		require.NoError(t, secrets.Set(t.Context(), "unknown-refresh-token"))

		err := c.Do(t.Context(), http.MethodGet, "/v1/ping", nil, nil)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, CodeRefreshFailed, apiErr.Code)
		require.Equal(t, http.StatusUnauthorized, apiErr.Status, "refresh endpoint status should be carried over")
		require.ErrorIs(t, err, apperrors.ErrRefreshFailed)

		require.False(t, sess.Snapshot().SignedIn(), "session should be cleared")
		_, err = secrets.Get(t.Context())
		require.ErrorIs(t, err, apperrors.ErrSecretNotFound, "rejected refresh token should be deleted")
	})

	t.Run("refresh network failure clears all state", func(t *testing.T) {
		// Server that 401s the request and drops the refresh connection
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/v1/auth/refresh" {
				panic(http.ErrAbortHandler)
			}
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		c, sess, secrets := newTestClient(t, srv.URL)
		sess.Set("stale-access", &models.User{ID: "u1"})
		require.NoError(t, secrets.Set(t.Context(), "some-refresh-token"))

		err := c.Do(t.Context(), http.MethodGet, "/v1/ping", nil, nil)

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, CodeRefreshFailed, apiErr.Code)
		require.ErrorIs(t, err, apperrors.ErrRefreshFailed)
		require.False(t, sess.Snapshot().SignedIn())
		_, err = secrets.Get(t.Context())
		require.ErrorIs(t, err, apperrors.ErrSecretNotFound)
	})

	t.Run("concurrent 401s share one refresh", func(t *testing.T) {
		srv := testutil.NewAuthServer()
		defer srv.Close()

		c, _, _ := newTestClient(t, srv.URL)
		signIn(t, c, srv)
		srv.ExpireAccess()
		srv.SetRefreshDelay(150 * time.Millisecond)

		const workers = 8
		var wg sync.WaitGroup
		errs := make([]error, workers)

		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = c.Do(t.Context(), http.MethodGet, "/v1/ping", nil, nil)
			}()
		}
		wg.Wait()

		for i, err := range errs {
			require.NoError(t, err, "request %d should succeed after the shared refresh", i)
		}
		require.Equal(t, 1, srv.RefreshCalls(), "concurrent 401s must coalesce into one refresh")
	})
}
