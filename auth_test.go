package nest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordLogin(t *testing.T) {
	t.Run("successful login", func(t *testing.T) {
		f := newFakeNest(t)
		client := f.client(t)

		require.NoError(t, client.Login(context.Background(), false))
		assert.Equal(t, StateLive, client.SessionState())
		assert.Equal(t, int32(1), f.logins.Load())

		creds, err := client.session.Credentials()
		require.NoError(t, err)
		assert.Equal(t, "token-1", creds.AccessToken)
		assert.Equal(t, "1234", creds.UserID)
		assert.Equal(t, "user.1234", creds.User)
		assert.Equal(t, f.server.URL, creds.TransportURL)
		assert.True(t, creds.Valid())
	})

	t.Run("rejected credentials", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{
				"error":             "access_denied",
				"error_description": "bad password",
			})
		}))
		defer server.Close()

		client, err := NewPasswordClient("user@example.com", "wrong",
			WithBaseURL(server.URL), WithCacheStore(NewMemoryCacheStore()))
		require.NoError(t, err)

		err = client.Login(context.Background(), false)
		assert.True(t, IsAuthenticationFailed(err), "got %v", err)
		assert.Equal(t, StateExpired, client.SessionState())
	})

	t.Run("maintenance window", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>We're currently performing maintenance on your Nest account.</html>"))
		}))
		defer server.Close()

		client, err := NewPasswordClient("user@example.com", "secret",
			WithBaseURL(server.URL), WithCacheStore(NewMemoryCacheStore()))
		require.NoError(t, err)

		err = client.Login(context.Background(), false)
		assert.True(t, IsUnderMaintenance(err), "got %v", err)
	})

	t.Run("missing credentials", func(t *testing.T) {
		_, err := NewPasswordClient("", "secret")
		assert.ErrorIs(t, err, ErrMissingCredentials)
		_, err = NewPasswordClient("user@example.com", "")
		assert.ErrorIs(t, err, ErrMissingCredentials)
	})
}

func TestSessionCache(t *testing.T) {
	t.Run("cached credentials skip the network", func(t *testing.T) {
		f := newFakeNest(t)
		store := NewMemoryCacheStore()
		require.NoError(t, store.SaveCredentials(context.Background(), &Credentials{
			TransportURL: f.server.URL,
			AccessToken:  "cached-token",
			UserID:       "1234",
			User:         "user.1234",
			ExpiresAt:    time.Now().Add(time.Hour),
		}))

		client := f.client(t, WithCacheStore(store))
		require.NoError(t, client.Login(context.Background(), false))
		assert.Equal(t, StateCached, client.SessionState())
		assert.Equal(t, int32(0), f.logins.Load())
	})

	t.Run("expired cache forces a network login", func(t *testing.T) {
		f := newFakeNest(t)
		store := NewMemoryCacheStore()
		require.NoError(t, store.SaveCredentials(context.Background(), &Credentials{
			TransportURL: f.server.URL,
			AccessToken:  "stale-token",
			UserID:       "1234",
			User:         "user.1234",
			ExpiresAt:    time.Now().Add(-time.Minute),
		}))

		client := f.client(t, WithCacheStore(store))
		require.NoError(t, client.Login(context.Background(), false))
		assert.Equal(t, StateLive, client.SessionState())
		assert.Equal(t, int32(1), f.logins.Load())

		creds, err := client.session.Credentials()
		require.NoError(t, err)
		assert.Equal(t, "token-1", creds.AccessToken)
	})

	t.Run("force skips valid cache", func(t *testing.T) {
		f := newFakeNest(t)
		client := f.client(t)

		require.NoError(t, client.Login(context.Background(), false))
		require.NoError(t, client.Login(context.Background(), false))
		assert.Equal(t, int32(1), f.logins.Load(), "second Login should be a no-op")

		require.NoError(t, client.Login(context.Background(), true))
		assert.Equal(t, int32(2), f.logins.Load())
	})

	t.Run("logout drops the persisted record", func(t *testing.T) {
		f := newFakeNest(t)
		store := NewMemoryCacheStore()
		client := f.client(t, WithCacheStore(store))

		require.NoError(t, client.Login(context.Background(), false))
		saved, err := store.LoadCredentials(context.Background())
		require.NoError(t, err)
		require.NotNil(t, saved)

		client.Logout(context.Background())
		assert.Equal(t, StateExpired, client.SessionState())
		saved, err = store.LoadCredentials(context.Background())
		require.NoError(t, err)
		assert.Nil(t, saved)
	})
}

func TestGoogleLogin(t *testing.T) {
	t.Run("full bridge flow", func(t *testing.T) {
		mux := http.NewServeMux()
		server := httptest.NewServer(mux)
		defer server.Close()

		mux.HandleFunc("/issue_token", func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Cookie"); got != "SID=abc" {
				t.Errorf("Cookie = %q, want %q", got, "SID=abc")
			}
			if got := r.Header.Get("X-Requested-With"); got != "XmlHttpRequest" {
				t.Errorf("X-Requested-With = %q", got)
			}
			json.NewEncoder(w).Encode(map[string]string{"access_token": "google-token"})
		})
		mux.HandleFunc("/v1/issue_jwt", func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "Bearer google-token" {
				t.Errorf("Authorization = %q", got)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"jwt": "nest-jwt",
				"claims": map[string]any{
					"subject":        map[string]any{"nestId": map[string]string{"id": "5678"}},
					"expirationTime": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
				},
			})
		})
		mux.HandleFunc("/api/0.1/user/5678/app_launch", func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "Basic nest-jwt" {
				t.Errorf("Authorization = %q", got)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"service_urls": map[string]any{
					"urls": map[string]string{"transport_url": server.URL},
				},
			})
		})

		auth := &GoogleAuthenticator{
			IssueTokenURL: server.URL + "/issue_token",
			Cookies:       "SID=abc",
			JWTURL:        server.URL + "/v1/issue_jwt",
		}
		client, err := NewClient(auth, WithBaseURL(server.URL), WithCacheStore(NewMemoryCacheStore()))
		require.NoError(t, err)

		require.NoError(t, client.Login(context.Background(), false))
		creds, err := client.session.Credentials()
		require.NoError(t, err)
		assert.Equal(t, "nest-jwt", creds.AccessToken)
		assert.Equal(t, "5678", creds.UserID)
		assert.Equal(t, "user.5678", creds.User)
		assert.Equal(t, server.URL, creds.TransportURL)
	})

	t.Run("cookie rejection", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"error": "USER_LOGGED_OUT"})
		}))
		defer server.Close()

		auth := &GoogleAuthenticator{IssueTokenURL: server.URL, Cookies: "SID=expired"}
		client, err := NewClient(auth, WithBaseURL(server.URL), WithCacheStore(NewMemoryCacheStore()))
		require.NoError(t, err)

		err = client.Login(context.Background(), false)
		require.True(t, IsAuthenticationFailed(err), "got %v", err)
		assert.Contains(t, err.Error(), "USER_LOGGED_OUT")
	})

	t.Run("missing capture material", func(t *testing.T) {
		client, err := NewClient(&GoogleAuthenticator{}, WithCacheStore(NewMemoryCacheStore()))
		require.NoError(t, err)
		err = client.Login(context.Background(), false)
		assert.ErrorIs(t, err, ErrMissingCredentials)
	})
}

func TestParseExpiry(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"vendor layout", "Tue, 01-Sep-2026 10:00:00 UTC", true},
		{"rfc1123", "Tue, 01 Sep 2026 10:00:00 UTC", true},
		{"rfc3339", "2026-09-01T10:00:00Z", true},
		{"garbage", "next tuesday", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseExpiry(tt.input)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, 2026, got.Year())
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCredentialsValid(t *testing.T) {
	future := time.Now().Add(time.Hour)
	full := &Credentials{
		TransportURL: "https://transport.example",
		AccessToken:  "tok",
		UserID:       "1",
		User:         "user.1",
		ExpiresAt:    future,
	}
	assert.True(t, full.Valid())

	var nilCreds *Credentials
	assert.False(t, nilCreds.Valid())

	expired := *full
	expired.ExpiresAt = time.Now().Add(-time.Second)
	assert.False(t, expired.Valid())

	incomplete := *full
	incomplete.TransportURL = ""
	assert.False(t, incomplete.Valid())
}

func TestSessionStateString(t *testing.T) {
	assert.Equal(t, "no-session", StateNoSession.String())
	assert.Equal(t, "cached", StateCached.String())
	assert.Equal(t, "live", StateLive.String())
	assert.Equal(t, "expired", StateExpired.String())
}
