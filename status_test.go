package nest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	t.Run("fetched once then reused", func(t *testing.T) {
		f := newFakeNest(t)
		var fetches atomic.Int32
		f.mux.HandleFunc("/v3/mobile/user.1234", func(w http.ResponseWriter, r *http.Request) {
			fetches.Add(1)
			json.NewEncoder(w).Encode(testStatusDocument())
		})

		client := f.client(t)
		first, err := client.Status(context.Background())
		require.NoError(t, err)
		second, err := client.Status(context.Background())
		require.NoError(t, err)

		assert.Equal(t, int32(1), fetches.Load())
		_, ok := first.Object("device", "THERM1")
		assert.True(t, ok)
		_, ok = second.Object("device", "THERM1")
		assert.True(t, ok)
	})

	t.Run("fresh client logs in lazily", func(t *testing.T) {
		f := newFakeNest(t)
		f.serveStatus(testStatusDocument())

		client := f.client(t)
		require.Equal(t, StateNoSession, client.SessionState())

		snapshot, err := client.Status(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int32(1), f.logins.Load())
		assert.Equal(t, StateLive, client.SessionState())
		_, ok := snapshot.Object("device", "THERM1")
		assert.True(t, ok)
	})

	t.Run("refresh replaces the snapshot", func(t *testing.T) {
		f := newFakeNest(t)
		var fetches atomic.Int32
		f.mux.HandleFunc("/v3/mobile/user.1234", func(w http.ResponseWriter, r *http.Request) {
			fetches.Add(1)
			json.NewEncoder(w).Encode(testStatusDocument())
		})

		client := f.client(t)
		_, err := client.Status(context.Background())
		require.NoError(t, err)
		_, err = client.RefreshStatus(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int32(2), fetches.Load())
	})

	t.Run("clear forces a refetch", func(t *testing.T) {
		f := newFakeNest(t)
		var fetches atomic.Int32
		f.mux.HandleFunc("/v3/mobile/user.1234", func(w http.ResponseWriter, r *http.Request) {
			fetches.Add(1)
			json.NewEncoder(w).Encode(testStatusDocument())
		})

		client := f.client(t)
		_, err := client.Status(context.Background())
		require.NoError(t, err)
		client.ClearStatus()
		_, err = client.Status(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int32(2), fetches.Load())
	})

	t.Run("top-level scalars are skipped", func(t *testing.T) {
		f := newFakeNest(t)
		doc := testStatusDocument()
		doc["$timestamp"] = 1700000000000
		doc["$version"] = "2"
		f.serveStatus(doc)

		client := f.client(t)
		snapshot, err := client.Status(context.Background())
		require.NoError(t, err)
		_, ok := snapshot["$timestamp"]
		assert.False(t, ok)
		_, ok = snapshot.Object("shared", "THERM1")
		assert.True(t, ok)
	})

	t.Run("snapshot is persisted to the cache store", func(t *testing.T) {
		f := newFakeNest(t)
		f.serveStatus(testStatusDocument())
		store := NewMemoryCacheStore()

		client := f.client(t, WithCacheStore(store))
		_, err := client.Status(context.Background())
		require.NoError(t, err)

		saved, err := store.LoadStatus(context.Background())
		require.NoError(t, err)
		_, ok := saved.Object("device", "THERM1")
		assert.True(t, ok)
	})
}

func TestReinitState(t *testing.T) {
	t.Run("retried once with a fresh login", func(t *testing.T) {
		f := newFakeNest(t)
		var fetches atomic.Int32
		f.mux.HandleFunc("/v3/mobile/user.1234", func(w http.ResponseWriter, r *http.Request) {
			if fetches.Add(1) == 1 {
				json.NewEncoder(w).Encode(map[string]string{"cmd": "REINIT_STATE"})
				return
			}
			json.NewEncoder(w).Encode(testStatusDocument())
		})

		client := f.client(t)
		snapshot, err := client.Status(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int32(2), fetches.Load())
		assert.Equal(t, int32(2), f.logins.Load(), "exactly one re-login")
		_, ok := snapshot.Object("device", "THERM1")
		assert.True(t, ok)
	})

	t.Run("persistent signal fails", func(t *testing.T) {
		f := newFakeNest(t)
		f.mux.HandleFunc("/v3/mobile/user.1234", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"cmd": "REINIT_STATE"})
		})

		client := f.client(t)
		_, err := client.Status(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "REINIT_STATE")
	})
}

func TestBucketStatusFetcher(t *testing.T) {
	t.Run("buckets normalize to categories", func(t *testing.T) {
		mux := http.NewServeMux()
		server := httptest.NewServer(mux)
		defer server.Close()

		mux.HandleFunc("/issue_token", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"access_token": "g"})
		})
		mux.HandleFunc("/v1/issue_jwt", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"jwt": "jwt",
				"claims": map[string]any{
					"subject":        map[string]any{"nestId": map[string]string{"id": "9"}},
					"expirationTime": "2099-01-01T00:00:00Z",
				},
			})
		})
		var launches atomic.Int32
		mux.HandleFunc("/api/0.1/user/9/app_launch", func(w http.ResponseWriter, r *http.Request) {
			if launches.Add(1) == 1 {
				// transport resolution during login
				json.NewEncoder(w).Encode(map[string]any{
					"service_urls": map[string]any{
						"urls": map[string]string{"transport_url": server.URL},
					},
				})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"updated_buckets": []map[string]any{
					{"object_key": "device.ABC123", "value": map[string]string{"temperature_scale": "F"}},
					{"object_key": "shared.ABC123", "value": map[string]string{"name": "Den"}},
					{"object_key": "malformed-key", "value": map[string]string{}},
				},
			})
		})

		auth := &GoogleAuthenticator{
			IssueTokenURL: server.URL + "/issue_token",
			Cookies:       "SID=x",
			JWTURL:        server.URL + "/v1/issue_jwt",
		}
		client, err := NewClient(auth, WithBaseURL(server.URL), WithCacheStore(NewMemoryCacheStore()))
		require.NoError(t, err)

		snapshot, err := client.Status(context.Background())
		require.NoError(t, err)

		raw, ok := snapshot.Object("device", "ABC123")
		require.True(t, ok)
		assert.JSONEq(t, `{"temperature_scale":"F"}`, string(raw))
		raw, ok = snapshot.Object("shared", "ABC123")
		require.True(t, ok)
		assert.JSONEq(t, `{"name":"Den"}`, string(raw))
		_, ok = snapshot["malformed-key"]
		assert.False(t, ok)
	})
}

func TestSnapshotObject(t *testing.T) {
	snapshot := mustSnapshot(t, testStatusDocument())

	raw, ok := snapshot.Object("device", "THERM1")
	assert.True(t, ok)
	assert.True(t, json.Valid(raw))

	_, ok = snapshot.Object("device", "NOPE")
	assert.False(t, ok)
	_, ok = snapshot.Object("nope", "THERM1")
	assert.False(t, ok)

	var dev deviceObject
	err := snapshot.decode("device", "NOPE", &dev)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}
