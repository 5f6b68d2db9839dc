package nest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
)

// Snapshot is the normalized account status document: category name to
// object id to the raw value record. A snapshot is immutable once fetched;
// refreshes replace it wholesale.
type Snapshot map[string]map[string]json.RawMessage

// atomicSnapshot holds the authoritative snapshot for lock-free reads.
type atomicSnapshot = atomic.Pointer[Snapshot]

// Object returns the raw record for an object id within a category.
func (s Snapshot) Object(category, id string) (json.RawMessage, bool) {
	objects, ok := s[category]
	if !ok {
		return nil, false
	}
	raw, ok := objects[id]
	return raw, ok
}

// decode unmarshals one object record into v. A missing object reports
// ErrDeviceNotFound wrapped with its key.
func (s Snapshot) decode(category, id string, v any) error {
	raw, ok := s.Object(category, id)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrDeviceNotFound, category, id)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("nest: failed to parse %s.%s: %w", category, id, err)
	}
	return nil
}

// errReinitState is the application-layer stale-session signal inside an
// otherwise well-formed status response. Always resolved by the retry path,
// never surfaced.
var errReinitState = errors.New("nest: status fetch returned REINIT_STATE")

// statusFetcher is a status wire-shape strategy. Both shapes normalize to
// the same Snapshot.
type statusFetcher interface {
	fetch(ctx context.Context, c *Client) (Snapshot, error)
}

// mobileStatusFetcher reads the nested per-user status document.
type mobileStatusFetcher struct{}

func (mobileStatusFetcher) fetch(ctx context.Context, c *Client) (Snapshot, error) {
	// The document path carries the user handle, so the session has to
	// exist before the URL can even be built.
	if err := c.session.Login(ctx, false); err != nil {
		return nil, err
	}
	creds, err := c.session.Credentials()
	if err != nil {
		return nil, err
	}

	raw, err := c.get(ctx, "/v3/mobile/"+creds.User)
	if err != nil {
		return nil, err
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("nest: failed to parse status document: %w", err)
	}

	if cmdRaw, ok := top["cmd"]; ok {
		var cmd string
		if json.Unmarshal(cmdRaw, &cmd) == nil && cmd == "REINIT_STATE" {
			return nil, errReinitState
		}
	}

	snapshot := make(Snapshot, len(top))
	for category, value := range top {
		var objects map[string]json.RawMessage
		if err := json.Unmarshal(value, &objects); err != nil {
			// Top-level scalars (timestamps, flags) are not
			// categories.
			continue
		}
		snapshot[category] = objects
	}
	return snapshot, nil
}

// defaultBucketTypes is the bucket-type list requested from the app-launch
// endpoint; it covers every category the projections read.
var defaultBucketTypes = []string{
	"buckets", "device", "kryptonite", "link", "rcs_settings", "schedule",
	"shared", "structure", "topaz", "track", "user", "where",
}

// bucketStatusFetcher reads the flat bucket-list status shape.
type bucketStatusFetcher struct{}

func (bucketStatusFetcher) fetch(ctx context.Context, c *Client) (Snapshot, error) {
	if err := c.session.Login(ctx, false); err != nil {
		return nil, err
	}
	creds, err := c.session.Credentials()
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"known_bucket_types":    defaultBucketTypes,
		"known_bucket_versions": []int{},
	}
	raw, err := c.Call(ctx, http.MethodPost, c.baseURL+"/api/0.1/user/"+creds.UserID+"/app_launch", payload)
	if err != nil {
		return nil, err
	}

	var result struct {
		UpdatedBuckets []struct {
			ObjectKey string          `json:"object_key"`
			Value     json.RawMessage `json:"value"`
		} `json:"updated_buckets"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("nest: failed to parse app-launch response: %w", err)
	}

	snapshot := make(Snapshot)
	for _, bucket := range result.UpdatedBuckets {
		category, id, ok := strings.Cut(bucket.ObjectKey, ".")
		if !ok || category == "" || id == "" {
			// Unknown or malformed keys are skipped, not fatal.
			continue
		}
		if snapshot[category] == nil {
			snapshot[category] = make(map[string]json.RawMessage)
		}
		snapshot[category][id] = bucket.Value
	}
	return snapshot, nil
}

// Status returns the current status snapshot, fetching it once lazily. It
// never refetches on its own after that; call RefreshStatus for fresh state.
func (c *Client) Status(ctx context.Context) (Snapshot, error) {
	if snap := c.status.Load(); snap != nil {
		return *snap, nil
	}
	return c.RefreshStatus(ctx)
}

// RefreshStatus fetches the full account status document and replaces the
// in-memory snapshot. A REINIT_STATE signal forces a fresh login and exactly
// one retried fetch before failing.
func (c *Client) RefreshStatus(ctx context.Context) (Snapshot, error) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.refreshStatusLocked(ctx, true)
}

func (c *Client) refreshStatusLocked(ctx context.Context, retry bool) (Snapshot, error) {
	snapshot, err := c.fetcher.fetch(ctx, c)
	if errors.Is(err, errReinitState) {
		if !retry {
			return nil, fmt.Errorf("nest: status fetch returned REINIT_STATE again after re-login")
		}
		// The session is stale at the application layer even though
		// HTTP still accepted it.
		c.session.Invalidate(ctx)
		if loginErr := c.session.Login(ctx, true); loginErr != nil {
			return nil, loginErr
		}
		return c.refreshStatusLocked(ctx, false)
	}
	if err != nil {
		return nil, err
	}

	c.status.Store(&snapshot)
	if saveErr := c.store.SaveStatus(ctx, snapshot); saveErr != nil && c.logger != nil {
		c.logger.LogAttrs(ctx, slog.LevelWarn, "status_cache_save_failed",
			slog.String("error", saveErr.Error()))
	}
	return snapshot, nil
}

// ClearStatus drops the in-memory snapshot so the next read refetches.
func (c *Client) ClearStatus() {
	c.status.Store(nil)
}
