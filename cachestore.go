package nest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// CacheStore persists the account-scoped session record between process
// runs: the credentials plus the last status snapshot. Implementations must
// treat a corrupt or unreadable record as a cache miss, never an error.
type CacheStore interface {
	// LoadCredentials returns the persisted credentials, or (nil, nil)
	// when there is no usable record.
	LoadCredentials(ctx context.Context) (*Credentials, error)

	// SaveCredentials persists the credentials, preserving any stored
	// snapshot.
	SaveCredentials(ctx context.Context, creds *Credentials) error

	// LoadStatus returns the persisted status snapshot, or (nil, nil)
	// when there is no usable record. The snapshot is reference material
	// only; it is never authoritative after a process restart.
	LoadStatus(ctx context.Context) (Snapshot, error)

	// SaveStatus persists the snapshot, preserving stored credentials.
	SaveStatus(ctx context.Context, status Snapshot) error

	// Clear removes the persisted record entirely.
	Clear(ctx context.Context) error
}

// cacheRecord is the on-disk shape of the account record.
type cacheRecord struct {
	Credentials *Credentials `json:"credentials,omitempty"`
	Status      Snapshot     `json:"status,omitempty"`
}

// CacheID derives a deterministic account identity token from the given
// identity material, so distinct accounts never share a record and the same
// account reuses its record across restarts.
func CacheID(identity ...string) string {
	h := sha256.New()
	for _, part := range identity {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// DefaultCachePath returns the default per-user record path for the given
// account identity material.
func DefaultCachePath(identity ...string) string {
	return filepath.Join(os.TempDir(), "nest_go_cache_"+CacheID(identity...))
}

// FileCacheStore stores the account record in a single JSON file, written
// atomically (temp file then rename) so concurrent process invocations never
// observe a half-written record.
type FileCacheStore struct {
	path string
	mu   sync.RWMutex
}

// NewFileCacheStore creates a FileCacheStore at the given path.
func NewFileCacheStore(path string) *FileCacheStore {
	return &FileCacheStore{path: path}
}

// Path returns the record's filesystem path.
func (f *FileCacheStore) Path() string { return f.path }

// LoadCredentials implements CacheStore.
func (f *FileCacheStore) LoadCredentials(ctx context.Context) (*Credentials, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	rec := f.read()
	if rec == nil {
		return nil, nil
	}
	return rec.Credentials, nil
}

// SaveCredentials implements CacheStore.
func (f *FileCacheStore) SaveCredentials(ctx context.Context, creds *Credentials) error {
	if creds == nil {
		return fmt.Errorf("nest: credentials cannot be nil")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.read()
	if rec == nil {
		rec = &cacheRecord{}
	}
	rec.Credentials = creds
	return f.write(rec)
}

// LoadStatus implements CacheStore.
func (f *FileCacheStore) LoadStatus(ctx context.Context) (Snapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	rec := f.read()
	if rec == nil {
		return nil, nil
	}
	return rec.Status, nil
}

// SaveStatus implements CacheStore.
func (f *FileCacheStore) SaveStatus(ctx context.Context, status Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.read()
	if rec == nil {
		rec = &cacheRecord{}
	}
	rec.Status = status
	return f.write(rec)
}

// Clear implements CacheStore.
func (f *FileCacheStore) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("nest: failed to remove cache record: %w", err)
	}
	return nil
}

// read loads and parses the record. Corruption is a cache miss.
func (f *FileCacheStore) read() *cacheRecord {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil
	}
	var rec cacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil
	}
	return &rec
}

// write persists the record with restrictive permissions via a temp file
// rename, creating the parent directory 0700 first.
func (f *FileCacheStore) write(rec *cacheRecord) error {
	dir := filepath.Dir(f.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("nest: failed to create cache directory: %w", err)
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("nest: failed to marshal cache record: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".nest_go_cache_*")
	if err != nil {
		return fmt.Errorf("nest: failed to create cache temp file: %w", err)
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("nest: failed to restrict cache permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("nest: failed to write cache record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("nest: failed to close cache temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("nest: failed to save cache record: %w", err)
	}
	return nil
}

// MemoryCacheStore keeps the account record in memory. Useful for tests and
// for callers that do not want credentials touching disk.
type MemoryCacheStore struct {
	mu  sync.RWMutex
	rec cacheRecord
}

// NewMemoryCacheStore creates an empty in-memory store.
func NewMemoryCacheStore() *MemoryCacheStore {
	return &MemoryCacheStore{}
}

// LoadCredentials implements CacheStore.
func (m *MemoryCacheStore) LoadCredentials(ctx context.Context) (*Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rec.Credentials, nil
}

// SaveCredentials implements CacheStore.
func (m *MemoryCacheStore) SaveCredentials(ctx context.Context, creds *Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec.Credentials = creds
	return nil
}

// LoadStatus implements CacheStore.
func (m *MemoryCacheStore) LoadStatus(ctx context.Context) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rec.Status, nil
}

// SaveStatus implements CacheStore.
func (m *MemoryCacheStore) SaveStatus(ctx context.Context, status Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec.Status = status
	return nil
}

// Clear implements CacheStore.
func (m *MemoryCacheStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = cacheRecord{}
	return nil
}
