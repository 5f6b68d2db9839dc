package nest

import (
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	// caBundleURL is where the trusted CA bundle is refreshed from.
	caBundleURL = "https://curl.se/ca/cacert.pem"

	// caBundleMaxAge is how old the persisted bundle may get before it is
	// refreshed.
	caBundleMaxAge = 30 * 24 * time.Hour

	// caBundleMinSize guards against truncated downloads; a real bundle
	// is far larger.
	caBundleMinSize = 100000
)

// DefaultCABundlePath returns the per-user location of the refreshed CA
// bundle record.
func DefaultCABundlePath() string {
	return filepath.Join(os.TempDir(), "nest_go_cacert.pem")
}

// WithCABundle pins the TLS trust root to a CA bundle persisted at path,
// downloading a fresh copy when the file is missing, truncated, or older
// than a month. An empty path selects DefaultCABundlePath. When the bundle
// cannot be obtained the client falls back to the system trust store;
// certificate verification is never disabled.
func WithCABundle(path string) Option {
	return func(c *Client) {
		if path == "" {
			path = DefaultCABundlePath()
		}
		c.caBundle = path
	}
}

// loadCABundle returns a certificate pool from the persisted bundle,
// refreshing it first when stale.
func loadCABundle(hc *http.Client, path string) (*x509.CertPool, error) {
	if stale(path) {
		if err := refreshCABundle(hc, path); err != nil {
			// A stale-but-present bundle is still usable.
			if _, statErr := os.Stat(path); statErr != nil {
				return nil, err
			}
		}
	}

	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("CA bundle at %s contains no usable certificates", path)
	}
	return pool, nil
}

// stale reports whether the bundle must be re-downloaded.
func stale(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return info.Size() < caBundleMinSize || time.Since(info.ModTime()) > caBundleMaxAge
}

// refreshCABundle downloads the bundle and swaps it into place atomically.
func refreshCABundle(hc *http.Client, path string) error {
	resp, err := hc.Get(caBundleURL)
	if err != nil {
		return fmt.Errorf("failed to download CA bundle: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("CA bundle download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read CA bundle: %w", err)
	}
	if len(data) < caBundleMinSize {
		return fmt.Errorf("CA bundle download truncated (%d bytes)", len(data))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".nest_go_cacert_*")
	if err != nil {
		return fmt.Errorf("failed to create CA bundle temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write CA bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close CA bundle temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to save CA bundle: %w", err)
	}
	return nil
}
