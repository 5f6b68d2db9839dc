package nest

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultBaseURL is the vendor's account service base URL. The session
	// endpoint, weather lookup and app-launch call live here; everything
	// else is resolved against the per-account transport URL obtained at
	// login.
	DefaultBaseURL = "https://home.nest.com"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultUserAgent is sent on every request; the service historically
	// rejected unknown agents.
	DefaultUserAgent = "Nest/2.1.3 CFNetwork/548.0.4"

	// protocolVersion is the value of the X-nl-protocol-version header.
	protocolVersion = "1"

	// maintenanceMarker is the text the service embeds in non-JSON bodies
	// during account maintenance windows.
	maintenanceMarker = "currently performing maintenance on your Nest account"

	// weatherPath marks the one unauthenticated endpoint.
	weatherPath = "/api/0.1/weather/forecast/"
)

// Client is a Nest API client. All reads and writes pass through its single
// request pipeline, which transparently re-authenticates once on session
// expiry.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
	store      CacheStore
	caBundle   string

	session *Session
	fetcher statusFetcher

	statusMu sync.Mutex
	status   atomicSnapshot
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom account service base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client. The caller is then responsible
// for the transport's TLS configuration.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		c.httpClient.Timeout = timeout
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithCacheStore sets the store for the persisted credentials + status
// record. Defaults to a FileCacheStore under the user's temp directory,
// keyed by account identity.
func WithCacheStore(store CacheStore) Option {
	return func(c *Client) {
		c.store = store
	}
}

// NewClient creates a Nest client for the account the Authenticator
// describes. No network call is made until the first operation (or an
// explicit Login).
func NewClient(auth Authenticator, opts ...Option) (*Client, error) {
	if auth == nil {
		return nil, ErrMissingCredentials
	}

	c := &Client{
		baseURL:   DefaultBaseURL,
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if c.httpClient.Transport == nil {
		// The service requires TLS 1.0 or newer; verification stays on
		// and the trust root is the optional refreshed CA bundle.
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS10}
		if c.caBundle != "" {
			if pool, err := loadCABundle(c.httpClient, c.caBundle); err == nil {
				tlsConfig.RootCAs = pool
			} else if c.logger != nil {
				c.logger.LogAttrs(context.Background(), slog.LevelWarn, "ca_bundle_unavailable",
					slog.String("path", c.caBundle),
					slog.String("error", err.Error()))
			}
		}
		c.httpClient.Transport = &http.Transport{
			TLSClientConfig:     tlsConfig,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		}
	}
	if c.store == nil {
		c.store = NewFileCacheStore(DefaultCachePath(auth.cacheIdentity()...))
	}

	c.session = newSession(auth, c.store, authEnv{
		httpClient: c.httpClient,
		baseURL:    c.baseURL,
		userAgent:  c.userAgent,
		logger:     c.logger,
	})
	c.fetcher = auth.statusFetcher()
	return c, nil
}

// NewPasswordClient is shorthand for NewClient with a PasswordAuthenticator.
func NewPasswordClient(username, password string, opts ...Option) (*Client, error) {
	if username == "" || password == "" {
		return nil, ErrMissingCredentials
	}
	return NewClient(&PasswordAuthenticator{Username: username, Password: password}, opts...)
}

// Login establishes a session now instead of on first use. force skips the
// credential cache and performs a network login unconditionally.
func (c *Client) Login(ctx context.Context, force bool) error {
	return c.session.Login(ctx, force)
}

// SessionState returns the authentication state of the underlying session.
func (c *Client) SessionState() SessionState {
	return c.session.State()
}

// Logout drops the in-memory and persisted credentials.
func (c *Client) Logout(ctx context.Context) {
	c.session.Invalidate(ctx)
}

// Call performs an API call through the request pipeline. A url beginning
// with '/' is resolved against the session's transport URL. The returned
// payload is nil for accepted empty-body commands. Retried exactly once,
// with a fresh login, when the session proves expired mid-call.
func (c *Client) Call(ctx context.Context, method, rawURL string, body any) (json.RawMessage, error) {
	return c.call(ctx, method, rawURL, body, true)
}

// get performs a GET through the pipeline.
func (c *Client) get(ctx context.Context, url string) (json.RawMessage, error) {
	return c.call(ctx, http.MethodGet, url, nil, true)
}

// post performs a POST through the pipeline.
func (c *Client) post(ctx context.Context, url string, body any) (json.RawMessage, error) {
	return c.call(ctx, http.MethodPost, url, body, true)
}

// call is the pipeline chokepoint. retry allows one reauthentication for
// this logical call.
func (c *Client) call(ctx context.Context, method, rawURL string, body any, retry bool) (json.RawMessage, error) {
	unauthenticated := strings.Contains(rawURL, weatherPath)
	if !unauthenticated {
		if err := c.session.Login(ctx, false); err != nil {
			return nil, err
		}
	}

	resolved, err := c.resolveURL(rawURL, unauthenticated)
	if err != nil {
		return nil, err
	}

	// Request-construction failures are deterministic; retrying with a
	// fresh session would not change anything.
	req, err := c.buildRequest(ctx, method, resolved, body, unauthenticated)
	if err != nil {
		return nil, err
	}

	data, status, sendErr := c.send(ctx, req)

	// Transport failure or 401: the session is expired. Re-login once
	// and resend the identical request.
	if sendErr != nil || status == http.StatusUnauthorized {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if retry && !unauthenticated {
			c.session.Invalidate(ctx)
			if loginErr := c.session.Login(ctx, true); loginErr != nil {
				return nil, loginErr
			}
			return c.call(ctx, method, rawURL, body, false)
		}
		return nil, &RequestError{StatusCode: status, URL: resolved, Err: sendErr}
	}

	return classify(method, resolved, status, data)
}

// resolveURL turns a relative path into an absolute transport URL.
func (c *Client) resolveURL(rawURL string, unauthenticated bool) (string, error) {
	if !strings.HasPrefix(rawURL, "/") {
		return rawURL, nil
	}
	if unauthenticated {
		return c.baseURL + rawURL, nil
	}
	creds, err := c.session.Credentials()
	if err != nil {
		return "", err
	}
	return strings.TrimRight(creds.TransportURL, "/") + rawURL, nil
}

// dispatch builds and sends one HTTP request and reads the raw result.
func (c *Client) buildRequest(ctx context.Context, method, resolved string, body any, unauthenticated bool) (*http.Request, error) {
	reqBody, contentType, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, resolved, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-nl-protocol-version", protocolVersion)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if !unauthenticated {
		creds, err := c.session.Credentials()
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-nl-user-id", creds.UserID)
		req.Header.Set("Authorization", "Basic "+creds.AccessToken)
	}
	return req, nil
}

func (c *Client) send(ctx context.Context, req *http.Request) ([]byte, int, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logResponse(ctx, req.Method, req.URL.String(), 0, time.Since(start), err)
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	c.logResponse(ctx, req.Method, req.URL.String(), resp.StatusCode, time.Since(start), err)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	return data, resp.StatusCode, nil
}

// encodeBody serializes the outgoing payload. url.Values become a form post
// (the session endpoint's shape); everything else is JSON.
func encodeBody(body any) (io.Reader, string, error) {
	switch v := body.(type) {
	case nil:
		return nil, "", nil
	case url.Values:
		return strings.NewReader(v.Encode()), "application/x-www-form-urlencoded", nil
	case []byte:
		return bytes.NewReader(v), "application/json", nil
	case json.RawMessage:
		return bytes.NewReader(v), "application/json", nil
	case string:
		return strings.NewReader(v), "application/json", nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal request body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

// classify maps a raw transport result onto payload or error, per the
// pipeline's classification rules.
func classify(method, url string, status int, data []byte) (json.RawMessage, error) {
	valid := json.Valid(data) && len(bytes.TrimSpace(data)) > 0

	// A GET must carry JSON; anything else is a malformed response, with
	// maintenance windows and empty bodies distinguished for callers.
	if !valid && method == http.MethodGet {
		return nil, classifyNonJSON(url, data)
	}

	if status == http.StatusBadRequest {
		var rejection struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if valid {
			if err := json.Unmarshal(data, &rejection); err == nil && rejection.Error != "" {
				return nil, &APIError{StatusCode: status, Code: rejection.Error, Description: rejection.ErrorDescription}
			}
		}
		return nil, &APIError{StatusCode: status, Body: truncatePreview(data)}
	}

	// A zero-length body means the command was accepted with no payload;
	// success is the 200 itself.
	if len(bytes.TrimSpace(data)) == 0 {
		if status == http.StatusOK {
			return nil, nil
		}
		return nil, &RequestError{StatusCode: status, URL: url}
	}

	if status >= http.StatusMultipleChoices {
		return nil, &RequestError{StatusCode: status, URL: url}
	}

	// Successful writes either return nothing or JSON. A non-empty body
	// that doesn't decode is the service misbehaving, not a result.
	if !valid {
		return nil, classifyNonJSON(url, data)
	}

	return json.RawMessage(data), nil
}
