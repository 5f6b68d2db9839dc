package nest

import (
	"context"
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

// SessionState is the authentication lifecycle state of a Session.
type SessionState int

const (
	// StateNoSession means no credentials are held at all.
	StateNoSession SessionState = iota
	// StateCached means credentials were restored from the cache record
	// and have not yet been proven against the service.
	StateCached
	// StateLive means credentials came from a login in this process.
	StateLive
	// StateExpired means the last credentials were rejected or timed out.
	StateExpired
)

// String implements fmt.Stringer.
func (s SessionState) String() string {
	switch s {
	case StateCached:
		return "cached"
	case StateLive:
		return "live"
	case StateExpired:
		return "expired"
	default:
		return "no-session"
	}
}

// authEnv carries the client plumbing an Authenticator needs to log in.
type authEnv struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	logger     *slog.Logger
}

// Authenticator is a login strategy. The two implementations are
// PasswordAuthenticator (the classic session endpoint) and
// GoogleAuthenticator (the OAuth bridge); which one a Client is constructed
// with also selects the status fetch shape.
type Authenticator interface {
	// login performs a full network login and returns fresh credentials.
	login(ctx context.Context, env authEnv) (*Credentials, error)

	// cacheIdentity returns the account identity material the persisted
	// record is keyed by.
	cacheIdentity() []string

	// statusFetcher returns the status wire-shape strategy paired with
	// this login flow.
	statusFetcher() statusFetcher
}

// PasswordAuthenticator logs in by POSTing the account username and password
// to the vendor session endpoint.
type PasswordAuthenticator struct {
	Username string
	Password string
}

// cacheIdentity implements Authenticator.
func (a *PasswordAuthenticator) cacheIdentity() []string {
	return []string{"password", a.Username}
}

// statusFetcher implements Authenticator. Password sessions read the
// mobile-user status document.
func (a *PasswordAuthenticator) statusFetcher() statusFetcher {
	return mobileStatusFetcher{}
}

// loginResponse is the session endpoint's success payload.
type loginResponse struct {
	URLs struct {
		TransportURL string `json:"transport_url"`
	} `json:"urls"`
	AccessToken string `json:"access_token"`
	UserID      string `json:"userid"`
	User        string `json:"user"`
	ExpiresIn   string `json:"expires_in"`
}

// login implements Authenticator.
func (a *PasswordAuthenticator) login(ctx context.Context, env authEnv) (*Credentials, error) {
	if a.Username == "" || a.Password == "" {
		return nil, ErrMissingCredentials
	}

	loginURL := env.baseURL + "/user/login"
	form := url.Values{}
	form.Set("username", a.Username)
	form.Set("password", a.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &AuthError{Reason: "failed to create login request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", env.userAgent)
	req.Header.Set("X-nl-protocol-version", protocolVersion)

	body, status, err := doAuthRequest(env, req)
	if err != nil {
		return nil, &AuthError{Reason: "login request failed", Err: err}
	}
	if err := classifyNonJSON(loginURL, body); err != nil {
		return nil, err
	}

	var result loginResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &AuthError{Reason: "failed to parse login response", Err: err}
	}
	if status != http.StatusOK || result.URLs.TransportURL == "" {
		return nil, &AuthError{Reason: fmt.Sprintf("login rejected with status %d: %s", status, truncatePreview(body))}
	}

	expiresAt, err := parseExpiry(result.ExpiresIn)
	if err != nil {
		return nil, &AuthError{Reason: fmt.Sprintf("unparseable session expiry %q", result.ExpiresIn), Err: err}
	}

	return &Credentials{
		TransportURL: result.URLs.TransportURL,
		AccessToken:  result.AccessToken,
		UserID:       result.UserID,
		User:         result.User,
		ExpiresAt:    expiresAt,
	}, nil
}

// GoogleAuthenticator logs in through the Google OAuth bridge: a pre-obtained
// issue-token URL plus its session cookies are exchanged for a Google bearer
// token, which is exchanged for the vendor JWT and user id, and an app-launch
// call then resolves the transport endpoint.
type GoogleAuthenticator struct {
	// IssueTokenURL is the accounts iframerpc URL captured from a browser
	// session, including its query string.
	IssueTokenURL string
	// Cookies is the Cookie header value captured alongside the issue
	// token URL.
	Cookies string

	// JWTURL overrides the token-bridge endpoint. Empty means the
	// production endpoint; tests point it at a local server.
	JWTURL string
}

// jwtEndpoint is the production token-bridge endpoint.
const jwtEndpoint = "https://nestauthproxyservice-pa.googleapis.com/v1/issue_jwt"

// cacheIdentity implements Authenticator.
func (a *GoogleAuthenticator) cacheIdentity() []string {
	return []string{"google", a.IssueTokenURL, a.Cookies}
}

// statusFetcher implements Authenticator. Bridge sessions read the bucket
// shaped app-launch status document.
func (a *GoogleAuthenticator) statusFetcher() statusFetcher {
	return bucketStatusFetcher{}
}

// login implements Authenticator.
func (a *GoogleAuthenticator) login(ctx context.Context, env authEnv) (*Credentials, error) {
	if a.IssueTokenURL == "" || a.Cookies == "" {
		return nil, ErrMissingCredentials
	}

	googleToken, err := a.issueToken(ctx, env)
	if err != nil {
		return nil, err
	}

	jwt, userID, expiresAt, err := a.issueJWT(ctx, env, googleToken)
	if err != nil {
		return nil, err
	}

	transportURL, err := a.resolveTransport(ctx, env, jwt, userID)
	if err != nil {
		return nil, err
	}

	return &Credentials{
		TransportURL: transportURL,
		AccessToken:  jwt,
		UserID:       userID,
		User:         "user." + userID,
		ExpiresAt:    expiresAt,
	}, nil
}

// issueToken exchanges the captured cookies for a Google OAuth access token.
func (a *GoogleAuthenticator) issueToken(ctx context.Context, env authEnv) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.IssueTokenURL, nil)
	if err != nil {
		return "", &AuthError{Reason: "failed to create issue-token request", Err: err}
	}
	req.Header.Set("Cookie", a.Cookies)
	req.Header.Set("User-Agent", env.userAgent)
	req.Header.Set("X-Requested-With", "XmlHttpRequest")
	req.Header.Set("Referer", "https://accounts.google.com/o/oauth2/iframe")

	body, status, err := doAuthRequest(env, req)
	if err != nil {
		return "", &AuthError{Reason: "issue-token request failed", Err: err}
	}

	var result struct {
		AccessToken string `json:"access_token"`
		Error       string `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", &AuthError{Reason: "failed to parse issue-token response", Err: err}
	}
	if status != http.StatusOK || result.AccessToken == "" {
		reason := result.Error
		if reason == "" {
			reason = fmt.Sprintf("issue-token rejected with status %d", status)
		}
		return "", &AuthError{Reason: "issue-token exchange failed: " + reason}
	}
	return result.AccessToken, nil
}

// issueJWT exchanges the Google token for the vendor JWT and user id.
func (a *GoogleAuthenticator) issueJWT(ctx context.Context, env authEnv, googleToken string) (jwt, userID string, expiresAt time.Time, err error) {
	endpoint := a.JWTURL
	if endpoint == "" {
		endpoint = jwtEndpoint
	}

	payload, _ := json.Marshal(map[string]any{
		"embed_google_oauth_access_token": true,
		"expire_after":                    "3600s",
		"google_oauth_access_token":       googleToken,
		"policy_id":                       "authproxy-oauth-policy",
	})

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if reqErr != nil {
		return "", "", time.Time{}, &AuthError{Reason: "failed to create jwt request", Err: reqErr}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+googleToken)
	req.Header.Set("User-Agent", env.userAgent)
	req.Header.Set("Referer", env.baseURL)

	body, status, doErr := doAuthRequest(env, req)
	if doErr != nil {
		return "", "", time.Time{}, &AuthError{Reason: "jwt request failed", Err: doErr}
	}

	var result struct {
		JWT    string `json:"jwt"`
		Claims struct {
			Subject struct {
				NestID struct {
					ID string `json:"id"`
				} `json:"nestId"`
			} `json:"subject"`
			ExpirationTime string `json:"expirationTime"`
		} `json:"claims"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", "", time.Time{}, &AuthError{Reason: "failed to parse jwt response", Err: err}
	}
	if status != http.StatusOK || result.JWT == "" {
		return "", "", time.Time{}, &AuthError{Reason: fmt.Sprintf("jwt exchange rejected with status %d: %s", status, truncatePreview(body))}
	}

	expiresAt, parseErr := time.Parse(time.RFC3339, result.Claims.ExpirationTime)
	if parseErr != nil {
		return "", "", time.Time{}, &AuthError{Reason: fmt.Sprintf("unparseable jwt expiry %q", result.Claims.ExpirationTime), Err: parseErr}
	}
	return result.JWT, result.Claims.Subject.NestID.ID, expiresAt, nil
}

// resolveTransport performs the app-launch call that reports the per-account
// transport endpoint.
func (a *GoogleAuthenticator) resolveTransport(ctx context.Context, env authEnv, jwt, userID string) (string, error) {
	launchURL := env.baseURL + "/api/0.1/user/" + userID + "/app_launch"
	payload, _ := json.Marshal(map[string]any{
		"known_bucket_types":    []string{"buckets"},
		"known_bucket_versions": []int{},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, launchURL, strings.NewReader(string(payload)))
	if err != nil {
		return "", &AuthError{Reason: "failed to create app-launch request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+jwt)
	req.Header.Set("User-Agent", env.userAgent)
	req.Header.Set("X-nl-user-id", userID)
	req.Header.Set("X-nl-protocol-version", protocolVersion)

	body, status, err := doAuthRequest(env, req)
	if err != nil {
		return "", &AuthError{Reason: "app-launch request failed", Err: err}
	}

	var result struct {
		ServiceURLs struct {
			URLs struct {
				TransportURL string `json:"transport_url"`
			} `json:"urls"`
		} `json:"service_urls"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", &AuthError{Reason: "failed to parse app-launch response", Err: err}
	}
	if status != http.StatusOK || result.ServiceURLs.URLs.TransportURL == "" {
		return "", &AuthError{Reason: fmt.Sprintf("app-launch rejected with status %d: %s", status, truncatePreview(body))}
	}
	return result.ServiceURLs.URLs.TransportURL, nil
}

// doAuthRequest dispatches a login-flow request and reads its body.
func doAuthRequest(env authEnv, req *http.Request) ([]byte, int, error) {
	resp, err := env.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, resp.StatusCode, nil
}

// classifyNonJSON maps a non-JSON login-endpoint body to the response error
// taxonomy: empty, maintenance-window, or plain not-JSON.
func classifyNonJSON(url string, body []byte) error {
	if json.Valid(body) {
		return nil
	}
	if strings.Contains(string(body), maintenanceMarker) {
		return &ResponseError{Kind: ResponseMaintenance, URL: url, Body: string(body)}
	}
	if len(body) == 0 {
		return &ResponseError{Kind: ResponseEmpty, URL: url}
	}
	return &ResponseError{Kind: ResponseNotJSON, URL: url, Body: string(body)}
}

// Session owns the credentials and the authentication state machine. It is
// constructed once per account by NewClient; credentials never live in
// globals.
type Session struct {
	auth  Authenticator
	store CacheStore
	env   authEnv

	mu    sync.Mutex
	creds *Credentials
	state SessionState
}

// newSession creates a Session in the NoSession state.
func newSession(auth Authenticator, store CacheStore, env authEnv) *Session {
	return &Session{auth: auth, store: store, env: env, state: StateNoSession}
}

// State returns the current authentication state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Credentials returns the current credentials, failing when no session has
// been established.
func (s *Session) Credentials() (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return nil, ErrNoSession
	}
	return s.creds, nil
}

// Login establishes a usable session. Unless force is set it is a no-op when
// valid credentials are already held, and it prefers an unexpired cached
// record over a network login. A failed network login is retried exactly once
// after clearing a previously-persisted record (the failure may stem from
// stale cache state); a second failure propagates.
func (s *Session) Login(ctx context.Context, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !force {
		if s.creds.Valid() && (s.state == StateLive || s.state == StateCached) {
			return nil
		}
		if cached, _ := s.store.LoadCredentials(ctx); cached.Valid() {
			s.creds = cached
			s.state = StateCached
			s.logLogin("session restored from cache", cached)
			return nil
		}
	}

	hadRecord := false
	if cached, _ := s.store.LoadCredentials(ctx); cached != nil {
		hadRecord = true
	}

	creds, err := s.auth.login(ctx, s.env)
	if err != nil && hadRecord {
		// The failure may stem from the stale record; drop it and try
		// once more.
		if clearErr := s.store.Clear(ctx); clearErr == nil {
			creds, err = s.auth.login(ctx, s.env)
		}
	}
	if err != nil {
		s.state = StateExpired
		return err
	}

	s.creds = creds
	s.state = StateLive
	if saveErr := s.store.SaveCredentials(ctx, creds); saveErr != nil && s.env.logger != nil {
		s.env.logger.LogAttrs(ctx, slog.LevelWarn, "credential_cache_save_failed",
			slog.String("error", saveErr.Error()))
	}
	s.logLogin("logged in", creds)
	return nil
}

// Invalidate drops the in-memory and persisted credentials and moves the
// session to Expired. The next request will trigger a fresh login.
func (s *Session) Invalidate(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	s.state = StateExpired
	_ = s.store.Clear(ctx)
}

func (s *Session) logLogin(msg string, creds *Credentials) {
	if s.env.logger == nil {
		return
	}
	s.env.logger.LogAttrs(context.Background(), slog.LevelDebug, msg,
		slog.String("user", creds.User),
		slog.Time("expires_at", creds.ExpiresAt),
	)
}
