// Package auth manages the MyStiebel account session: login against the
// JWT endpoint, proactive token refresh and installation discovery.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mbeckert/stiebelgw/core/logger"
)

const (
	// DefaultAuthBaseURL hosts the login endpoint.
	DefaultAuthBaseURL = "https://auth.mystiebel.com"
	// DefaultServiceBaseURL hosts the installation and realtime endpoints.
	DefaultServiceBaseURL = "https://serviceapi.mystiebel.com"

	// Client application identity sent with every request. The service
	// expects the official app's headers.
	AppName    = "MyStiebelApp"
	AppVersion = "Android_2.3.0"
	UserAgent  = "MyStiebelApp/2.3.0 Dalvik/2.1.0"

	// RefreshMargin is how long before expiry a token is refreshed.
	RefreshMargin = 300 * time.Second
)

// Login failure modes. A transport-level failure is wrapped instead.
var (
	ErrNoToken   = errors.New("auth: login response contained no token")
	ErrBadExpiry = errors.New("auth: token expiry could not be determined")
)

// Credentials identify the MyStiebel account. They are immutable for the
// lifetime of a Manager.
type Credentials struct {
	Username string
	Password string
	// ClientID is the app-install identifier sent at login and in write
	// frames.
	ClientID string
}

// Config parameterizes a Manager. Zero values fall back to the production
// endpoints; CachedToken/CachedExpiry optionally seed the token cache from
// a previous run.
type Config struct {
	Credentials    Credentials
	AuthBaseURL    string
	ServiceBaseURL string
	CachedToken    string
	CachedExpiry   time.Time
	HTTPClient     *http.Client
	Log            logger.Logger
}

// Manager owns the access token lifecycle. All methods are safe for
// concurrent use; overlapping refreshes collapse into a single login call.
type Manager struct {
	creds       Credentials
	authBase    string
	serviceBase string
	httpc       *http.Client
	log         logger.Logger
	now         func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewManager creates a token manager. It performs no network I/O.
func NewManager(cfg Config) *Manager {
	if cfg.AuthBaseURL == "" {
		cfg.AuthBaseURL = DefaultAuthBaseURL
	}
	if cfg.ServiceBaseURL == "" {
		cfg.ServiceBaseURL = DefaultServiceBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Log == nil {
		cfg.Log = nopLogger{}
	}
	return &Manager{
		creds:       cfg.Credentials,
		authBase:    cfg.AuthBaseURL,
		serviceBase: cfg.ServiceBaseURL,
		httpc:       cfg.HTTPClient,
		log:         cfg.Log,
		now:         time.Now,
		token:       cfg.CachedToken,
		expiry:      cfg.CachedExpiry,
	}
}

type loginRequest struct {
	UserName   string `json:"userName"`
	Password   string `json:"password"`
	ClientID   string `json:"clientId"`
	RememberMe bool   `json:"rememberMe"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Authenticate performs a login call and replaces the cached token and
// expiry on success. On failure the previous cache is left untouched and
// the error is returned to the caller; no retry happens here.
func (m *Manager) Authenticate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticateLocked(ctx)
}

// EnsureValid refreshes the token when none is cached or when it expires
// within RefreshMargin. Concurrent callers serialize on the manager's lock,
// so at most one login call is in flight and every waiter observes its
// result.
func (m *Manager) EnsureValid(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.validLocked() {
		return nil
	}
	return m.authenticateLocked(ctx)
}

// Token returns the last successfully cached token, or "" when none exists.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Expiry returns the cached token's expiry instant.
func (m *Manager) Expiry() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiry
}

func (m *Manager) validLocked() bool {
	if m.token == "" || m.expiry.IsZero() {
		return false
	}
	return m.expiry.Sub(m.now()) > RefreshMargin
}

// authenticateLocked runs the login call with m.mu held. Holding the lock
// across the request is what serializes concurrent refreshes.
func (m *Manager) authenticateLocked(ctx context.Context) error {
	body, err := json.Marshal(loginRequest{
		UserName:   m.creds.Username,
		Password:   m.creds.Password,
		ClientID:   m.creds.ClientID,
		RememberMe: true,
	})
	if err != nil {
		return fmt.Errorf("auth: encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.authBase+"/api/v1/Jwt/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("auth: build login request: %w", err)
	}
	setAppHeaders(req.Header)

	resp, err := m.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("auth: login request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return fmt.Errorf("auth: login returned status %d", resp.StatusCode)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("auth: decode login response: %w", err)
	}
	if lr.Token == "" {
		return ErrNoToken
	}
	expiry, err := tokenExpiry(lr.Token)
	if err != nil {
		return err
	}

	m.token = lr.Token
	m.expiry = expiry
	m.log.Debugf("authenticated, token valid until %s", expiry.Format(time.RFC3339))
	return nil
}

// tokenExpiry derives the expiry instant from the token's exp claim. The
// signature is not verified; the token is only inspected, never trusted.
func tokenExpiry(token string) (time.Time, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrBadExpiry, err)
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, ErrBadExpiry
	}
	return exp.Time, nil
}

// setAppHeaders applies the client application identity to a request.
func setAppHeaders(h http.Header) {
	h.Set("X-SC-ClientApp-Name", AppName)
	h.Set("X-SC-ClientApp-Version", AppVersion)
	h.Set("User-Agent", UserAgent)
	h.Set("Content-Type", "application/json; charset=utf-8")
	// Accept-Encoding is left to the transport: setting it by hand would
	// disable net/http's transparent gzip decoding.
}

// SetAppHeaders exposes the client identity headers for other transports
// (the websocket dial reuses them).
func SetAppHeaders(h http.Header) { setAppHeaders(h) }

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}
