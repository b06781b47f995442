// Package auth exchanges long-lived Google credentials for short-lived bearer
// tokens and caches them per credential.
//
// Two credential kinds are supported: an OAuth refresh token (client id,
// client secret and refresh token) and a service-account JSON key, which is
// turned into a signed JWT assertion and exchanged with the jwt-bearer grant.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/driveindex/internal/metrics"
	"github.com/tonimelisma/driveindex/internal/seal"
)

// DriveScope is the OAuth scope requested for service-account assertions.
const DriveScope = "https://www.googleapis.com/auth/drive"

const (
	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// A cached token is treated as dead this long before its stated expiry.
	expiryMargin = 100 * time.Second

	// Used when the endpoint omits expires_in.
	defaultTokenLifetime = time.Hour

	maxAttempts   = 3
	baseBackoff   = 800 * time.Millisecond
	jitterPercent = 25

	// Upper bound on one shared exchange, retries included.
	exchangeTimeout = 60 * time.Second

	// Token responses are tiny; anything larger is not a token endpoint.
	maxResponseBytes = 1 << 20
)

// Token is a bearer token and the time it stops being accepted.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// usable reports whether t can still be handed out at now.
func (t Token) usable(now time.Time) bool {
	return t.Value != "" && now.Add(expiryMargin).Before(t.ExpiresAt)
}

// Manager hands out bearer tokens for credentials, exchanging them at the
// token endpoint on a cache miss. It is safe for concurrent use; concurrent
// misses for the same credential share a single exchange.
type Manager struct {
	httpClient *http.Client
	tokenURL   string
	scope      string
	logger     *slog.Logger

	// now, baseBackoff and exchangeTimeout are overridden by tests.
	now             func() time.Time
	baseBackoff     time.Duration
	exchangeTimeout time.Duration

	mu     sync.Mutex
	tokens map[string]Token
	flight singleflight.Group
}

// NewManager creates a Manager. An empty tokenURL selects Google's endpoint.
func NewManager(httpClient *http.Client, tokenURL string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if tokenURL == "" {
		tokenURL = google.Endpoint.TokenURL
	}

	return &Manager{
		httpClient:  httpClient,
		tokenURL:    tokenURL,
		scope:       DriveScope,
		logger:      logger,
		now:         time.Now,
		baseBackoff: baseBackoff,
		tokens:      make(map[string]Token),

		exchangeTimeout: exchangeTimeout,
	}
}

// Token returns a bearer token for cred, from cache when one is still usable.
// Failures are *ExchangeError values wrapping ErrTokenExchange.
func (m *Manager) Token(ctx context.Context, cred Credential) (Token, error) {
	key := cred.cacheKey()

	if tok, ok := m.cached(key); ok {
		metrics.RecordTokenCacheHit()
		return tok, nil
	}

	if err := ctx.Err(); err != nil {
		return Token{}, &ExchangeError{Kind: cred.Kind(), Err: err}
	}

	// The shared exchange outlives any one caller: a caller that gives up
	// stops waiting, the others still get the token.
	ch := m.flight.DoChan(key, func() (any, error) {
		// A caller that just finished the same exchange may have filled the cache.
		if tok, ok := m.cached(key); ok {
			return tok, nil
		}

		xctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.exchangeTimeout)
		defer cancel()

		tok, err := m.exchangeWithRetry(xctx, cred)
		metrics.RecordTokenExchange(cred.Kind(), err == nil)

		if err != nil {
			return Token{}, err
		}

		m.mu.Lock()
		m.tokens[key] = tok
		m.mu.Unlock()

		return tok, nil
	})

	select {
	case <-ctx.Done():
		return Token{}, &ExchangeError{Kind: cred.Kind(), Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}

		if res.Shared {
			m.logger.Debug("joined in-flight token exchange", slog.String("kind", cred.Kind()))
		}

		return res.Val.(Token), nil
	}
}

// Source binds cred to m. The result satisfies the token-source interfaces of
// the Drive client.
func (m *Manager) Source(cred Credential) *Source {
	return &Source{manager: m, cred: cred}
}

// Source is a per-credential view of a Manager.
type Source struct {
	manager *Manager
	cred    Credential
}

// Token returns the current bearer token value.
func (s *Source) Token(ctx context.Context) (string, error) {
	tok, err := s.manager.Token(ctx, s.cred)
	if err != nil {
		return "", err
	}

	return tok.Value, nil
}

func (m *Manager) cached(key string) (Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, ok := m.tokens[key]
	if !ok || !tok.usable(m.now()) {
		return Token{}, false
	}

	return tok, true
}

// exchangeWithRetry runs exchange under the bounded backoff policy. Only
// temporary failures are retried; a 429 Retry-After replaces the next delay.
func (m *Manager) exchangeWithRetry(ctx context.Context, cred Credential) (Token, error) {
	var retryAfter time.Duration

	policy := retry.WithMaxRetries(maxAttempts-1,
		retry.WithJitterPercent(jitterPercent, retry.NewExponential(m.baseBackoff)))

	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := policy.Next()
		if !stop && retryAfter > 0 {
			next, retryAfter = retryAfter, 0
		}

		return next, stop
	})

	var (
		tok     Token
		attempt int
	)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		var err error

		tok, err = m.exchange(ctx, cred)
		if err == nil {
			return nil
		}

		var xe *ExchangeError
		if !errors.As(err, &xe) || !xe.Temporary() || ctx.Err() != nil {
			return err
		}

		retryAfter = xe.retryAfter

		m.logger.Warn("retrying token exchange",
			slog.String("kind", cred.Kind()),
			slog.Int("attempt", attempt),
			slog.Int("status", xe.StatusCode),
		)

		return retry.RetryableError(err)
	})
	if err != nil {
		var xe *ExchangeError
		if !errors.As(err, &xe) {
			err = &ExchangeError{Kind: cred.Kind(), Err: err}
		}

		m.logger.Error("token exchange failed",
			slog.String("kind", cred.Kind()),
			slog.Int("attempts", attempt),
			slog.String("error", err.Error()),
		)

		return Token{}, err
	}

	m.logger.Info("token exchanged",
		slog.String("kind", cred.Kind()),
		slog.Time("expires_at", tok.ExpiresAt),
	)

	return tok, nil
}

// exchange performs a single exchange for the credential's kind.
func (m *Manager) exchange(ctx context.Context, cred Credential) (Token, error) {
	switch c := cred.(type) {
	case RefreshToken:
		return m.refresh(ctx, c)
	case ServiceAccount:
		return m.assert(ctx, c)
	default:
		return Token{}, &ExchangeError{
			Kind: cred.Kind(),
			Err:  fmt.Errorf("%w: unsupported credential %T", ErrInvalidCredential, cred),
		}
	}
}

// refresh uses the refresh_token grant with client credentials in the body.
func (m *Manager) refresh(ctx context.Context, c RefreshToken) (Token, error) {
	if c.RefreshToken == "" {
		return Token{}, &ExchangeError{
			Kind: KindRefreshToken,
			Err:  fmt.Errorf("%w: empty refresh token", ErrInvalidCredential),
		}
	}

	cfg := &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  m.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

	t, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: c.RefreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return Token{}, statusError(KindRefreshToken, re.Response.StatusCode, re.ErrorCode, re.Response.Header, err)
		}

		if ctx.Err() != nil {
			return Token{}, &ExchangeError{Kind: KindRefreshToken, Err: ctx.Err()}
		}

		return Token{}, transportError(KindRefreshToken, err)
	}

	expires := t.Expiry
	if expires.IsZero() {
		expires = m.now().Add(defaultTokenLifetime)
	}

	return Token{Value: t.AccessToken, ExpiresAt: expires}, nil
}

// assert signs a service-account assertion and exchanges it with the
// jwt-bearer grant.
func (m *Manager) assert(ctx context.Context, c ServiceAccount) (Token, error) {
	key, err := parseServiceAccountKey(c.JSONKey)
	if err != nil {
		return Token{}, &ExchangeError{Kind: KindServiceAccount, Err: err}
	}

	pk, err := seal.ParseRSAPrivateKey(key.PrivateKey)
	if err != nil {
		return Token{}, &ExchangeError{Kind: KindServiceAccount, Err: fmt.Errorf("%w: %w", ErrInvalidCredential, err)}
	}

	now := m.now()

	assertion, err := seal.SignAssertion(pk, seal.AssertionClaims{
		Issuer:   key.ClientEmail,
		Scope:    m.scope,
		Audience: m.tokenURL,
		IssuedAt: now,
	})
	if err != nil {
		return Token{}, &ExchangeError{Kind: KindServiceAccount, Err: err}
	}

	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {assertion},
	}

	return m.postForm(ctx, KindServiceAccount, form, now)
}

// tokenResponse is the token endpoint's JSON body, success or error.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Error       string `json:"error"`
}

func (m *Manager) postForm(ctx context.Context, kind string, form url.Values, issued time.Time) (Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, &ExchangeError{Kind: kind, Err: fmt.Errorf("creating request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Token{}, &ExchangeError{Kind: kind, Err: ctx.Err()}
		}

		return Token{}, transportError(kind, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Token{}, transportError(kind, fmt.Errorf("reading response: %w", err))
	}

	var tr tokenResponse
	decodeErr := json.Unmarshal(body, &tr)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return Token{}, statusError(kind, resp.StatusCode, tr.Error, resp.Header, nil)
	}

	if decodeErr != nil {
		return Token{}, &ExchangeError{Kind: kind, Err: fmt.Errorf("decoding response: %w", decodeErr)}
	}

	if tr.AccessToken == "" {
		return Token{}, &ExchangeError{Kind: kind, Err: errors.New("response has no access_token")}
	}

	lifetime := defaultTokenLifetime
	if tr.ExpiresIn > 0 {
		lifetime = time.Duration(tr.ExpiresIn) * time.Second
	}

	return Token{Value: tr.AccessToken, ExpiresAt: issued.Add(lifetime)}, nil
}
