// Package auth manages the bearer token used for authenticated feed requests.
//
// Tokens come from an OAuth2 client-credentials grant and are reused for a
// fixed validity window. A failed refresh is not fatal: the cache stores an
// empty token and callers continue unauthenticated until the next refresh.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/unklstewy/flightscope/internal/metrics"
)

const (
	// DefaultValidity is how long a fetched token is reused.
	DefaultValidity = 25 * time.Minute

	// DefaultRefreshTimeout bounds a single token request.
	DefaultRefreshTimeout = 10 * time.Second
)

// ErrNoAccessToken is returned when the token response has no access_token.
var ErrNoAccessToken = errors.New("no access token in response")

// TokenSource fetches a fresh bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ClientCredentials is a TokenSource backed by an OAuth2 client-credentials
// grant. Credentials are sent in the form body rather than a Basic header.
type ClientCredentials struct {
	config     clientcredentials.Config
	httpClient *http.Client
}

// NewClientCredentials creates a client-credentials token source.
// httpClient may be nil to use http.DefaultClient.
func NewClientCredentials(tokenURL, clientID, clientSecret string, httpClient *http.Client) *ClientCredentials {
	return &ClientCredentials{
		config: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
	}
}

// Token requests a new access token.
func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}

	tok, err := c.config.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("client credentials grant: %w", err)
	}
	if tok.AccessToken == "" {
		return "", ErrNoAccessToken
	}
	return tok.AccessToken, nil
}

// Config holds token cache configuration.
type Config struct {
	Validity       time.Duration // How long a token is reused (default: 25m)
	RefreshTimeout time.Duration // Bound on one refresh (default: 10s)
}

// TokenCache holds at most one bearer token and refreshes it on demand.
// It is safe for concurrent use; concurrent refreshes collapse into one
// upstream request.
type TokenCache struct {
	source  TokenSource
	config  Config
	logger  *slog.Logger
	metrics *metrics.Pipeline

	group singleflight.Group

	mu        sync.RWMutex
	token     string
	fetchedAt time.Time

	// Now is the clock used for validity checks. Defaults to time.Now.
	Now func() time.Time
}

// NewTokenCache creates a token cache. A nil source yields a cache that
// always returns the empty token. logger and m may be nil.
func NewTokenCache(source TokenSource, cfg Config, logger *slog.Logger, m *metrics.Pipeline) *TokenCache {
	if cfg.Validity <= 0 {
		cfg.Validity = DefaultValidity
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}

	return &TokenCache{
		source:  source,
		config:  cfg,
		logger:  logger,
		metrics: m,
		Now:     time.Now,
	}
}

// EnsureValidToken returns the cached token while it is non-empty and
// within its validity window, and otherwise refreshes it first.
//
// The returned string is empty when the refresh failed or no source is
// configured; callers then proceed without authentication. A caller whose
// ctx is cancelled while waiting gets "" but does not abort the refresh
// other callers may be sharing.
func (c *TokenCache) EnsureValidToken(ctx context.Context) string {
	if c.source == nil {
		return ""
	}
	if tok, ok := c.cached(); ok {
		return tok
	}

	ch := c.group.DoChan("token", func() (any, error) {
		// A refresh that finished while this caller was queued is reused.
		if tok, ok := c.cached(); ok {
			return tok, nil
		}

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.RefreshTimeout)
		defer cancel()
		return c.refresh(rctx), nil
	})

	select {
	case res := <-ch:
		return res.Val.(string)
	case <-ctx.Done():
		return ""
	}
}

// Invalidate forgets the current token so the next call refreshes.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.token == "" {
		return "", false
	}
	if c.Now().Sub(c.fetchedAt) > c.config.Validity {
		return "", false
	}
	return c.token, true
}

// refresh fetches a token and stores the result, including failures, with
// the attempt time.
func (c *TokenCache) refresh(ctx context.Context) string {
	c.metrics.TokenRefreshes.Inc()

	tok, err := c.source.Token(ctx)
	if err != nil {
		c.metrics.TokenFailures.Inc()
		c.logger.Error("OpenSky auth failed", "err", err)
		tok = ""
	} else {
		c.logger.Info("OpenSky auth token retrieved")
	}

	c.mu.Lock()
	c.token = tok
	c.fetchedAt = c.Now()
	c.mu.Unlock()

	return tok
}
