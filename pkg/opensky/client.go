package opensky

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the OpenSky REST API base URL
	DefaultBaseURL = "https://opensky-network.org/api"

	// DefaultTimeout for API requests
	DefaultTimeout = 10 * time.Second
)

// ErrNoStates is returned when a response carries no "states" member.
var ErrNoStates = errors.New("missing flights data from OpenSky")

// Client talks to the OpenSky /states/all endpoint.
// A Client is safe for concurrent use.
type Client struct {
	// baseURL is the API base URL (default: https://opensky-network.org/api)
	baseURL string

	// httpClient is the HTTP client used for API requests
	httpClient *http.Client

	// limiter spaces outbound calls; nil disables spacing
	limiter *rate.Limiter
}

// NewClient creates a new OpenSky API client.
// minInterval is the minimum spacing between outbound requests; zero or
// negative disables client-side spacing.
func NewClient(baseURL string, minInterval time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	var limiter *rate.Limiter
	if minInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(minInterval), 1)
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: limiter,
	}
}

// StatesURL returns the full /states/all URL for an encoded query string.
func (c *Client) StatesURL(query string) string {
	if query == "" {
		return c.baseURL + "/states/all"
	}
	return c.baseURL + "/states/all?" + query
}

// GetStates fetches the states matching query (an encoded query string such
// as BoundingBox.Query()). The Authorization header is only sent when token
// is non-empty.
//
// Returns *RateLimitError on HTTP 429, *StatusError on any other non-2xx
// status and ErrNoStates when the body has no states.
func (c *Client) GetStates(ctx context.Context, query, token string) (Snapshot, error) {
	resp, err := c.do(ctx, c.StatesURL(query), token)
	if err != nil {
		return Snapshot{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp, body); err != nil {
		return Snapshot{}, err
	}

	return DecodeStates(body)
}

// CreditsQuery is a one-degree box used to read the remaining credit
// balance at the lowest possible credit cost.
var CreditsQuery = url.Values{
	"lamin": {"0"},
	"lomin": {"0"},
	"lamax": {"1"},
	"lomax": {"1"},
}.Encode()

// Credits issues a minimal states request and returns the rate-limit
// headers from the response. The body is discarded.
func (c *Client) Credits(ctx context.Context, token string) (RateLimitHeaders, error) {
	resp, err := c.do(ctx, c.StatesURL(CreditsQuery), token)
	if err != nil {
		return RateLimitHeaders{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if err := checkStatus(resp, body); err != nil {
		return extractRateLimitHeaders(resp.Header), err
	}
	return extractRateLimitHeaders(resp.Header), nil
}

func (c *Client) do(ctx context.Context, target, token string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch states: %w", err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response, body []byte) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header),
			Message:    "Rate limit exceeded",
			Headers:    extractRateLimitHeaders(resp.Header),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// StatusError is a non-2xx response other than 429.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.Body)
}

// RateLimitError represents an HTTP 429 rate limit error with retry information.
type RateLimitError struct {
	StatusCode int
	RetryAfter time.Duration
	Message    string
	Headers    RateLimitHeaders
}

// RateLimitHeaders contains rate limit information from response headers.
// Fields are -1 (or zero time) when the header is absent.
type RateLimitHeaders struct {
	Limit     int       // X-Rate-Limit-Limit: Maximum requests allowed
	Remaining int       // X-Rate-Limit-Remaining: Credits remaining today
	Reset     time.Time // X-Rate-Limit-Reset: When the rate limit resets

	// RetryAfter is OpenSky's X-Rate-Limit-Retry-After-Seconds
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %v)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// IsRateLimitError checks if an error is, or wraps, a rate limit error.
func IsRateLimitError(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// parseRetryAfter extracts the retry delay from a 429 response.
// Returns the duration to wait, or 0 if no usable header is present.
//
// Examples:
//
//	Retry-After: 30                            -> 30 seconds
//	Retry-After: Wed, 21 Oct 2015 07:28:00 GMT -> duration until that time
//	X-Rate-Limit-Retry-After-Seconds: 120      -> 120 seconds
func parseRetryAfter(headers http.Header) time.Duration {
	retryAfter := headers.Get("Retry-After")
	if retryAfter == "" {
		return parseSeconds(headers.Get("X-Rate-Limit-Retry-After-Seconds"))
	}

	if d := parseSeconds(retryAfter); d > 0 {
		return d
	}

	if retryTime, err := http.ParseTime(retryAfter); err == nil {
		if duration := time.Until(retryTime); duration > 0 {
			return duration
		}
	}

	return 0
}

func parseSeconds(v string) time.Duration {
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}

// extractRateLimitHeaders reads the X-Rate-Limit-* family, accepting the
// X-RateLimit-* spelling as a fallback.
func extractRateLimitHeaders(headers http.Header) RateLimitHeaders {
	rlh := RateLimitHeaders{
		Limit:     -1,
		Remaining: -1,
	}

	if val, ok := intHeader(headers, "X-Rate-Limit-Limit", "X-RateLimit-Limit"); ok {
		rlh.Limit = val
	}
	if val, ok := intHeader(headers, "X-Rate-Limit-Remaining", "X-RateLimit-Remaining"); ok {
		rlh.Remaining = val
	}
	if val, ok := intHeader(headers, "X-Rate-Limit-Reset", "X-RateLimit-Reset"); ok {
		rlh.Reset = time.Unix(int64(val), 0)
	}
	rlh.RetryAfter = parseSeconds(headers.Get("X-Rate-Limit-Retry-After-Seconds"))

	return rlh
}

func intHeader(headers http.Header, names ...string) (int, bool) {
	for _, name := range names {
		v := headers.Get(name)
		if v == "" {
			continue
		}
		val, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return val, true
	}
	return 0, false
}
