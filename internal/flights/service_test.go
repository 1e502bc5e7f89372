package flights

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unklstewy/flightscope/internal/cache"
	"github.com/unklstewy/flightscope/internal/metadata"
	"github.com/unklstewy/flightscope/internal/metrics"
	"github.com/unklstewy/flightscope/pkg/opensky"
)

const mixedStates = `{"time": 1700000000, "states": [
	["738065", "ELY001  ", "Israel", 1700000000, 1700000000, 34.88, 32.01, 9144.0, false, 231.5, 275.0, -5.2, null, 9300.0, "1234", false, 0, 0],
	["4x7abc", "GND1    ", "Israel", 1700000000, 1700000000, 34.89, 32.00, null, true, 0.0, 90.0, null, null, null, null, false, 0, 0]
]}`

type fakeTokens struct {
	token       atomic.Value
	calls       atomic.Int32
	invalidated atomic.Int32
}

func newFakeTokens(tok string) *fakeTokens {
	f := &fakeTokens{}
	f.token.Store(tok)
	return f
}

func (f *fakeTokens) EnsureValidToken(ctx context.Context) string {
	f.calls.Add(1)
	return f.token.Load().(string)
}

func (f *fakeTokens) Invalidate() {
	f.invalidated.Add(1)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu      sync.Mutex
	queries []string
	counts  []int
	err     error
}

func (p *recordingPublisher) Publish(ctx context.Context, query string, records []opensky.FlightRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries = append(p.queries, query)
	p.counts = append(p.counts, len(records))
	return p.err
}

// feedServer serves body for every /states/all request and counts them.
func feedServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func staticBody(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}
}

type fixture struct {
	service *Service
	tokens  *fakeTokens
	clock   *fakeClock
	metrics *metrics.Pipeline
}

func newFixture(t *testing.T, serverURL string, opts Options) fixture {
	t.Helper()

	store, err := cache.New[[]opensky.FlightRecord](5*time.Second, 16)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	store.Now = clock.Now

	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	tokens := newFakeTokens("tok")
	svc := NewService(opensky.NewClient(serverURL, 0), store, tokens, opts)

	return fixture{service: svc, tokens: tokens, clock: clock, metrics: opts.Metrics}
}

// TestGetFlightsFiltersOnGround tests the reference scenario around 32.0, 34.9.
func TestGetFlightsFiltersOnGround(t *testing.T) {
	server, hits := feedServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		expected := map[string]string{
			"lamin": "29.8", "lamax": "34.2",
			"lomin": "32.3", "lomax": "37.5",
			"extended": "1",
		}
		for k, v := range expected {
			if got := q.Get(k); got != v {
				t.Errorf("Expected %s=%s, got %s", k, v, got)
			}
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Expected bearer token, got %q", got)
		}
		fmt.Fprint(w, mixedStates)
	})

	f := newFixture(t, server.URL, Options{})
	flights, err := f.service.GetFlights(context.Background(), 32.0, 34.9, 500)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(flights) != 1 {
		t.Fatalf("Expected 1 airborne flight, got %d", len(flights))
	}
	if flights[0].ICAO24 != "738065" {
		t.Errorf("Expected 738065, got %s", flights[0].ICAO24)
	}
	if flights[0].Callsign != "ELY001" {
		t.Errorf("Expected trimmed callsign ELY001, got %q", flights[0].Callsign)
	}
	if flights[0].OnGround {
		t.Error("Expected no on-ground records")
	}
	if hits.Load() != 1 {
		t.Errorf("Expected 1 upstream request, got %d", hits.Load())
	}
}

// TestGetFlightsCache tests TTL behavior and key normalization.
func TestGetFlightsCache(t *testing.T) {
	t.Run("Hit within TTL skips token and feed", func(t *testing.T) {
		server, hits := feedServer(t, staticBody(mixedStates))
		f := newFixture(t, server.URL, Options{})
		ctx := context.Background()

		f.service.GetFlights(ctx, 32.0, 34.9, 500)
		f.clock.Advance(4 * time.Second)
		flights, _ := f.service.GetFlights(ctx, 32.0, 34.9, 500)

		if len(flights) != 1 {
			t.Errorf("Expected cached flight, got %d", len(flights))
		}
		if hits.Load() != 1 {
			t.Errorf("Expected 1 upstream request, got %d", hits.Load())
		}
		if f.tokens.calls.Load() != 1 {
			t.Errorf("Expected token requested once, got %d", f.tokens.calls.Load())
		}
		if f.metrics.CacheHits.Value() != 1 || f.metrics.CacheMisses.Value() != 1 {
			t.Errorf("Expected 1 hit and 1 miss, got %d and %d",
				f.metrics.CacheHits.Value(), f.metrics.CacheMisses.Value())
		}
	})

	t.Run("Refetches after TTL", func(t *testing.T) {
		server, hits := feedServer(t, staticBody(mixedStates))
		f := newFixture(t, server.URL, Options{})
		ctx := context.Background()

		f.service.GetFlights(ctx, 32.0, 34.9, 500)
		f.clock.Advance(5*time.Second + time.Millisecond)
		f.service.GetFlights(ctx, 32.0, 34.9, 500)

		if hits.Load() != 2 {
			t.Errorf("Expected 2 upstream requests, got %d", hits.Load())
		}
	})

	t.Run("Equivalent boxes share an entry", func(t *testing.T) {
		server, hits := feedServer(t, staticBody(mixedStates))
		f := newFixture(t, server.URL, Options{})
		ctx := context.Background()

		f.service.GetFlights(ctx, 32.0, 34.9, 500)
		f.service.GetFlights(ctx, 32.001, 34.9, 500)

		if hits.Load() != 1 {
			t.Errorf("Expected 1 upstream request for equivalent boxes, got %d", hits.Load())
		}
	})

	t.Run("Different boxes miss", func(t *testing.T) {
		server, hits := feedServer(t, staticBody(mixedStates))
		f := newFixture(t, server.URL, Options{})
		ctx := context.Background()

		f.service.GetFlights(ctx, 32.0, 34.9, 500)
		f.service.GetFlights(ctx, 40.0, -74.0, 500)

		if hits.Load() != 2 {
			t.Errorf("Expected 2 upstream requests, got %d", hits.Load())
		}
	})
}

// TestGetFlightsDegraded tests that upstream failures yield an empty list.
func TestGetFlightsDegraded(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "Server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "Rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Rate-Limit-Remaining", "0")
				w.Header().Set("X-Rate-Limit-Retry-After-Seconds", "3600")
				w.WriteHeader(http.StatusTooManyRequests)
			},
		},
		{
			name:    "Missing states",
			handler: staticBody(`{"time": 1700000000}`),
		},
		{
			name:    "Null states",
			handler: staticBody(`{"time": 1700000000, "states": null}`),
		},
		{
			name:    "Malformed body",
			handler: staticBody(`<html>maintenance</html>`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, hits := feedServer(t, tt.handler)
			f := newFixture(t, server.URL, Options{})
			ctx := context.Background()

			flights, err := f.service.GetFlights(ctx, 32.0, 34.9, 500)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if flights == nil || len(flights) != 0 {
				t.Errorf("Expected empty non-nil list, got %#v", flights)
			}
			if f.metrics.UpstreamErrors.Value() != 1 {
				t.Errorf("Expected 1 upstream error, got %d", f.metrics.UpstreamErrors.Value())
			}

			// Failures are not cached.
			f.service.GetFlights(ctx, 32.0, 34.9, 500)
			if hits.Load() != 2 {
				t.Errorf("Expected 2 upstream requests, got %d", hits.Load())
			}
		})
	}
}

// TestGetFlightsUnauthenticated tests the empty-token path.
func TestGetFlightsUnauthenticated(t *testing.T) {
	server, _ := feedServer(t, func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Header["Authorization"]; ok {
			t.Error("Expected no Authorization header without a token")
		}
		fmt.Fprint(w, mixedStates)
	})

	f := newFixture(t, server.URL, Options{})
	f.tokens.token.Store("")

	flights, err := f.service.GetFlights(context.Background(), 32.0, 34.9, 500)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(flights) != 1 {
		t.Errorf("Expected 1 flight, got %d", len(flights))
	}
}

// TestGetFlightsUnauthorized tests that a rejected token is dropped.
func TestGetFlightsUnauthorized(t *testing.T) {
	server, _ := feedServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	f := newFixture(t, server.URL, Options{})
	f.service.GetFlights(context.Background(), 32.0, 34.9, 500)

	if f.tokens.invalidated.Load() != 1 {
		t.Errorf("Expected token invalidated once, got %d", f.tokens.invalidated.Load())
	}
}

// TestGetFlightsCancelled tests that only cancellation surfaces as an error.
func TestGetFlightsCancelled(t *testing.T) {
	server, hits := feedServer(t, staticBody(mixedStates))
	f := newFixture(t, server.URL, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.GetFlights(ctx, 32.0, 34.9, 500)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if hits.Load() != 0 {
		t.Errorf("Expected no upstream request, got %d", hits.Load())
	}
}

// TestGetFlightsEnrichment tests registry lookups on fresh records.
func TestGetFlightsEnrichment(t *testing.T) {
	server, _ := feedServer(t, staticBody(mixedStates))

	reg := metadata.NewRegistry()
	reg.Add(metadata.Row{
		ICAO24:           "738065",
		Registration:     "4X-EKA",
		TypeCode:         "B738",
		ManufacturerICAO: "BOEING",
		ManufacturerName: "Boeing",
		Model:            "737-858",
	})

	f := newFixture(t, server.URL, Options{Directory: reg})
	flights, _ := f.service.GetFlights(context.Background(), 32.0, 34.9, 500)

	if len(flights) != 1 {
		t.Fatalf("Expected 1 flight, got %d", len(flights))
	}
	got := flights[0]
	if got.PlaneRegistration != "4X-EKA" || got.PlaneTypeCode != "B738" || got.PlaneModel != "Boeing 737-858" {
		t.Errorf("Expected enriched record, got %q %q %q", got.PlaneRegistration, got.PlaneTypeCode, got.PlaneModel)
	}
}

// TestGetFlightsPublishes tests that only fresh snapshots are published.
func TestGetFlightsPublishes(t *testing.T) {
	server, _ := feedServer(t, staticBody(mixedStates))
	pub := &recordingPublisher{err: errors.New("broker down")}

	f := newFixture(t, server.URL, Options{Publisher: pub})
	ctx := context.Background()

	flights, err := f.service.GetFlights(ctx, 32.0, 34.9, 500)
	if err != nil || len(flights) != 1 {
		t.Fatalf("Expected publish failure to be ignored, got %v / %d flights", err, len(flights))
	}
	f.service.GetFlights(ctx, 32.0, 34.9, 500)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.queries) != 1 {
		t.Fatalf("Expected 1 publish, got %d", len(pub.queries))
	}
	if pub.counts[0] != 1 {
		t.Errorf("Expected 1 published record, got %d", pub.counts[0])
	}
	if pub.queries[0] != "extended=1&lamax=34.2&lamin=29.8&lomax=37.5&lomin=32.3" {
		t.Errorf("Unexpected published query %s", pub.queries[0])
	}
}

// TestCredits tests the credits check with retry.
func TestCredits(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if got := r.URL.Query().Get("lamax"); got != "1" {
			t.Errorf("Expected credits box lamax=1, got %s", got)
		}
		w.Header().Set("X-Rate-Limit-Remaining", "3987")
		fmt.Fprint(w, `{"time": 1, "states": []}`)
	}))
	defer server.Close()

	f := newFixture(t, server.URL, Options{
		Retry: opensky.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, Multiplier: 1},
	})

	headers, err := f.service.Credits(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if headers.Remaining != 3987 {
		t.Errorf("Expected 3987 remaining, got %d", headers.Remaining)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 credits requests, got %d", calls.Load())
	}
}

// TestCreditsExhausted tests that a 429 reports zero credits without
// sleeping through its Retry-After.
func TestCreditsExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("X-Rate-Limit-Remaining", "0")
		w.Header().Set("X-Rate-Limit-Retry-After-Seconds", "3600")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	f := newFixture(t, server.URL, Options{Retry: opensky.DefaultRetryConfig()})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	headers, err := f.service.Credits(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if headers.Remaining != 0 {
		t.Errorf("Expected 0 remaining, got %d", headers.Remaining)
	}
	if headers.RetryAfter != time.Hour {
		t.Errorf("Expected retry after 1h, got %v", headers.RetryAfter)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 credits request, got %d", calls.Load())
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected prompt return, took %v", elapsed)
	}
}
