// Package flights turns a center point and box size into the list of
// airborne aircraft around it, going through the snapshot cache, the token
// cache and the OpenSky feed in that order.
package flights

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/unklstewy/flightscope/internal/cache"
	"github.com/unklstewy/flightscope/internal/metadata"
	"github.com/unklstewy/flightscope/internal/metrics"
	"github.com/unklstewy/flightscope/pkg/coordinates"
	"github.com/unklstewy/flightscope/pkg/opensky"
)

// Feed is the upstream state-vector source. *opensky.Client implements it.
type Feed interface {
	GetStates(ctx context.Context, query, token string) (opensky.Snapshot, error)
	Credits(ctx context.Context, token string) (opensky.RateLimitHeaders, error)
}

// Tokens supplies bearer tokens. *auth.TokenCache implements it.
type Tokens interface {
	EnsureValidToken(ctx context.Context) string
	Invalidate()
}

// Publisher receives every freshly fetched snapshot.
type Publisher interface {
	Publish(ctx context.Context, query string, records []opensky.FlightRecord) error
}

// Options holds the optional collaborators of a Service. Nil fields are
// skipped.
type Options struct {
	Directory metadata.Directory
	Publisher Publisher
	Metrics   *metrics.Pipeline
	Logger    *slog.Logger

	// Retry is used by Credits. The zero value selects DefaultRetryConfig.
	Retry opensky.RetryConfig
}

// Service fetches geo-bounded flight snapshots. It is safe for concurrent
// use. Lists returned by GetFlights may be shared with the cache and with
// other callers and must not be modified.
type Service struct {
	feed      Feed
	cache     *cache.Store[[]opensky.FlightRecord]
	tokens    Tokens
	directory metadata.Directory
	publisher Publisher
	metrics   *metrics.Pipeline
	logger    *slog.Logger
	retry     opensky.RetryConfig
}

// NewService wires a Service. feed, store and tokens are required.
func NewService(feed Feed, store *cache.Store[[]opensky.FlightRecord], tokens Tokens, opts Options) *Service {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Retry.MaxRetries == 0 && opts.Retry.InitialDelay == 0 {
		opts.Retry = opensky.DefaultRetryConfig()
	}

	return &Service{
		feed:      feed,
		cache:     store,
		tokens:    tokens,
		directory: opts.Directory,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		retry:     opts.Retry,
	}
}

// GetFlights returns the airborne aircraft inside the square of side sizeKm
// centered on lat, lng.
//
// A fresh cached result for the same rounded box is returned without
// touching the token or the feed. Upstream failures of any kind are logged
// and yield an empty, non-nil list that is not cached. The only error
// returned is the caller's context error.
func (s *Service) GetFlights(ctx context.Context, lat, lng, sizeKm float64) ([]opensky.FlightRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := coordinates.BoundingBoxAround(lat, lng, sizeKm).Query()

	if flights, ok := s.cache.Get(query); ok {
		s.metrics.CacheHits.Inc()
		s.metrics.FlightsServed.Add(len(flights))
		return flights, nil
	}
	s.metrics.CacheMisses.Inc()

	token := s.tokens.EnsureValidToken(ctx)

	snap, err := s.feed.GetStates(ctx, query, token)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.fetchFailed(query, token, err)
		return []opensky.FlightRecord{}, nil
	}

	for _, skipped := range snap.Skipped {
		s.logger.Warn("Skipping malformed state vector", "query", query, "err", skipped)
	}

	flights := s.airborne(snap.Records)
	s.cache.Put(query, flights)

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, query, flights); err != nil {
			s.logger.Warn("Failed to publish snapshot", "query", query, "err", err)
		}
	}

	s.logger.Debug("Fetched flights", "query", query, "states", len(snap.Records), "airborne", len(flights))
	s.metrics.FlightsServed.Add(len(flights))
	return flights, nil
}

// Credits reports the remaining OpenSky API credits, retrying transient
// failures with backoff. A 429 is an answer, not a failure: its rate-limit
// headers are returned as they are.
func (s *Service) Credits(ctx context.Context) (opensky.RateLimitHeaders, error) {
	token := s.tokens.EnsureValidToken(ctx)

	cfg := s.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.Warn("Credits check failed, retrying", "attempt", attempt, "delay", delay, "err", err)
	}

	return opensky.Retry(ctx, cfg, func(ctx context.Context) (opensky.RateLimitHeaders, error) {
		headers, err := s.feed.Credits(ctx, token)
		if rle, ok := opensky.IsRateLimitError(err); ok {
			s.logger.Warn("OpenSky credits exhausted",
				"remaining", rle.Headers.Remaining,
				"retry_after", rle.RetryAfter)
			return rle.Headers, nil
		}
		return headers, err
	})
}

// fetchFailed logs an upstream failure. A 401 drops the cached token so the
// next miss fetches a new one.
func (s *Service) fetchFailed(query, token string, err error) {
	s.metrics.UpstreamErrors.Inc()

	if rle, ok := opensky.IsRateLimitError(err); ok {
		s.logger.Warn("OpenSky rate limit exceeded",
			"query", query,
			"remaining", rle.Headers.Remaining,
			"retry_after", rle.RetryAfter)
		return
	}

	var se *opensky.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized && token != "" {
		s.tokens.Invalidate()
	}

	if errors.Is(err, opensky.ErrNoStates) {
		s.logger.Warn("Missing flights data from OpenSky", "query", query)
		return
	}
	s.logger.Error("Error fetching flights", "query", query, "err", err)
}

// airborne drops on-ground records and attaches registry data.
func (s *Service) airborne(records []opensky.FlightRecord) []opensky.FlightRecord {
	flights := make([]opensky.FlightRecord, 0, len(records))
	for _, rec := range records {
		if rec.OnGround {
			continue
		}
		if s.directory != nil {
			if a, ok := s.directory.Lookup(rec.ICAO24); ok {
				rec.PlaneRegistration = a.Registration
				rec.PlaneTypeCode = a.TypeCode
				rec.PlaneModel = a.Model
			}
		}
		flights = append(flights, rec)
	}
	return flights
}
