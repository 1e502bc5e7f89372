// Package metrics holds the pipeline counters on a Prometheus registry and
// serves them for scraping.
package metrics

import (
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Counter is a monotonically increasing value backed by a Prometheus counter.
type Counter struct {
	c prometheus.Counter
}

func newCounter(name, help string) *Counter {
	return &Counter{c: prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})}
}

// Inc adds one.
func (c *Counter) Inc() {
	c.c.Inc()
}

// Add adds n. Non-positive values are ignored; a Prometheus counter panics
// on a negative delta.
func (c *Counter) Add(n int) {
	if n > 0 {
		c.c.Add(float64(n))
	}
}

// Value returns the current count.
func (c *Counter) Value() uint64 {
	var m dto.Metric
	if err := c.c.Write(&m); err != nil {
		return 0
	}
	return uint64(m.GetCounter().GetValue())
}

// Pipeline is the set of counters shared by the fetcher, the token cache and
// the HTTP layer. Use New; each Pipeline owns its registry so tests and
// servers never collide on the global one.
type Pipeline struct {
	CacheHits      *Counter
	CacheMisses    *Counter
	UpstreamErrors *Counter
	TokenRefreshes *Counter
	TokenFailures  *Counter
	FlightsServed  *Counter

	registry *prometheus.Registry
}

// New returns a Pipeline with every counter registered at zero.
func New() *Pipeline {
	p := &Pipeline{
		CacheHits:      newCounter("flightscope_cache_hits_total", "Snapshot requests answered from cache."),
		CacheMisses:    newCounter("flightscope_cache_misses_total", "Snapshot requests that went upstream."),
		UpstreamErrors: newCounter("flightscope_upstream_errors_total", "Upstream feed requests that failed."),
		TokenRefreshes: newCounter("flightscope_token_refreshes_total", "Bearer token refresh attempts."),
		TokenFailures:  newCounter("flightscope_token_failures_total", "Bearer token refresh attempts that failed."),
		FlightsServed:  newCounter("flightscope_flights_served_total", "Flight records returned to callers."),
		registry:       prometheus.NewRegistry(),
	}
	p.registry.MustRegister(
		p.CacheHits.c,
		p.CacheMisses.c,
		p.UpstreamErrors.c,
		p.TokenRefreshes.c,
		p.TokenFailures.c,
		p.FlightsServed.c,
	)
	return p
}

// Families gathers the registered counters, sorted by name.
func (p *Pipeline) Families() ([]*dto.MetricFamily, error) {
	return p.registry.Gather()
}

// WriteText writes every family in the text exposition format.
func (p *Pipeline) WriteText(w io.Writer) error {
	families, err := p.Families()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Handler serves the registry for scraping.
func (p *Pipeline) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
