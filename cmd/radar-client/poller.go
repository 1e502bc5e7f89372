package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/unklstewy/flightscope/internal/poll"
	"github.com/unklstewy/flightscope/pkg/opensky"
)

// flightSource is the part of flightsapi.Client the poller needs.
type flightSource interface {
	Flights(ctx context.Context, lat, lng, sizeKm float64) ([]opensky.FlightRecord, error)
}

// snapshotMsg carries one poll result into the Update loop. The poller
// waits for done to be closed before it schedules the next fetch.
type snapshotMsg struct {
	gen     int
	flights []opensky.FlightRecord
	err     error
	at      time.Time
	done    chan struct{}
}

// poller fetches snapshots on a poll.Scheduler and hands them to the UI.
// Start and Stop never block, so they are safe to call from Update.
type poller struct {
	source   flightSource
	send     func(tea.Msg)
	lat, lng float64
	sizeKm   float64
	sched    *poll.Scheduler
	logger   *slog.Logger

	mu     sync.Mutex
	gen    int
	cancel context.CancelFunc
}

func newPoller(source flightSource, send func(tea.Msg), lat, lng, sizeKm float64, interval time.Duration, logger *slog.Logger) *poller {
	if logger == nil {
		logger = slog.Default()
	}
	p := &poller{
		source: source,
		send:   send,
		lat:    lat,
		lng:    lng,
		sizeKm: sizeKm,
		logger: logger,
	}
	p.sched = poll.New(p.fetch, interval)
	return p
}

// Start begins polling with an immediate fetch. It is a no-op when
// already running.
func (p *poller) Start(parent context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	p.gen++
	ctx, cancel := context.WithCancel(context.WithValue(parent, genKey{}, p.gen))
	p.cancel = cancel
	go p.sched.Run(ctx)
	p.logger.Info("Polling started", "interval", p.sched.Interval())
}

// Stop cancels the running loop. A fetch in flight is abandoned and its
// result, if it still arrives, carries a stale generation.
func (p *poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
	p.logger.Info("Polling stopped")
}

// Running reports whether a loop is active.
func (p *poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Generation identifies the current loop; snapshots from older loops are
// ignored.
func (p *poller) Generation() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen
}

func (p *poller) Interval() time.Duration {
	return p.sched.Interval()
}

func (p *poller) SetInterval(d time.Duration) {
	p.sched.SetInterval(d)
}

type genKey struct{}

func (p *poller) fetch(ctx context.Context) {
	gen, _ := ctx.Value(genKey{}).(int)

	flights, err := p.source.Flights(ctx, p.lat, p.lng, p.sizeKm)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("Flight fetch failed, showing empty snapshot", "err", err)
		flights = []opensky.FlightRecord{}
	}

	done := make(chan struct{})
	p.send(snapshotMsg{gen: gen, flights: flights, err: err, at: time.Now(), done: done})

	select {
	case <-done:
	case <-ctx.Done():
	}
}
