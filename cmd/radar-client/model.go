package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/unklstewy/flightscope/internal/markers"
	"github.com/unklstewy/flightscope/internal/selection"
	"github.com/unklstewy/flightscope/pkg/config"
	"github.com/unklstewy/flightscope/pkg/coordinates"
)

const (
	minRadiusNM  = 10.0
	maxRadiusNM  = 1000.0
	intervalStep = 5 * time.Second
)

// pollControl is what the model needs from the poller.
type pollControl interface {
	Start(ctx context.Context)
	Stop()
	Running() bool
	Generation() int
	Interval() time.Duration
	SetInterval(d time.Duration)
}

// creditSource is the part of flightsapi.Client behind the credits line.
type creditSource interface {
	Credits(ctx context.Context) (int, error)
}

// creditsMsg carries the result of a credits request into the Update loop.
type creditsMsg struct {
	remaining int
	err       error
}

type model struct {
	ctx     context.Context
	cfg     *config.Config
	poller  pollControl
	credits creditSource
	logger  *slog.Logger

	// Owned by the Update loop
	scope      *scope
	reconciler *markers.Reconciler
	tracker    *selection.Tracker

	center      coordinates.Geographic
	radarRadius float64
	cursor      int
	width       int
	height      int

	lastUpdate time.Time
	lastErr    error
	rejected   int

	// -1 until the first credits response
	remaining  int
	creditsErr error
}

func newModel(ctx context.Context, cfg *config.Config, poller pollControl, credits creditSource, logger *slog.Logger) model {
	if logger == nil {
		logger = slog.Default()
	}
	sc := newScope()
	center := coordinates.Geographic{
		Latitude:  cfg.Client.CenterLatitude,
		Longitude: cfg.Client.CenterLongitude,
	}

	radius := 100.0
	for _, r := range cfg.Client.RangeRingsNM {
		if r > radius {
			radius = r
		}
	}

	return model{
		ctx:         ctx,
		cfg:         cfg,
		poller:      poller,
		credits:     credits,
		logger:      logger,
		scope:       sc,
		reconciler:  markers.NewReconciler(sc),
		tracker:     selection.NewTracker(sc, sc, &center),
		center:      center,
		radarRadius: radius,
		width:       120,
		height:      40,
		remaining:   -1,
	}
}

func (m model) Init() tea.Cmd {
	m.poller.Start(m.ctx)
	return m.fetchCredits()
}

// fetchCredits asks the server for the remaining OpenSky credits off the
// Update loop.
func (m model) fetchCredits() tea.Cmd {
	if m.credits == nil {
		return nil
	}
	ctx, src := m.ctx, m.credits
	return func() tea.Msg {
		remaining, err := src.Credits(ctx)
		return creditsMsg{remaining: remaining, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case snapshotMsg:
		return m.applySnapshot(msg), nil

	case creditsMsg:
		m.creditsErr = msg.err
		if msg.err != nil {
			m.logger.Warn("Credits request failed", "err", msg.err)
		} else {
			m.remaining = msg.remaining
		}

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

// applySnapshot reconciles the markers and re-resolves the selection, then
// releases the poller.
func (m model) applySnapshot(msg snapshotMsg) model {
	defer close(msg.done)

	if msg.gen != m.poller.Generation() {
		m.logger.Debug("Dropping snapshot from stopped poll loop", "gen", msg.gen)
		return m
	}

	res, err := m.reconciler.Reconcile(msg.flights)
	if err != nil {
		m.logger.Warn("Snapshot had identity problems", "rejected", res.Rejected, "err", err)
	}
	m.tracker.Refresh(msg.flights)

	m.logger.Debug("Snapshot applied",
		"created", len(res.Created), "updated", len(res.Updated), "destroyed", len(res.Destroyed))

	m.lastUpdate = msg.at
	m.lastErr = msg.err
	m.rejected = res.Rejected
	if n := len(m.scope.markers); m.cursor >= n {
		m.cursor = max(n-1, 0)
	}
	return m
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	n := len(m.scope.markers)

	switch msg.String() {
	case "ctrl+c", "q":
		m.poller.Stop()
		return m, tea.Quit

	case "tab", "down", "j":
		if n > 0 {
			m.cursor = (m.cursor + 1) % n
		}
	case "shift+tab", "up", "k":
		if n > 0 {
			m.cursor = (m.cursor - 1 + n) % n
		}

	case "enter", " ":
		list := m.scope.sorted()
		if m.cursor < len(list) {
			m.tracker.Select(list[m.cursor].ID)
		}
	case "esc":
		m.tracker.Clear()

	case "+", "=":
		m.radarRadius = min(m.radarRadius*1.5, maxRadiusNM)
	case "-", "_":
		m.radarRadius = max(m.radarRadius/1.5, minRadiusNM)

	case "]":
		m.poller.SetInterval(m.poller.Interval() + intervalStep)
	case "[":
		if d := m.poller.Interval() - intervalStep; d >= intervalStep {
			m.poller.SetInterval(d)
		}

	case "s":
		if m.poller.Running() {
			m.poller.Stop()
		} else {
			m.poller.Start(m.ctx)
		}
	case "r":
		m.poller.Stop()
		m.poller.Start(m.ctx)
	case "c":
		return m, m.fetchCredits()
	}
	return m, nil
}

func (m model) View() string {
	var s strings.Builder

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)
	s.WriteString(titleStyle.Render("FLIGHTSCOPE RADAR"))
	s.WriteString("\n\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, m.renderRadar(), "  ", m.renderInfo()))
	s.WriteString("\n")
	s.WriteString(m.renderList())
	s.WriteString("\n")

	return s.String()
}
