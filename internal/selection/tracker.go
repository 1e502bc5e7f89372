// Package selection tracks the one aircraft the user has picked and keeps
// its detail panel current across snapshots.
package selection

import (
	"github.com/unklstewy/flightscope/pkg/coordinates"
	"github.com/unklstewy/flightscope/pkg/opensky"
)

// State is the tracker state.
type State int

const (
	Unselected State = iota
	Selected
)

func (s State) String() string {
	if s == Selected {
		return "selected"
	}
	return "unselected"
}

// Highlighter marks an aircraft as selected on the display.
type Highlighter interface {
	SetHighlight(icao24 string, on bool)
}

// Panel shows the selected aircraft's details.
type Panel interface {
	Show(lines []string)
	Hide()
}

// Tracker is the selection state machine. The selection, when set, always
// refers to an aircraft in the latest snapshot passed to Refresh.
// It is not safe for concurrent use.
type Tracker struct {
	highlighter Highlighter
	panel       Panel
	center      *coordinates.Geographic

	selected string
	current  map[string]opensky.FlightRecord
}

// NewTracker creates an Unselected tracker. Nil collaborators are skipped.
// When center is set, the detail panel includes range and bearing from it.
//
// The tracker does not see the marker set. A selection is only guaranteed
// to have a marker when every Refresh follows a Reconcile on a reconciler
// built with a non-nil layer; a nil-layer reconciler draws nothing.
func NewTracker(h Highlighter, p Panel, center *coordinates.Geographic) *Tracker {
	return &Tracker{
		highlighter: h,
		panel:       p,
		center:      center,
		current:     make(map[string]opensky.FlightRecord),
	}
}

// State returns the current state.
func (t *Tracker) State() State {
	if t.selected == "" {
		return Unselected
	}
	return Selected
}

// Selected returns the selected icao24, if any.
func (t *Tracker) Selected() (string, bool) {
	return t.selected, t.selected != ""
}

// Select tracks icao24. Any previous highlight is cleared first. If the
// aircraft is not in the current snapshot the tracker stays Unselected and
// Select returns false.
func (t *Tracker) Select(icao24 string) bool {
	t.Clear()

	rec, ok := t.current[icao24]
	if !ok || icao24 == "" {
		return false
	}

	t.selected = icao24
	t.highlight(icao24, true)
	t.show(rec)
	return true
}

// Refresh re-resolves the selection against a new snapshot. A selected
// aircraft still present gets a fresh panel; one that is gone is dropped.
// Call it after every reconciliation, with the same snapshot.
func (t *Tracker) Refresh(flights []opensky.FlightRecord) {
	index := make(map[string]opensky.FlightRecord, len(flights))
	for _, rec := range flights {
		if _, dup := index[rec.ICAO24]; dup {
			continue
		}
		index[rec.ICAO24] = rec
	}
	t.current = index

	if t.selected == "" {
		return
	}
	rec, ok := index[t.selected]
	if !ok {
		t.Clear()
		return
	}
	t.highlight(t.selected, true)
	t.show(rec)
}

// Clear returns to Unselected unconditionally.
func (t *Tracker) Clear() {
	if t.selected != "" {
		t.highlight(t.selected, false)
	}
	t.selected = ""
	if t.panel != nil {
		t.panel.Hide()
	}
}

func (t *Tracker) highlight(icao24 string, on bool) {
	if t.highlighter != nil {
		t.highlighter.SetHighlight(icao24, on)
	}
}

func (t *Tracker) show(rec opensky.FlightRecord) {
	if t.panel != nil {
		t.panel.Show(DetailLines(rec, t.center))
	}
}
