package main

import (
	"sort"

	"github.com/unklstewy/flightscope/internal/markers"
)

// scope is the radar client's render target. It keeps the markers the
// reconciler hands it, the highlight flag and the detail panel text, and
// radar.go draws from that state.
type scope struct {
	markers     map[string]*markers.Marker
	highlighted string
	panel       []string
}

func newScope() *scope {
	return &scope{markers: make(map[string]*markers.Marker)}
}

func (s *scope) Create(m *markers.Marker) {
	s.markers[m.ID] = m
}

func (s *scope) Update(m *markers.Marker) {
	s.markers[m.ID] = m
}

func (s *scope) Destroy(m *markers.Marker) {
	delete(s.markers, m.ID)
	if s.highlighted == m.ID {
		s.highlighted = ""
	}
}

// SetHighlight implements selection.Highlighter.
func (s *scope) SetHighlight(icao24 string, on bool) {
	switch {
	case on:
		s.highlighted = icao24
	case s.highlighted == icao24:
		s.highlighted = ""
	}
}

// Show implements selection.Panel.
func (s *scope) Show(lines []string) {
	s.panel = lines
}

// Hide implements selection.Panel.
func (s *scope) Hide() {
	s.panel = nil
}

// sorted returns the markers ordered by callsign, then icao24.
func (s *scope) sorted() []*markers.Marker {
	list := make([]*markers.Marker, 0, len(s.markers))
	for _, m := range s.markers {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.State.InfoLine1 != b.State.InfoLine1 {
			return a.State.InfoLine1 < b.State.InfoLine1
		}
		return a.ID < b.ID
	})
	return list
}
