// Package markers keeps a set of on-screen aircraft markers in step with
// successive flight snapshots.
//
// The Reconciler owns the icao24 → *Marker mapping. A Layer draws markers
// and is told when each one is created, updated or destroyed; it never
// decides which markers exist.
package markers

import (
	"errors"
	"fmt"
	"sort"

	"github.com/unklstewy/flightscope/pkg/opensky"
)

// Marker pairs an aircraft identity with its current render state.
// ID never changes after creation; the reconciler replaces State in place.
type Marker struct {
	ID    string
	State RenderState
}

// Layer is the render target for markers.
type Layer interface {
	Create(m *Marker)
	Update(m *Marker)
	Destroy(m *Marker)
}

var (
	// ErrMissingID marks a record with an empty icao24.
	ErrMissingID = errors.New("missing icao24")

	// ErrDuplicateID marks a repeated icao24 within one snapshot.
	ErrDuplicateID = errors.New("duplicate icao24")
)

// IdentityError reports a snapshot record that was not applied.
type IdentityError struct {
	Index  int
	ICAO24 string
	Err    error
}

func (e *IdentityError) Error() string {
	if e.ICAO24 == "" {
		return fmt.Sprintf("record %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("record %d (%s): %v", e.Index, e.ICAO24, e.Err)
}

func (e *IdentityError) Unwrap() error {
	return e.Err
}

// Result lists the operations one reconciliation issued, by icao24.
// Created and Updated follow snapshot order; Destroyed is sorted.
type Result struct {
	Created   []string
	Updated   []string
	Destroyed []string

	// Rejected counts records dropped by the identity policy.
	Rejected int
}

// Reconciler diffs snapshots against the displayed marker set.
// It is not safe for concurrent use; drive it from one goroutine.
type Reconciler struct {
	layer   Layer
	markers map[string]*Marker
}

// NewReconciler creates a reconciler drawing on layer. With a nil layer
// Reconcile does nothing, so a selection.Tracker fed the same snapshots can
// hold an aircraft that has no marker.
func NewReconciler(layer Layer) *Reconciler {
	return &Reconciler{
		layer:   layer,
		markers: make(map[string]*Marker),
	}
}

// Reconcile applies a snapshot: existing markers are updated, new aircraft
// get a marker and markers missing from the snapshot are destroyed.
//
// Records with an empty icao24 are rejected, and only the first record for
// a repeated icao24 is applied. Every rejected record is reported as an
// *IdentityError in the returned error; the rest of the snapshot is applied
// regardless.
func (r *Reconciler) Reconcile(flights []opensky.FlightRecord) (Result, error) {
	var res Result
	if r.layer == nil {
		return res, nil
	}

	stale := make(map[string]struct{}, len(r.markers))
	for id := range r.markers {
		stale[id] = struct{}{}
	}

	seen := make(map[string]struct{}, len(flights))
	var errs []error

	for i, rec := range flights {
		if rec.ICAO24 == "" {
			errs = append(errs, &IdentityError{Index: i, Err: ErrMissingID})
			continue
		}
		if _, dup := seen[rec.ICAO24]; dup {
			errs = append(errs, &IdentityError{Index: i, ICAO24: rec.ICAO24, Err: ErrDuplicateID})
			continue
		}
		seen[rec.ICAO24] = struct{}{}

		next := RenderStateFor(rec)

		if m, ok := r.markers[rec.ICAO24]; ok {
			if !next.HasRotation {
				next.Rotation = m.State.Rotation
				next.HasRotation = m.State.HasRotation
			}
			m.State = next
			r.layer.Update(m)
			delete(stale, rec.ICAO24)
			res.Updated = append(res.Updated, rec.ICAO24)
			continue
		}

		m := &Marker{ID: rec.ICAO24, State: next}
		r.markers[rec.ICAO24] = m
		r.layer.Create(m)
		res.Created = append(res.Created, rec.ICAO24)
	}

	for id := range stale {
		res.Destroyed = append(res.Destroyed, id)
	}
	sort.Strings(res.Destroyed)
	for _, id := range res.Destroyed {
		m := r.markers[id]
		delete(r.markers, id)
		r.layer.Destroy(m)
	}

	res.Rejected = len(errs)
	return res, errors.Join(errs...)
}

// Get returns the marker for icao24.
func (r *Reconciler) Get(icao24 string) (*Marker, bool) {
	m, ok := r.markers[icao24]
	return m, ok
}

// Len returns the number of displayed markers.
func (r *Reconciler) Len() int {
	return len(r.markers)
}

// IDs returns the displayed icao24s in sorted order.
func (r *Reconciler) IDs() []string {
	ids := make([]string, 0, len(r.markers))
	for id := range r.markers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
