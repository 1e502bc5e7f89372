// Package opensky provides the state-vector model and an HTTP client for the
// OpenSky Network REST API.
//
// The /states/all endpoint returns every aircraft state as a positional JSON
// array rather than an object. This package owns the mapping from those
// positions to named fields so the rest of the module never indexes tuples.
//
// API Documentation: https://openskynetwork.github.io/opensky-api/rest.html
package opensky

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FlightRecord is one aircraft's state as reported by the feed.
// All position data is in WGS84. Records are never mutated once built.
type FlightRecord struct {
	// ICAO24 is the unique 24-bit transponder address in hex (e.g., "4x7abc").
	ICAO24 string `json:"icao24"`

	// Callsign with surrounding whitespace removed. Empty when not reported.
	Callsign string `json:"callsign"`

	OriginCountry string `json:"originCountry"`

	// TimePosition is the Unix time of the last position update.
	TimePosition *int64 `json:"timePosition"`

	// LastContact is the Unix time of the last message of any kind.
	LastContact int64 `json:"lastContact"`

	// Longitude/Latitude in decimal degrees. Nil when the feed has no position.
	Longitude *float64 `json:"longitude"`
	Latitude  *float64 `json:"latitude"`

	// BaroAltitude in meters.
	BaroAltitude *float64 `json:"baroAltitude"`

	OnGround bool `json:"onGround"`

	// Velocity over ground in m/s.
	Velocity *float64 `json:"velocity"`

	// TrueTrack in degrees clockwise from north.
	TrueTrack *float64 `json:"trueTrack"`

	// VerticalRate in m/s, positive when climbing.
	VerticalRate *float64 `json:"verticalRate"`

	Sensors        []int    `json:"sensors"`
	GeoAltitude    *float64 `json:"geoAltitude"`
	Squawk         *string  `json:"squawk"`
	SPI            bool     `json:"spi"`
	PositionSource int      `json:"positionSource"`

	// Category is only present when the query sets extended=1.
	Category int `json:"category"`

	// Registry enrichment, filled by the fetcher when a directory is configured.
	PlaneRegistration string `json:"planeRegistration,omitempty"`
	PlaneTypeCode     string `json:"planeTypeCode,omitempty"`
	PlaneModel        string `json:"planeModel,omitempty"`
}

// HasPosition reports whether both coordinates are present.
func (r FlightRecord) HasPosition() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// StateCount is the number of positions in a state vector tuple.
const StateCount = 18

// Snapshot is a decoded /states/all response.
type Snapshot struct {
	// Time is the server timestamp the states are associated with.
	Time int64

	// Records holds every tuple that decoded cleanly, in feed order.
	Records []FlightRecord

	// Skipped holds one *TupleError per tuple that could not be decoded.
	Skipped []error
}

// TupleError describes a state tuple that was dropped during decoding.
type TupleError struct {
	Index int
	Err   error
}

func (e *TupleError) Error() string {
	return fmt.Sprintf("state %d: %v", e.Index, e.Err)
}

func (e *TupleError) Unwrap() error {
	return e.Err
}

// statesResponse matches the /states/all payload. States stays raw so a
// single malformed tuple does not fail the whole document.
type statesResponse struct {
	Time   int64             `json:"time"`
	States []json.RawMessage `json:"states"`
}

// DecodeStates parses a /states/all body.
//
// Returns ErrNoStates when the document has no "states" member or it is null.
// A tuple with an element of the wrong JSON type is skipped and reported in
// Snapshot.Skipped; a tuple shorter than StateCount leaves the missing fields
// at their zero value.
func DecodeStates(body []byte) (Snapshot, error) {
	var resp statesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse states response: %w", err)
	}
	if resp.States == nil {
		return Snapshot{Time: resp.Time}, ErrNoStates
	}

	snap := Snapshot{
		Time:    resp.Time,
		Records: make([]FlightRecord, 0, len(resp.States)),
	}
	for i, raw := range resp.States {
		rec, err := decodeTuple(raw)
		if err != nil {
			snap.Skipped = append(snap.Skipped, &TupleError{Index: i, Err: err})
			continue
		}
		snap.Records = append(snap.Records, rec)
	}
	return snap, nil
}

// decodeTuple maps a positional state vector onto a FlightRecord.
// JSON null leaves the target at its zero value.
func decodeTuple(raw json.RawMessage) (FlightRecord, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return FlightRecord{}, err
	}
	if fields == nil {
		return FlightRecord{}, fmt.Errorf("state is not an array")
	}

	var rec FlightRecord
	var callsign *string
	targets := [StateCount]any{
		&rec.ICAO24,
		&callsign,
		&rec.OriginCountry,
		&rec.TimePosition,
		&rec.LastContact,
		&rec.Longitude,
		&rec.Latitude,
		&rec.BaroAltitude,
		&rec.OnGround,
		&rec.Velocity,
		&rec.TrueTrack,
		&rec.VerticalRate,
		&rec.Sensors,
		&rec.GeoAltitude,
		&rec.Squawk,
		&rec.SPI,
		&rec.PositionSource,
		&rec.Category,
	}

	for i, field := range fields {
		if i >= StateCount {
			break
		}
		if err := json.Unmarshal(field, targets[i]); err != nil {
			return FlightRecord{}, fmt.Errorf("field %d: %w", i, err)
		}
	}

	if callsign != nil {
		rec.Callsign = strings.TrimSpace(*callsign)
	}
	return rec, nil
}
