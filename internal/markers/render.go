package markers

import (
	"fmt"
	"math"

	"github.com/unklstewy/flightscope/pkg/coordinates"
	"github.com/unklstewy/flightscope/pkg/opensky"
)

// RotationOffset turns a nose-up glyph so that it points along the track.
const RotationOffset = 180

// Glyphs appended to the altitude label.
const (
	ClimbGlyph   = "↑"
	DescendGlyph = "↓"
)

// Position is a marker's map position. Valid is false when the feed had no
// coordinates, in which case Lat and Lng are zero.
type Position struct {
	Lat   float64
	Lng   float64
	Valid bool
}

// RenderState is everything a layer needs to draw one aircraft.
type RenderState struct {
	Position Position

	// Title is "<callsign> (<origin country>)"
	Title string

	// Rotation in degrees; only meaningful when HasRotation is set.
	Rotation    float64
	HasRotation bool

	// AltitudeLabel is hundreds of feet, zero-padded to 3 digits ("350").
	AltitudeLabel string

	// ClimbGlyph is ClimbGlyph, DescendGlyph or empty in level flight.
	ClimbGlyph string

	// SpeedLabel is knots, zero-padded to 3 digits.
	SpeedLabel string

	// InfoLine1 and InfoLine2 are the two-line data block under the glyph.
	InfoLine1 string
	InfoLine2 string
}

// RenderStateFor derives the render state of rec from scratch. Callers
// updating an existing marker keep its rotation when rec has no track.
func RenderStateFor(rec opensky.FlightRecord) RenderState {
	s := RenderState{
		Title: fmt.Sprintf("%s (%s)", rec.Callsign, rec.OriginCountry),
	}

	if rec.HasPosition() {
		s.Position = Position{Lat: *rec.Latitude, Lng: *rec.Longitude, Valid: true}
	}

	if rec.TrueTrack != nil {
		s.Rotation = math.Round(*rec.TrueTrack) + RotationOffset
		s.HasRotation = true
	}

	s.AltitudeLabel = threeDigits(math.Round(deref(rec.BaroAltitude) * coordinates.MetersToFeet / 100))

	if vr := deref(rec.VerticalRate); vr > 0 {
		s.ClimbGlyph = ClimbGlyph
	} else if vr < 0 {
		s.ClimbGlyph = DescendGlyph
	}

	s.SpeedLabel = threeDigits(math.Round(deref(rec.Velocity) * coordinates.MetersPerSecondToKnots))

	s.InfoLine1 = rec.Callsign
	if s.InfoLine1 == "" {
		s.InfoLine1 = "???"
	}
	s.InfoLine2 = s.AltitudeLabel + s.ClimbGlyph + " " + s.SpeedLabel

	return s
}

func threeDigits(v float64) string {
	return fmt.Sprintf("%03d", int(v))
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
