package selection

import (
	"fmt"
	"math"
	"strings"

	"github.com/unklstewy/flightscope/pkg/coordinates"
	"github.com/unklstewy/flightscope/pkg/opensky"
)

// DetailLines renders the detail panel for rec. Feed units are converted
// here: feet, ft/min and knots. center may be nil.
func DetailLines(rec opensky.FlightRecord, center *coordinates.Geographic) []string {
	lines := []string{
		fmt.Sprintf("Call/ICAO24: %s / %s", rec.Callsign, rec.ICAO24),
		"Reg: " + orNA(rec.PlaneRegistration+" "+rec.OriginCountry),
		"Model: " + orNA(rec.PlaneTypeCode+" "+rec.PlaneModel),
		"Altitude: " + altitude(rec),
		"Position: " + position(rec),
		fmt.Sprintf("Track/Speed: %s° / %d kts", track(rec), round(value(rec.Velocity)*coordinates.MetersPerSecondToKnots)),
	}

	if center != nil && rec.HasPosition() {
		to := coordinates.Geographic{Latitude: *rec.Latitude, Longitude: *rec.Longitude}
		lines = append(lines, fmt.Sprintf("Range/Bearing: %.1f NM / %03d°",
			coordinates.DistanceNauticalMiles(*center, to),
			round(coordinates.Bearing(*center, to))%360))
	}
	return lines
}

func altitude(rec opensky.FlightRecord) string {
	s := fmt.Sprintf("%d ft", round(value(rec.BaroAltitude)*coordinates.MetersToFeet))

	switch vr := round(value(rec.VerticalRate) * coordinates.MetersPerSecondToFeetPerMinute); {
	case vr > 0:
		s += fmt.Sprintf(" +%d ft/min", vr)
	case vr < 0:
		s += fmt.Sprintf(" %d ft/min", vr)
	}
	return s
}

func position(rec opensky.FlightRecord) string {
	if !rec.HasPosition() {
		return "N/A"
	}
	return fmt.Sprintf("%.4f, %.4f", *rec.Latitude, *rec.Longitude)
}

func track(rec opensky.FlightRecord) string {
	if rec.TrueTrack == nil {
		return "N/A"
	}
	return fmt.Sprintf("%d", round(*rec.TrueTrack))
}

func orNA(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "N/A"
	}
	return s
}

func round(v float64) int {
	return int(math.Round(v))
}

func value(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
