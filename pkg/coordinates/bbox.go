package coordinates

import (
	"math"
	"net/url"
	"strconv"
)

// KmPerDegreeLatitude is the length of one degree of latitude.
// Also used as the equatorial length of one degree of longitude before
// the cos(latitude) correction.
const KmPerDegreeLatitude = 111.32

// BoundingBox is a rectangular lat/lon region used to scope a feed query.
// Longitudes are always in [-180, 180); when the box crosses the
// antimeridian LngMin is greater than LngMax.
type BoundingBox struct {
	LatMin float64 `json:"latMin"`
	LatMax float64 `json:"latMax"`
	LngMin float64 `json:"lngMin"`
	LngMax float64 `json:"lngMax"`
}

// BoundingBoxAround returns the square box of side sizeKm centered on (lat, lng).
//
// The longitude half-width is divided by cos(lat) to compensate for meridian
// convergence. Near the poles that delta grows without bound; the function
// still never fails and returns whatever the arithmetic produces.
func BoundingBoxAround(lat, lng, sizeKm float64) BoundingBox {
	half := sizeKm / 2
	dLat := half / KmPerDegreeLatitude
	dLng := half / (KmPerDegreeLatitude * math.Cos(lat*DegreesToRadians))

	return BoundingBox{
		LatMin: lat - dLat,
		LatMax: lat + dLat,
		LngMin: WrapLongitude(lng - dLng),
		LngMax: WrapLongitude(lng + dLng),
	}
}

// WrapLongitude maps any finite longitude into [-180, 180).
func WrapLongitude(lng float64) float64 {
	// The second Mod handles inputs below -540 where the first result is negative.
	wrapped := math.Mod(math.Mod(lng+540, 360)+360, 360) - 180
	if wrapped >= 180 {
		wrapped -= 360
	}
	return wrapped
}

// Crosses180 reports whether the box spans the antimeridian.
func (b BoundingBox) Crosses180() bool {
	return b.LngMin > b.LngMax
}

// Query returns the feed query string for the box. Each bound is rounded to
// one decimal degree and the extended flag is always set, so two boxes that
// round to the same values produce the same string. The result doubles as
// the snapshot cache key.
//
// Longitudes are wrapped again after rounding: 179.96 is sent as -180.0.
func (b BoundingBox) Query() string {
	params := url.Values{}
	params.Set("lamin", formatDegrees(b.LatMin))
	params.Set("lamax", formatDegrees(b.LatMax))
	params.Set("lomin", formatLongitude(b.LngMin))
	params.Set("lomax", formatLongitude(b.LngMax))
	params.Set("extended", "1")
	return params.Encode()
}

func formatDegrees(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func formatLongitude(v float64) string {
	return formatDegrees(WrapLongitude(math.Round(v*10) / 10))
}
