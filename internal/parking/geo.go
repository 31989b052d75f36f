package parking

import "math"

// earthRadiusKm is the mean Earth radius used by DistanceKm.
const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two points using the
// haversine formula.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 } //nolint:mnd // degrees to radians

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// within reports whether s has coordinates inside the query radius.
func (q Query) within(s *Space) bool {
	if s.Latitude == nil || s.Longitude == nil {
		return false
	}
	return DistanceKm(*q.Latitude, *q.Longitude, *s.Latitude, *s.Longitude) <= *q.RadiusKm
}
