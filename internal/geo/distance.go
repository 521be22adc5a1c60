package geo

import (
	"math"

	"github.com/r3tr0m0/Truck-Inspection-System/internal/domain"
)

const earthRadiusMeters = 6371000

// DistanceMeters returns the great-circle distance between two points.
// A missing coordinate on either side yields 0, the sentinel the rest of
// the pipeline treats as "no reading".
func DistanceMeters(a, b domain.Coordinates) float64 {
	if !a.Valid() || !b.Valid() {
		return 0
	}
	return haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
