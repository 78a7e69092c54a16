package geo

import (
	"fmt"
	"math"

	"github.com/example/delivery-tracking/internal/models"
)

// EarthRadiusKm is the mean Earth radius used by the Haversine formula.
const EarthRadiusKm = 6371.0

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	return haversineKm(lat1, lon1, lat2, lon2) * 1000
}

// DistanceKm returns the great-circle distance between a and b in kilometers.
func DistanceKm(a, b models.GeoPoint) float64 {
	return haversineKm(a.Lat, a.Lng, b.Lat, b.Lng)
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// FormatDistance renders a distance for display: whole meters under one
// kilometer, one decimal kilometer otherwise. There is no inverse.
func FormatDistance(km float64) string {
	if km < 1 {
		return fmt.Sprintf("%d m", int(math.Round(km*1000)))
	}
	return fmt.Sprintf("%.1f km", km)
}

// Box is a south-west / north-east bounding box.
type Box struct {
	SouthWest models.GeoPoint `json:"southWest"`
	NorthEast models.GeoPoint `json:"northEast"`
}

// Bounds returns the smallest box containing every point. ok is false
// when no point is given.
func Bounds(points ...models.GeoPoint) (b Box, ok bool) {
	if len(points) == 0 {
		return Box{}, false
	}
	b.SouthWest, b.NorthEast = points[0], points[0]
	for _, p := range points[1:] {
		b.SouthWest.Lat = math.Min(b.SouthWest.Lat, p.Lat)
		b.SouthWest.Lng = math.Min(b.SouthWest.Lng, p.Lng)
		b.NorthEast.Lat = math.Max(b.NorthEast.Lat, p.Lat)
		b.NorthEast.Lng = math.Max(b.NorthEast.Lng, p.Lng)
	}
	return b, true
}
