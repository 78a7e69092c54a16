package geo

import (
	"fmt"

	"github.com/twpayne/go-polyline"

	"github.com/example/delivery-tracking/internal/models"
)

// DecodePolyline decodes a Google encoded polyline (precision 5, as
// returned by OSRM with geometries=polyline) into points.
func DecodePolyline(encoded string) ([]models.GeoPoint, error) {
	if encoded == "" {
		return nil, nil
	}
	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode polyline: %w", err)
	}
	out := make([]models.GeoPoint, 0, len(coords))
	for _, c := range coords {
		out = append(out, models.GeoPoint{Lat: c[0], Lng: c[1]})
	}
	return out, nil
}

// EncodePolyline is the inverse of DecodePolyline.
func EncodePolyline(points []models.GeoPoint) string {
	coords := make([][]float64, 0, len(points))
	for _, p := range points {
		coords = append(coords, []float64{p.Lat, p.Lng})
	}
	return string(polyline.EncodeCoords(coords))
}
