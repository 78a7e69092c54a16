package eta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/delivery-tracking/internal/geo"
	"github.com/example/delivery-tracking/internal/models"
)

// OSRMClient performs route lookups against an OSRM HTTP server.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

// Directions queries OSRM /route with the full polyline geometry.
func (o *OSRMClient) Directions(ctx context.Context, from, to models.GeoPoint) (models.Route, error) {
	// OSRM route query: /route/v1/driving/{lon1},{lat1};{lon2},{lat2}
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=polyline", o.Endpoint, from.Lng, from.Lat, to.Lng, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return models.Route{}, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return models.Route{}, err
	}
	defer resp.Body.Close()
	var out struct {
		Routes []struct {
			Geometry string  `json:"geometry"`
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Route{}, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return models.Route{}, fmt.Errorf("osrm no route: %v", out.Code)
	}
	best := out.Routes[0]
	line, err := geo.DecodePolyline(best.Geometry)
	if err != nil {
		return models.Route{}, err
	}
	return models.Route{Geometry: line, DistanceM: best.Distance, DurationS: best.Duration}, nil
}

// Chain tries each Directions in order and returns the first success.
type Chain []Directions

func (c Chain) Directions(ctx context.Context, from, to models.GeoPoint) (models.Route, error) {
	err := error(errNoDirections)
	for _, d := range c {
		var r models.Route
		if r, err = d.Directions(ctx, from, to); err == nil {
			return r, nil
		}
	}
	return models.Route{}, err
}
