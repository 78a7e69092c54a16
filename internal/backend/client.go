package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/example/delivery-tracking/internal/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid delivery status transition")
)

// StatusError is returned for any non-2xx answer other than 404.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

// Client talks to the restaurant backend that owns orders, deliveries and
// driver positions.
type Client struct {
	Endpoint string
	Token    string
	Client   *http.Client
}

func NewClient(endpoint, token string, timeout time.Duration) *Client {
	return &Client{Endpoint: endpoint, Token: token, Client: &http.Client{Timeout: timeout}}
}

// WithToken returns a copy of the client acting with another bearer token,
// typically the caller's own.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.Token = token
	return &cp
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Endpoint+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	hc := c.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(b))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// PendingDeliveries lists deliveries waiting for a driver.
func (c *Client) PendingDeliveries(ctx context.Context) ([]models.Order, error) {
	var out []models.Order
	err := c.do(ctx, http.MethodGet, "/api/deliveries/pending", nil, &out)
	return out, err
}

type Scope string

const (
	ScopeActive  Scope = "active"
	ScopeHistory Scope = "history"
)

// DriverDeliveries lists the deliveries assigned to a driver.
func (c *Client) DriverDeliveries(ctx context.Context, driverID int, scope Scope) ([]models.Order, error) {
	var out []models.Order
	path := fmt.Sprintf("/api/drivers/%d/deliveries?scope=%s", driverID, url.QueryEscape(string(scope)))
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Assign hands an order to a driver. A nil driverID lets the backend pick
// the driver from the token (self-assignment).
func (c *Client) Assign(ctx context.Context, orderID int, driverID *int) (models.Delivery, error) {
	in := struct {
		OrderID  int  `json:"orderId"`
		DriverID *int `json:"driverId,omitempty"`
	}{orderID, driverID}
	var out models.Delivery
	err := c.do(ctx, http.MethodPost, "/api/deliveries/assign", in, &out)
	return out, err
}

// UpdateStatus moves a delivery to next. The transition is checked against
// current before any request is made.
func (c *Client) UpdateStatus(ctx context.Context, deliveryID int, current, next models.DeliveryStatus) (models.Delivery, error) {
	if !models.ValidTransition(current, next) {
		return models.Delivery{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	in := map[string]string{"status": string(next)}
	var out models.Delivery
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/deliveries/%d/status", deliveryID), in, &out)
	return out, err
}

// ReportLocation pushes a driver sample, optionally tagged with the order
// being delivered.
func (c *Client) ReportLocation(ctx context.Context, lat, lng float64, orderID *int) error {
	in := struct {
		Lat     float64 `json:"lat"`
		Lng     float64 `json:"lng"`
		OrderID *int    `json:"orderId,omitempty"`
	}{lat, lng, orderID}
	return c.do(ctx, http.MethodPost, "/api/drivers/location", in, nil)
}

// DriverPosition fetches the last known driver position for an order. ok
// is false when the backend knows none yet.
func (c *Client) DriverPosition(ctx context.Context, orderID int) (models.DriverPosition, bool, error) {
	var out struct {
		Lat        *float64   `json:"lat"`
		Lng        *float64   `json:"lng"`
		DriverID   *int       `json:"driverId"`
		DriverName string     `json:"driverName"`
		Timestamp  *time.Time `json:"timestamp"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/orders/%d/driver-location", orderID), nil, &out)
	if errors.Is(err, ErrNotFound) {
		return models.DriverPosition{}, false, nil
	}
	if err != nil {
		return models.DriverPosition{}, false, err
	}
	if out.Lat == nil || out.Lng == nil {
		return models.DriverPosition{}, false, nil
	}
	return models.DriverPosition{
		GeoPoint:   models.GeoPoint{Lat: *out.Lat, Lng: *out.Lng},
		DriverID:   out.DriverID,
		DriverName: out.DriverName,
		Timestamp:  out.Timestamp,
	}, true, nil
}

// Directions asks the backend for a driving route. The geometry is a
// GeoJSON LineString, so coordinates come as [lng, lat].
func (c *Client) Directions(ctx context.Context, from, to models.GeoPoint) (models.Route, error) {
	var out struct {
		Geometry *struct {
			Coordinates [][2]float64 `json:"coordinates"`
		} `json:"geometry"`
		Distance   float64           `json:"distance"`
		Duration   float64           `json:"duration"`
		Confidence models.Confidence `json:"confidence"`
	}
	q := url.Values{}
	q.Set("from", latLng(from))
	q.Set("to", latLng(to))
	if err := c.do(ctx, http.MethodGet, "/api/directions?"+q.Encode(), nil, &out); err != nil {
		return models.Route{}, err
	}
	r := models.Route{DistanceM: out.Distance, DurationS: out.Duration, Confidence: out.Confidence}
	if out.Geometry != nil && len(out.Geometry.Coordinates) > 0 {
		r.Geometry = make([]models.GeoPoint, 0, len(out.Geometry.Coordinates))
		for _, c := range out.Geometry.Coordinates {
			r.Geometry = append(r.Geometry, models.GeoPoint{Lat: c[1], Lng: c[0]})
		}
	}
	return r, nil
}

// OrderByCode looks an order up by its tracking code. Unknown codes yield
// ErrNotFound.
func (c *Client) OrderByCode(ctx context.Context, code string) (models.Order, error) {
	var out models.Order
	err := c.do(ctx, http.MethodGet, "/api/orders/track/"+url.PathEscape(code), nil, &out)
	return out, err
}

func (c *Client) CancelByCode(ctx context.Context, code string) (models.Order, error) {
	var out models.Order
	err := c.do(ctx, http.MethodPost, "/api/orders/track/"+url.PathEscape(code)+"/cancel", nil, &out)
	return out, err
}

func latLng(p models.GeoPoint) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}
