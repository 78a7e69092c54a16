package models

import "time"

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies inside the WGS84 coordinate range.
func (p GeoPoint) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// DriverPosition is the last known position of the driver carrying an order.
// It comes either from a device sample or from a backend push event.
type DriverPosition struct {
	GeoPoint
	DriverID   *int       `json:"driverId,omitempty"`
	DriverName string     `json:"driverName,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// CurrentLocation is a device sample held by the acquisition loop.
type CurrentLocation struct {
	GeoPoint
	Accuracy   float64   `json:"accuracy,omitempty"` // meters
	CapturedAt time.Time `json:"capturedAt"`
}

// Confidence describes how much the resolved coordinates of a delivery
// address can be trusted. The empty value means unknown.
type Confidence string

const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceLow     Confidence = "low"
	ConfidenceFailed  Confidence = "failed"
	ConfidenceUnknown Confidence = ""
)

type EtaSource string

const (
	EtaFromRoute        EtaSource = "route"
	EtaFromStraightLine EtaSource = "straight_line"
)

type DeliveryEta struct {
	DistanceKm float64   `json:"distanceKm"`
	EtaMinutes int       `json:"etaMinutes"`
	Source     EtaSource `json:"source"`
}

// Route is the directions answer for one origin/destination pair.
// Geometry is nil when no line can be drawn.
type Route struct {
	Geometry   []GeoPoint `json:"geometry,omitempty"`
	DistanceM  float64    `json:"distance"`
	DurationS  float64    `json:"duration"`
	Confidence Confidence `json:"confidence,omitempty"`
}

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderInProgress OrderStatus = "in_progress"
	OrderReady      OrderStatus = "ready"
	OrderDelivered  OrderStatus = "delivered"
	OrderPaid       OrderStatus = "paid"
	OrderCancelled  OrderStatus = "cancelled"
)

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryAssigned  DeliveryStatus = "assigned"
	DeliveryPickedUp  DeliveryStatus = "picked_up"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

type OrderType string

const (
	OrderTypeDelivery OrderType = "delivery"
	OrderTypeTakeaway OrderType = "takeaway"
	OrderTypeDineIn   OrderType = "dine_in"
)

type Order struct {
	ID           int         `json:"id"`
	Code         string      `json:"code"`
	Type         OrderType   `json:"type"`
	Status       OrderStatus `json:"status"`
	CustomerName string      `json:"customerName,omitempty"`
	Total        float64     `json:"total"`
	CreatedAt    time.Time   `json:"createdAt"`
	Delivery     *Delivery   `json:"delivery,omitempty"`
}

// IsDelivery reports whether the order is carried by a driver.
func (o Order) IsDelivery() bool {
	return o.Type == OrderTypeDelivery && o.Delivery != nil
}

type Delivery struct {
	ID                int            `json:"id"`
	OrderID           int            `json:"orderId"`
	Status            DeliveryStatus `json:"status"`
	DriverID          *int           `json:"driverId,omitempty"`
	DriverName        string         `json:"driverName,omitempty"`
	Address           string         `json:"address"`
	Lat               *float64       `json:"lat,omitempty"`
	Lng               *float64       `json:"lng,omitempty"`
	GeocodeConfidence Confidence     `json:"geocodeConfidence,omitempty"`
	AssignedAt        *time.Time     `json:"assignedAt,omitempty"`
	PickedUpAt        *time.Time     `json:"pickedUpAt,omitempty"`
	DeliveredAt       *time.Time     `json:"deliveredAt,omitempty"`
}

// Destination returns the resolved delivery coordinates, if any.
func (d Delivery) Destination() (GeoPoint, bool) {
	if d.Lat == nil || d.Lng == nil {
		return GeoPoint{}, false
	}
	return GeoPoint{Lat: *d.Lat, Lng: *d.Lng}, true
}

var deliveryTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryPending:  {DeliveryAssigned},
	DeliveryAssigned: {DeliveryPickedUp, DeliveryFailed},
	DeliveryPickedUp: {DeliveryDelivered, DeliveryFailed},
}

// ValidTransition reports whether a delivery may move from one status to
// the next. Delivered and failed are terminal.
func ValidTransition(from, to DeliveryStatus) bool {
	for _, s := range deliveryTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
