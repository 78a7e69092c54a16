package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/delivery-tracking/internal/backend"
	"github.com/example/delivery-tracking/internal/eta"
	"github.com/example/delivery-tracking/internal/events"
	"github.com/example/delivery-tracking/internal/logging"
	"github.com/example/delivery-tracking/internal/mapview"
	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/observability"
	"github.com/example/delivery-tracking/internal/views"
)

// Backend is every backend call the front makes.
type Backend interface {
	views.TrackingBackend
	views.DriverBackend
	views.DispatchBackend
	ReportLocation(ctx context.Context, lat, lng float64, orderID *int) error
}

type Deps struct {
	Backend Backend
	// AsCaller returns a backend acting with the caller's own token. When
	// nil, Backend is used for every request.
	AsCaller    func(token string) Backend
	Bus         *events.Bus
	Directions  eta.Directions
	Restaurant  models.GeoPoint
	SpeedKmh    float64
	RejectStale bool
	JWTSecret   string
	Logger      *slog.Logger
}

type Server struct {
	deps    Deps
	auth    *Authenticator
	viewers *viewerRegistry
	logger  *slog.Logger
	mux     *mux.Router
}

func NewServer(deps Deps) *Server {
	if deps.Bus == nil {
		deps.Bus = events.NewBus(deps.Logger)
	}
	s := &Server{
		deps:    deps,
		auth:    NewAuthenticator(deps.JWTSecret),
		viewers: newViewerRegistry(),
		logger:  logging.Component(deps.Logger, "http"),
		mux:     mux.NewRouter(),
	}
	if deps.JWTSecret == "" {
		s.logger.Warn("JWT_SECRET is empty, driver and dispatch routes will reject every request")
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/track/{code}", s.handleTrack).Methods(http.MethodGet)
	s.mux.HandleFunc("/api/track/{code}/cancel", s.handleCancel).Methods(http.MethodPost)
	s.mux.HandleFunc("/api/track/{code}/map", s.handleMap).Methods(http.MethodGet)

	s.mux.HandleFunc("/api/driver/deliveries", s.requireRole(RoleDriver, s.handleDriverDeliveries)).Methods(http.MethodGet)
	s.mux.HandleFunc("/api/driver/deliveries/{orderId:[0-9]+}/assign", s.requireRole(RoleDriver, s.handleSelfAssign)).Methods(http.MethodPost)
	s.mux.HandleFunc("/api/driver/deliveries/{deliveryId:[0-9]+}/status", s.requireRole(RoleDriver, s.handleDeliveryStatus)).Methods(http.MethodPatch)
	s.mux.HandleFunc("/api/driver/location", s.requireRole(RoleDriver, s.handleDriverLocation)).Methods(http.MethodPost)

	s.mux.HandleFunc("/api/dispatch/pending", s.requireRole(RoleStaff, s.handlePending)).Methods(http.MethodGet)
	s.mux.HandleFunc("/api/dispatch/assign", s.requireRole(RoleStaff, s.handleDispatchAssign)).Methods(http.MethodPost)

	s.mux.HandleFunc("/ws/track/{code}", s.handleLiveTrack)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// Shutdown closes live viewer sockets.
func (s *Server) Shutdown() { s.viewers.CloseAll() }

func (s *Server) newTrackingView() *views.TrackingView {
	return views.NewTrackingView(views.TrackingDeps{
		Backend:     s.deps.Backend,
		Bus:         s.deps.Bus,
		Directions:  s.deps.Directions,
		Restaurant:  s.deps.Restaurant,
		SpeedKmh:    s.deps.SpeedKmh,
		RejectStale: s.deps.RejectStale,
		Log:         s.deps.Logger,
	})
}

func (s *Server) backendFor(r *http.Request) Backend {
	if c, ok := callerFromContext(r.Context()); ok && s.deps.AsCaller != nil {
		return s.deps.AsCaller(c.token)
	}
	return s.deps.Backend
}

// searchOrFail runs a search and writes the error response when nothing
// usable was found. ok is false when the response has been written.
func (s *Server) searchOrFail(w http.ResponseWriter, r *http.Request, v *views.TrackingView) (views.TrackingSnapshot, bool) {
	snap := v.Search(r.Context(), mux.Vars(r)["code"])
	switch snap.State {
	case views.StateFound:
		return snap, true
	case views.StateNotFound:
		writeError(w, http.StatusNotFound, "order not found")
	default:
		writeError(w, http.StatusBadGateway, "order lookup failed")
	}
	return snap, false
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	v := s.newTrackingView()
	defer v.Close()
	if snap, ok := s.searchOrFail(w, r, v); ok {
		writeJSON(w, http.StatusOK, snap)
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	v := s.newTrackingView()
	defer v.Close()
	if _, ok := s.searchOrFail(w, r, v); !ok {
		return
	}
	if err := v.Cancel(r.Context()); err != nil {
		writeJSON(w, statusFor(err), v.Snapshot())
		return
	}
	writeJSON(w, http.StatusOK, v.Snapshot())
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	v := s.newTrackingView()
	defer v.Close()
	if _, ok := s.searchOrFail(w, r, v); !ok {
		return
	}
	fc, err := v.Map()
	if errors.Is(err, mapview.ErrClosed) {
		writeError(w, http.StatusNotFound, "no map for this order")
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(fc)
}

// driverDashboard builds a per-request dashboard acting as the caller.
func (s *Server) driverDashboard(w http.ResponseWriter, r *http.Request) (*views.DriverDashboard, bool) {
	c, _ := callerFromContext(r.Context())
	id, err := c.driverID()
	if err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return nil, false
	}
	return views.NewDriverDashboard(views.DriverDeps{DriverID: id, Backend: s.backendFor(r), Log: s.deps.Logger}), true
}

func (s *Server) handleDriverDeliveries(w http.ResponseWriter, r *http.Request) {
	d, ok := s.driverDashboard(w, r)
	if !ok {
		return
	}
	defer d.Close()
	history, _ := strconv.ParseBool(r.URL.Query().Get("history"))
	if err := d.Refresh(r.Context(), history); err != nil {
		s.logger.Error("driver deliveries failed", "error", err)
		writeError(w, statusFor(err), "could not load deliveries")
		return
	}
	writeJSON(w, http.StatusOK, d.Snapshot())
}

func (s *Server) handleSelfAssign(w http.ResponseWriter, r *http.Request) {
	d, ok := s.driverDashboard(w, r)
	if !ok {
		return
	}
	defer d.Close()
	orderID, _ := strconv.Atoi(mux.Vars(r)["orderId"])
	if err := d.SelfAssign(r.Context(), orderID); err != nil {
		writeJSON(w, statusFor(err), d.Snapshot())
		return
	}
	writeJSON(w, http.StatusOK, d.Snapshot())
}

func (s *Server) handleDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status models.DeliveryStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}
	d, ok := s.driverDashboard(w, r)
	if !ok {
		return
	}
	defer d.Close()
	deliveryID, _ := strconv.Atoi(mux.Vars(r)["deliveryId"])
	if err := d.Refresh(r.Context(), false); err != nil {
		writeError(w, statusFor(err), "could not load deliveries")
		return
	}
	if err := d.UpdateStatus(r.Context(), deliveryID, body.Status); err != nil {
		writeJSON(w, statusFor(err), d.Snapshot())
		return
	}
	writeJSON(w, http.StatusOK, d.Snapshot())
}

// handleDriverLocation forwards a browser-side sample to the backend.
func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Lat     *float64 `json:"lat"`
		Lng     *float64 `json:"lng"`
		OrderID *int     `json:"orderId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Lat == nil || body.Lng == nil {
		writeError(w, http.StatusBadRequest, "lat and lng are required")
		return
	}
	p := models.GeoPoint{Lat: *body.Lat, Lng: *body.Lng}
	if !p.Valid() {
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}
	observability.LocationSamples.WithLabelValues("forwarded").Inc()
	if err := s.backendFor(r).ReportLocation(r.Context(), p.Lat, p.Lng, body.OrderID); err != nil {
		observability.LocationReportErrors.Inc()
		s.logger.Error("location forward failed", "error", err)
		writeError(w, http.StatusBadGateway, "location report failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) dispatchBoard(r *http.Request) *views.DispatchBoard {
	return views.NewDispatchBoard(s.backendFor(r), s.deps.Restaurant, s.deps.Logger)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	items, err := s.dispatchBoard(r).Pending(r.Context())
	if err != nil {
		s.logger.Error("pending deliveries failed", "error", err)
		writeError(w, statusFor(err), "could not load pending deliveries")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleDispatchAssign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrderID  int `json:"orderId"`
		DriverID int `json:"driverId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.OrderID <= 0 || body.DriverID <= 0 {
		writeError(w, http.StatusBadRequest, "orderId and driverId are required")
		return
	}
	board := s.dispatchBoard(r)
	d, err := board.Assign(r.Context(), body.OrderID, body.DriverID)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]any{"error": "assignment failed", "notices": board.Notices()})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// statusFor maps backend errors onto front responses. Client errors from
// the backend pass through; everything else is a bad gateway.
func statusFor(err error) int {
	var se *backend.StatusError
	switch {
	case errors.Is(err, backend.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, backend.ErrInvalidTransition):
		return http.StatusConflict
	case errors.As(err, &se) && se.Code >= 400 && se.Code < 500:
		return se.Code
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
