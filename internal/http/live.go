package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/delivery-tracking/internal/observability"
	"github.com/example/delivery-tracking/internal/views"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{}

// viewerSession is one websocket following an order. Writes are
// serialized because snapshots arrive from event and ETA goroutines.
type viewerSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *viewerSession) Send(snap views.TrackingSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(snap)
}

// viewerRegistry holds the open live sessions so shutdown can close them.
type viewerRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*viewerSession
}

func newViewerRegistry() *viewerRegistry {
	return &viewerRegistry{sessions: make(map[string]*viewerSession)}
}

func (r *viewerRegistry) add(conn *websocket.Conn) (string, *viewerSession) {
	id := uuid.NewString()
	s := &viewerSession{conn: conn}
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	observability.LiveViewers.Inc()
	return id, s
}

func (r *viewerRegistry) remove(id string) {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		observability.LiveViewers.Dec()
	}
}

func (r *viewerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll sends a going-away frame to every viewer.
func (r *viewerRegistry) CloseAll() {
	r.mu.RLock()
	all := make([]*viewerSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
	for _, s := range all {
		s.mu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		s.mu.Unlock()
	}
}

// handleLiveTrack streams tracking snapshots for one order until the
// viewer disconnects. The view and everything it subscribed to is
// released when the socket closes.
func (s *Server) handleLiveTrack(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	id, session := s.viewers.add(conn)
	defer func() {
		s.viewers.remove(id)
		_ = conn.Close()
	}()

	view := s.newTrackingView()
	defer view.Close()
	view.OnUpdate(func(snap views.TrackingSnapshot) {
		if err := session.Send(snap); err != nil {
			s.logger.Debug("live send failed", "viewer", id, "error", err)
		}
	})
	snap := view.Search(r.Context(), code)
	if snap.State != views.StateFound {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, string(snap.State))
		session.mu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		session.mu.Unlock()
		return
	}
	s.logger.Info("live viewer connected", "viewer", id, "code", snap.Code)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.logger.Info("live viewer disconnected", "viewer", id)
			return
		}
	}
}
