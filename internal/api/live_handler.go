package api

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"infinite-experiment/tourdesk/internal/constants"
	"infinite-experiment/tourdesk/internal/logging"
	"infinite-experiment/tourdesk/internal/models/dtos"
	"infinite-experiment/tourdesk/internal/reconcile"
)

// Live message types
const (
	LiveTypeVersion      = "version"
	LiveTypeChange       = "change"
	LiveTypeNotification = "notification"
)

const (
	liveBuffer     = 64
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = (livePongWait * 9) / 10
)

// Origins are enforced by CORS for the REST API; the websocket is guarded by
// the bearer token
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// LiveUpdates handles GET /api/v1/live
//
// Pushes collection changes and notifications to the client. Each change
// carries the new collection version; clients refetch the grouped view when
// a version arrives. Messages are dropped for clients that fall behind, and
// the next version tells them to refetch.
func (h *Handlers) LiveUpdates() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireClaims(w, r)
		if !ok {
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warn("Websocket upgrade failed", "error", err.Error())
			return
		}
		defer conn.Close()

		if h.deps.Metrics != nil {
			h.deps.Metrics.LiveClients.Inc()
			defer h.deps.Metrics.LiveClients.Dec()
		}

		log := logging.Component("LiveUpdates").With("user_id", claims.UserID())
		restricted := !claims.HasRole(constants.RoleManager)

		out := make(chan dtos.LiveMessage, liveBuffer)
		var dropped atomic.Int64
		push := func(msg dtos.LiveMessage) {
			select {
			case out <- msg:
			default:
				dropped.Add(1)
			}
		}

		// Current versions first so the client knows its baseline
		for _, svc := range h.deps.Services.Workspace.Services() {
			push(dtos.LiveMessage{Type: LiveTypeVersion, Kind: svc.Kind().String(), Version: svc.Reconciler().Version()})

			unsubscribe := svc.Reconciler().Subscribe(func(c reconcile.Change) {
				msg := dtos.LiveMessage{Type: LiveTypeChange, Kind: c.Kind.String(), Version: c.Version, Reason: c.Reason}
				if !restricted {
					msg.EntityID = c.EntityID
				}
				push(msg)
			})
			defer unsubscribe()
		}

		notes, unsubscribeNotes := h.deps.Services.Notifier.Subscribe()
		defer unsubscribeNotes()

		// The reader only exists to process control frames and notice closes
		closed := make(chan struct{})
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(livePongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(livePongWait))
		})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(livePingPeriod)
		defer ticker.Stop()

		log.Debugw("Live client connected")
		write := func(msg dtos.LiveMessage) bool {
			conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.Debugw("Live write failed", "error", err.Error())
				return false
			}
			return true
		}

		for {
			select {
			case msg := <-out:
				if !write(msg) {
					return
				}
			case note, ok := <-notes:
				if !ok {
					return
				}
				if !write(dtos.LiveMessage{Type: LiveTypeNotification, Kind: note.Kind, Notification: scopedNotification(note, restricted)}) {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-closed:
				log.Debugw("Live client disconnected", "dropped", dropped.Load())
				return
			case <-r.Context().Done():
				return
			}
		}
	}
}
