package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const liveWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// LiveClose is the close reason sent when the account signs out.
const LiveClose = "session ended"

// Live streams the account's state over a websocket, once on connect and
// again after every change, until the client leaves or the session ends.
func (h *FleetHandler) Live(w http.ResponseWriter, r *http.Request) {
	st, claims, ok := h.store(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reads only notice the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log := h.log.WithField("account_id", claims.UserID)
	log.Debug("Live client connected")
	changes := st.Watch(ctx)
	for {
		if _, active := st.Session(); !active {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, LiveClose),
				time.Now().Add(time.Second))
			return
		}
		conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
		if err := conn.WriteJSON(st.State()); err != nil {
			log.WithError(err).Debug("Live client gone")
			return
		}
		if _, ok := <-changes; !ok {
			return
		}
	}
}
