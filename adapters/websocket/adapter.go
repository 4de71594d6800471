package websocket

import (
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"passkit/core"
	"passkit/realtime"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Handler returns an http.Handler that upgrades to WebSocket and streams
// engine events from the hub. A "user" query parameter limits the stream to
// one user's events.
func Handler(hub *realtime.Hub) http.Handler {
	upgrader := gorillaws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var user core.UserID
		if raw := r.URL.Query().Get("user"); raw != "" {
			normalized, err := core.NormalizeUserID(core.UserID(raw))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			user = normalized
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		sub := hub.Subscribe(user, 256)
		defer hub.Unsubscribe(sub.ID)

		// reader: handles pongs and notices the client going away
		closed := make(chan struct{})
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(pingPeriod)
		defer ping.Stop()
		for {
			select {
			case ev, ok := <-sub.Events:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(gorillaws.TextMessage, realtime.MarshalJSON(ev)); err != nil {
					return
				}
			case <-ping.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(gorillaws.PingMessage, nil); err != nil {
					return
				}
			case <-closed:
				return
			}
		}
	})
}
