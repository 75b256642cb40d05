package websocket

import (
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
		},
	}
}

// HandleWebSocket upgrades a dashboard connection and registers it with hub.
// GET /ws
func HandleWebSocket(hub *Hub, allowedOrigins []string) http.HandlerFunc {
	upgrader := newUpgrader(allowedOrigins)

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Warnf("❌ [WEBSOCKET] Upgrade failed: %v", err)
			return
		}

		client := NewClient(uuid.NewString(), conn, hub)
		if !hub.join(client) {
			conn.Close()
			return
		}

		go client.WritePump()
		go client.ReadPump()
	}
}
