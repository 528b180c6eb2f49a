package ringsignal

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The hub carries no sensitive data and clients are local UIs.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RegisterRoutes wires the ringing-signal websocket endpoint.
func RegisterRoutes(router chi.Router, hub *Hub) {
	router.Get("/ws/ringing", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[WARN] Ringing signal upgrade failed: %v", err)
			return
		}
		hub.Register(conn)
	})
}
