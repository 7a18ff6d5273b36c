package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"signet/internal/chat"
	"signet/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  512,
	WriteBufferSize: 512,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventsHandler authorizes the subscription, upgrades the connection, and
// hands it to the hub. Authorization happens once at dial time; an
// established stream is not re-checked.
func EventsHandler(svc *chat.Service, hub *chat.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.PathValue("room")
		ident := middleware.IdentityFrom(r.Context())

		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if _, err := svc.AuthorizeRead(dbctx, roomID, ident.User); err != nil {
			writeError(w, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[WS] Upgrade failed for room %s: %v", roomID, err)
			return
		}

		client := chat.NewClient(hub, conn, roomID, ident.User)
		hub.Register(client)
		go client.WritePump()
		go client.ReadPump()

		log.Printf("[WS] Subscriber connected to room %s", roomID)
	}
}
