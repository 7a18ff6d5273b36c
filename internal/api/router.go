package api

import (
	"net/http"

	"signet/internal/auth"
	"signet/internal/chat"
	"signet/internal/middleware"
	"signet/internal/verify"
)

// NewRouter wires every endpoint. Mutating endpoints take signed envelopes in
// the body; read endpoints take an optional credential through the Identify
// middleware. Everything under /api/ sits behind the per-IP rate limiter.
func NewRouter(svc *chat.Service, hub *chat.Hub, issuer *auth.TokenIssuer, verifier *verify.Verifier, limiter *middleware.KeyedLimiter) http.Handler {
	identify := middleware.Identify(issuer, verifier)

	mux := http.NewServeMux()
	mux.Handle("POST /api/rooms", CreateRoomHandler(svc))
	mux.Handle("GET /api/rooms", ListRoomsHandler(svc))
	mux.Handle("POST /api/rooms/{room}/chat", PostChatHandler(svc))
	mux.Handle("GET /api/rooms/{room}/history", identify(HistoryHandler(svc)))
	mux.Handle("GET /api/rooms/{room}/events", identify(EventsHandler(svc, hub)))
	mux.Handle("POST /api/rooms/{room}/admin", AddMemberHandler(svc))
	mux.Handle("POST /api/auth", TokenHandler(svc, issuer))

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	root.Handle("/api/", limiter.Limit(mux))
	return root
}
