package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"signet/internal/auth"
	"signet/internal/chat"
	"signet/internal/types"
)

// TokenHandler exchanges a signed auth envelope for a short-lived read
// ticket. The ticket only ever grants what the envelope proved: read access
// to one room for one user.
func TokenHandler(svc *chat.Service, issuer *auth.TokenIssuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		env, err := decodeEnvelope(w, r)
		if err != nil {
			writeError(w, err)
			return
		}

		user, room, err := svc.Authenticate(dbctx, env)
		if err != nil {
			writeError(w, err)
			return
		}

		token, expiresAt, err := issuer.GenerateToken(user, room)
		if err != nil {
			log.Printf("[AUTH] Ticket generation failed for %s: %v", user, err)
			writeJSONError(w, http.StatusInternalServerError, "internal", "could not issue token")
			return
		}

		writeJSON(w, http.StatusOK, types.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
	}
}
