package middleware

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"

	"signet/internal/auth"
	"signet/internal/common"
	"signet/internal/models"
	"signet/internal/types"
	"signet/internal/verify"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is who a read request proved itself to be. The zero value is an
// anonymous caller.
type Identity struct {
	User models.UserKey
}

func IdentityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey).(Identity)
	return id
}

func getIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		return strings.Split(forwarded, ",")[0]
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func deny(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: code})
}

// Identify resolves the caller's identity for read endpoints that carry a
// {room} path segment. Credentials come in three forms: a Bearer ticket, a
// Signed header holding a base64url auth envelope, or a ticket in the token
// query parameter for WebSocket dials. A request with no credential passes
// through anonymous; a credential that fails to check out ends the request
// here. Both ticket and envelope must be scoped to the room being read.
func Identify(issuer *auth.TokenIssuer, verifier *verify.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			room := r.PathValue("room")

			var ticket, signed string
			if h := r.Header.Get("Authorization"); h != "" {
				switch {
				case strings.HasPrefix(h, "Bearer "):
					ticket = strings.TrimPrefix(h, "Bearer ")
				case strings.HasPrefix(h, "Signed "):
					signed = strings.TrimPrefix(h, "Signed ")
				default:
					deny(w, http.StatusUnauthorized, "unauthorized", "unsupported authorization scheme")
					return
				}
			} else if q := r.URL.Query().Get("token"); q != "" {
				ticket = q
			}

			switch {
			case ticket != "":
				claims, err := issuer.ValidateToken(ticket)
				if err != nil {
					log.Printf("[AUTH] Invalid ticket from %s: %v", getIP(r), err)
					deny(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
					return
				}
				if claims.Room != room {
					deny(w, http.StatusUnauthorized, "unauthorized", "token is scoped to another room")
					return
				}
				ctx := context.WithValue(r.Context(), identityKey, Identity{User: models.UserKey(claims.UserKey)})
				next.ServeHTTP(w, r.WithContext(ctx))

			case signed != "":
				raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(signed, "="))
				if err != nil {
					deny(w, http.StatusBadRequest, "bad_envelope", "authorization is not base64url")
					return
				}
				var env models.Envelope
				if err := json.Unmarshal(raw, &env); err != nil {
					deny(w, http.StatusBadRequest, "bad_envelope", "authorization is not an envelope")
					return
				}
				if err := verifier.Verify(r.Context(), &env); err != nil {
					log.Printf("[AUTH] Signed read rejected from %s: %v", getIP(r), err)
					status, code := common.HTTPStatus(err)
					deny(w, status, code, "envelope rejected")
					return
				}
				payload, ok := env.Signee.Payload.(*models.AuthPayload)
				if !ok {
					deny(w, http.StatusBadRequest, "bad_envelope", "expected auth payload")
					return
				}
				if payload.Room != room {
					deny(w, http.StatusUnauthorized, "unauthorized", "auth envelope is scoped to another room")
					return
				}
				ctx := context.WithValue(r.Context(), identityKey, Identity{User: env.Signee.User})
				next.ServeHTTP(w, r.WithContext(ctx))

			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
