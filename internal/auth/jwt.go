package auth

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"signet/internal/models"
)

// CustomClaims scope a stream ticket to one user and one room. Tickets are
// minted after an auth envelope checks out and stay valid for their whole
// lifetime even if membership changes underneath them.
type CustomClaims struct {
	UserKey string `json:"user_key"`
	Room    string `json:"room"`
	jwt.RegisteredClaims
}

type TokenIssuer struct {
	key []byte
	ttl time.Duration
}

func NewTokenIssuer(key []byte, ttl time.Duration) *TokenIssuer {
	if len(key) == 0 {
		log.Printf("[AUTH] WARNING: signing key is empty!")
	}
	return &TokenIssuer{key: key, ttl: ttl}
}

// GenerateToken mints a ticket for user to read room. The second return
// value is the expiry as unix seconds.
func (i *TokenIssuer) GenerateToken(user models.UserKey, room string) (string, int64, error) {
	now := time.Now()
	expiresAt := now.Add(i.ttl)

	claims := &CustomClaims{
		UserKey: string(user),
		Room:    room,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "signet",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(i.key)
	if err != nil {
		log.Printf("[AUTH] ERROR: Failed to sign ticket for user %s: %v", user, err)
		return "", 0, err
	}

	log.Printf("[AUTH] Ticket issued for user %s room %s (expires %s)", user, room, expiresAt.Format(time.RFC3339))
	return tokenString, expiresAt.Unix(), nil
}

func (i *TokenIssuer) ValidateToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.key, nil
	})
	if err != nil {
		log.Printf("[AUTH] JWT Parse Error: %v", err)
		return nil, err
	}

	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
