package common

import (
	"errors"
	"net/http"
)

// Terminal outcomes for a single request. The API layer maps each one to its
// own transport status so clients can tell malformed from unauthorized from
// missing. Handlers and services wrap these with fmt.Errorf("...: %w", err)
// and callers test with errors.Is.
var (
	ErrBadEnvelope      = errors.New("bad envelope")
	ErrUnknownUser      = errors.New("unknown user")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrStaleTimestamp   = errors.New("stale timestamp")
	ErrNonceReused      = errors.New("nonce reused")
	ErrForbidden        = errors.New("forbidden")
	ErrRoomNotFound     = errors.New("room not found")

	// ErrNotFound is the generic repository-level miss (member rows and the
	// like); services decide whether it surfaces as RoomNotFound or Forbidden.
	ErrNotFound = errors.New("not found")
)

// HTTPStatus maps a request error to its transport status and stable wire
// code. Unrecognized errors are reported as internal without leaking detail.
func HTTPStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadEnvelope):
		return http.StatusBadRequest, "bad_envelope"
	case errors.Is(err, ErrUnknownUser):
		return http.StatusUnauthorized, "unknown_user"
	case errors.Is(err, ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, ErrStaleTimestamp):
		return http.StatusUnauthorized, "stale_timestamp"
	case errors.Is(err, ErrNonceReused):
		return http.StatusConflict, "nonce_reused"
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, ErrRoomNotFound):
		return http.StatusNotFound, "room_not_found"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
