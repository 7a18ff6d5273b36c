package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"signet/internal/common"
	"signet/internal/models"
	"signet/internal/types"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Response encode error: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: code})
}

// writeError maps a request error onto the wire taxonomy. Internal failures
// are logged server-side and reported without detail.
func writeError(w http.ResponseWriter, err error) {
	status, code := common.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("[API] Internal error: %v", err)
		writeJSONError(w, status, code, "internal server error")
		return
	}
	writeJSONError(w, status, code, err.Error())
}

func decodeEnvelope(w http.ResponseWriter, r *http.Request) (*models.Envelope, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var env models.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrBadEnvelope, err)
	}
	return &env, nil
}
