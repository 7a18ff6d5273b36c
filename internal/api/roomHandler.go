package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"signet/internal/chat"
	"signet/internal/types"
)

func CreateRoomHandler(svc *chat.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		env, err := decodeEnvelope(w, r)
		if err != nil {
			writeError(w, err)
			return
		}

		roomID, err := svc.CreateRoom(dbctx, env)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, types.CreateRoomResponse{Room: roomID})
	}
}

func ListRoomsHandler(svc *chat.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeJSONError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
				return
			}
			limit = n
		}

		rooms, err := svc.ListPublicRooms(dbctx, limit)
		if err != nil {
			writeError(w, err)
			return
		}

		out := make([]types.RoomSummary, 0, len(rooms))
		for _, room := range rooms {
			out = append(out, types.RoomSummary{Room: room.ID, Attrs: room.Attrs, Title: room.Title})
		}
		writeJSON(w, http.StatusOK, types.ListRoomsResponse{Rooms: out})
	}
}
