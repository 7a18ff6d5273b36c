package api

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"signet/internal/chat"
	"signet/internal/common"
	"signet/internal/middleware"
	"signet/internal/models"
	"signet/internal/repository"
	"signet/internal/types"
)

func PostChatHandler(svc *chat.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		env, err := decodeEnvelope(w, r)
		if err != nil {
			writeError(w, err)
			return
		}

		// The signed payload names the room; the path is only addressing.
		// Reject mismatches before any verification work.
		payload, ok := env.Signee.Payload.(*models.ChatPayload)
		if !ok {
			writeError(w, fmt.Errorf("%w: expected %s payload", common.ErrBadEnvelope, models.KindChat))
			return
		}
		if payload.Room != r.PathValue("room") {
			writeError(w, fmt.Errorf("%w: payload room does not match path", common.ErrBadEnvelope))
			return
		}

		item, err := svc.PostChat(dbctx, env)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, types.PostChatResponse{Cid: item.Cid})
	}
}

func HistoryHandler(svc *chat.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		// Absent means "from the newest".
		before := uint64(math.MaxUint64)
		if raw := r.URL.Query().Get("before"); raw != "" {
			n, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "bad_request", "before must be an unsigned integer")
				return
			}
			before = n
		}

		limit := repository.PageLen
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeJSONError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
				return
			}
			limit = n
		}

		ident := middleware.IdentityFrom(r.Context())
		items, err := svc.History(dbctx, r.PathValue("room"), before, limit, ident.User)
		if err != nil {
			writeError(w, err)
			return
		}
		if items == nil {
			items = []*models.ChatItem{}
		}

		writeJSON(w, http.StatusOK, types.HistoryResponse{Items: items})
	}
}

func AddMemberHandler(svc *chat.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		env, err := decodeEnvelope(w, r)
		if err != nil {
			writeError(w, err)
			return
		}

		payload, ok := env.Signee.Payload.(*models.AddMemberPayload)
		if !ok {
			writeError(w, fmt.Errorf("%w: expected %s payload", common.ErrBadEnvelope, models.KindAddMember))
			return
		}
		if payload.Room != r.PathValue("room") {
			writeError(w, fmt.Errorf("%w: payload room does not match path", common.ErrBadEnvelope))
			return
		}

		if err := svc.AddMember(dbctx, env); err != nil {
			writeError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
