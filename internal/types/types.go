package types

import "signet/internal/models"

type CreateRoomResponse struct {
	Room string `json:"room"`
}

type PostChatResponse struct {
	Cid uint64 `json:"cid"`
}

type HistoryResponse struct {
	Items []*models.ChatItem `json:"items"`
}

type RoomSummary struct {
	Room  string           `json:"room"`
	Attrs models.RoomAttrs `json:"attrs"`
	Title string           `json:"title"`
}

type ListRoomsResponse struct {
	Rooms []RoomSummary `json:"rooms"`
}

// AuthTokenResponse carries a room-scoped read ticket. ExpiresAt is unix
// seconds.
type AuthTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
