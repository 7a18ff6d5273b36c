package types

import "signet/internal/models"

type EventType string

const (
	EventChat EventType = "chat"
)

// EventFrame is one message on the event stream. Every frame is sent as its
// own WebSocket text message.
type EventFrame struct {
	Type EventType        `json:"type"`
	Item *models.ChatItem `json:"item"`
}
