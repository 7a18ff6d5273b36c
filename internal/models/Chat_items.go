package models

// ChatItem is one appended message. Cid is assigned at append time, strictly
// increasing per room, and is the sole ordering authority; Timestamp is the
// client-claimed signee timestamp kept as metadata.
type ChatItem struct {
	Cid       uint64  `json:"cid"`
	Room      string  `json:"room"`
	Text      string  `json:"text"`
	Timestamp uint64  `json:"timestamp"`
	User      UserKey `json:"user"`
}
