package models

// RoomAttrs is the room attribute bitmask.
type RoomAttrs int64

const (
	// AttrPublicReadable lets anyone, member or not, read history and
	// subscribe to the event feed.
	AttrPublicReadable RoomAttrs = 1 << 0
)

func (a RoomAttrs) Has(flag RoomAttrs) bool {
	return a&flag == flag
}

// MemberPermission is a flag set, not an ordered level. Test bits with Has;
// never compare magnitudes.
type MemberPermission int64

const (
	PermPostChat  MemberPermission = 1 << 0
	PermAddMember MemberPermission = 1 << 1

	// PermAll is every bit set. Room creators conventionally get it; stored
	// in a signed column it reads back as -1.
	PermAll MemberPermission = -1
)

func (p MemberPermission) Has(flag MemberPermission) bool {
	return p&flag == flag
}

type Room struct {
	ID        string    `json:"room"`
	Attrs     RoomAttrs `json:"attrs"`
	Title     string    `json:"title"`
	LastCid   uint64    `json:"last_cid"`
	CreatedAt int64     `json:"created_at"`
}

// RoomMember serves both as a create_room list entry and as a membership row.
// Field order is canonical.
type RoomMember struct {
	Permission MemberPermission `json:"permission"`
	User       UserKey          `json:"user"`
}
