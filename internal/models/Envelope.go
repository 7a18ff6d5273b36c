package models

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"

	"signet/internal/canonical"
)

// Struct fields in this file are declared in canonical key order (typ first
// inside payloads, the rest lexicographic). encoding/json emits declaration
// order, so canonical.Encode on these types produces the signed bytes.

const (
	KindCreateRoom = "create_room"
	KindChat       = "chat"
	KindAuth       = "auth"
	KindAddMember  = "add_member"
)

const (
	MaxTitleLen = 128
	MaxChatLen  = 4096
)

// Envelope is a client-signed request wrapper. The server never mutates one,
// it only validates.
type Envelope struct {
	Sig    HexBytes `json:"sig"`
	Signee Signee   `json:"signee"`
}

// Signee is the exact structure the signature covers.
type Signee struct {
	Nonce     uint64  `json:"nonce"`
	Payload   Payload `json:"payload"`
	Timestamp uint64  `json:"timestamp"`
	User      UserKey `json:"user"`
}

// Payload is the closed set of signable request bodies, discriminated on the
// wire by "typ".
type Payload interface {
	Kind() string
}

type CreateRoomPayload struct {
	Typ     string       `json:"typ"`
	Attrs   RoomAttrs    `json:"attrs"`
	Members []RoomMember `json:"members"`
	Title   string       `json:"title"`
}

func (CreateRoomPayload) Kind() string { return KindCreateRoom }

func (p CreateRoomPayload) MarshalJSON() ([]byte, error) {
	type alias CreateRoomPayload
	a := alias(p)
	a.Typ = KindCreateRoom
	return canonical.Encode(a)
}

// Validate enforces the member-list invariants: entries sorted strictly
// ascending by user key (which also forbids duplicates) and the creator
// present in the list.
func (p *CreateRoomPayload) Validate(creator UserKey) error {
	if p.Title == "" || len(p.Title) > MaxTitleLen {
		return fmt.Errorf("title must be 1..%d bytes", MaxTitleLen)
	}
	if len(p.Members) == 0 {
		return errors.New("member list is empty")
	}
	found := false
	for i, m := range p.Members {
		if err := m.User.Validate(); err != nil {
			return fmt.Errorf("member %d: %w", i, err)
		}
		if i > 0 && p.Members[i-1].User >= m.User {
			return errors.New("member list must be sorted by user key without duplicates")
		}
		if m.User == creator {
			found = true
		}
	}
	if !found {
		return errors.New("member list must contain the creator")
	}
	return nil
}

type ChatPayload struct {
	Typ  string `json:"typ"`
	Room string `json:"room"`
	Text string `json:"text"`
}

func (ChatPayload) Kind() string { return KindChat }

func (p ChatPayload) MarshalJSON() ([]byte, error) {
	type alias ChatPayload
	a := alias(p)
	a.Typ = KindChat
	return canonical.Encode(a)
}

func (p *ChatPayload) Validate() error {
	if p.Room == "" {
		return errors.New("missing room")
	}
	if p.Text == "" || len(p.Text) > MaxChatLen {
		return fmt.Errorf("text must be 1..%d bytes", MaxChatLen)
	}
	return nil
}

// AuthPayload proves membership of a room. It has no log effect; the server
// answers with a short-lived read token.
type AuthPayload struct {
	Typ  string `json:"typ"`
	Room string `json:"room"`
}

func (AuthPayload) Kind() string { return KindAuth }

func (p AuthPayload) MarshalJSON() ([]byte, error) {
	type alias AuthPayload
	a := alias(p)
	a.Typ = KindAuth
	return canonical.Encode(a)
}

func (p *AuthPayload) Validate() error {
	if p.Room == "" {
		return errors.New("missing room")
	}
	return nil
}

// AddMemberPayload grants a user membership of a room, or updates an existing
// member's permission. The signer needs the ADD_MEMBER bit.
type AddMemberPayload struct {
	Typ        string           `json:"typ"`
	Permission MemberPermission `json:"permission"`
	Room       string           `json:"room"`
	User       UserKey          `json:"user"`
}

func (AddMemberPayload) Kind() string { return KindAddMember }

func (p AddMemberPayload) MarshalJSON() ([]byte, error) {
	type alias AddMemberPayload
	a := alias(p)
	a.Typ = KindAddMember
	return canonical.Encode(a)
}

func (p *AddMemberPayload) Validate() error {
	if p.Room == "" {
		return errors.New("missing room")
	}
	if err := p.User.Validate(); err != nil {
		return fmt.Errorf("target user: %w", err)
	}
	return nil
}

// Validate checks the envelope's shape. Signature and replay checks live in
// the verify package; this only rejects structurally malformed envelopes.
func (e *Envelope) Validate() error {
	if len(e.Sig) != ed25519.SignatureSize {
		return fmt.Errorf("signature must be %d bytes, got %d", ed25519.SignatureSize, len(e.Sig))
	}
	if e.Signee.Payload == nil {
		return errors.New("missing payload")
	}
	if err := e.Signee.User.Validate(); err != nil {
		return fmt.Errorf("user: %w", err)
	}
	return nil
}

// SigneeBytes returns the canonical bytes the signature covers.
func (e *Envelope) SigneeBytes() ([]byte, error) {
	return canonical.Encode(&e.Signee)
}

func (s *Signee) UnmarshalJSON(data []byte) error {
	var raw struct {
		Nonce     uint64          `json:"nonce"`
		Payload   json.RawMessage `json:"payload"`
		Timestamp uint64          `json:"timestamp"`
		User      UserKey         `json:"user"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Payload) == 0 {
		return errors.New("missing payload")
	}

	var tag struct {
		Typ string `json:"typ"`
	}
	if err := json.Unmarshal(raw.Payload, &tag); err != nil {
		return fmt.Errorf("payload: %w", err)
	}

	var p Payload
	switch tag.Typ {
	case KindCreateRoom:
		p = &CreateRoomPayload{}
	case KindChat:
		p = &ChatPayload{}
	case KindAuth:
		p = &AuthPayload{}
	case KindAddMember:
		p = &AddMemberPayload{}
	default:
		return fmt.Errorf("unknown payload typ %q", tag.Typ)
	}
	if err := json.Unmarshal(raw.Payload, p); err != nil {
		return fmt.Errorf("payload %q: %w", tag.Typ, err)
	}

	s.Nonce = raw.Nonce
	s.Payload = p
	s.Timestamp = raw.Timestamp
	s.User = raw.User
	return nil
}
