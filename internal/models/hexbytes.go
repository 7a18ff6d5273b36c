package models

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// HexBytes is a byte slice carried on the wire as a lowercase hex string.
type HexBytes []byte

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	*h = raw
	return nil
}

func (h HexBytes) String() string {
	return hex.EncodeToString(h)
}

// UserKey identifies a user: the lowercase hex encoding of their 32-byte
// ed25519 verifying key. It is the stable lookup key into the key directory
// and must stay lowercase so the same key never yields two identities.
type UserKey string

// UserKeyLen is the hex length of a UserKey.
const UserKeyLen = 2 * ed25519.PublicKeySize

func KeyToUser(pub ed25519.PublicKey) UserKey {
	return UserKey(hex.EncodeToString(pub))
}

func (u UserKey) Validate() error {
	if len(u) != UserKeyLen {
		return fmt.Errorf("user key must be %d hex chars, got %d", UserKeyLen, len(u))
	}
	if strings.ToLower(string(u)) != string(u) {
		return fmt.Errorf("user key must be lowercase hex")
	}
	if _, err := hex.DecodeString(string(u)); err != nil {
		return fmt.Errorf("user key is not hex: %w", err)
	}
	return nil
}

// Bytes decodes the key material. Call Validate first; a malformed key
// returns an error here too.
func (u UserKey) Bytes() (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(string(u))
	if err != nil {
		return nil, fmt.Errorf("user key is not hex: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("user key must decode to %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
