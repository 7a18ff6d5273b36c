package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"signet/internal/common"
	"signet/internal/models"
	"signet/internal/repository"
	"signet/internal/types"
	"signet/internal/verify"
)

// lockStripes is the size of the per-room lock table. Appends to the same
// room hold the same stripe across the database write and the broadcast
// enqueue, so subscribers always see events in cid order.
const lockStripes = 64

type Broadcaster interface {
	Broadcast(room string, frame []byte)
}

// Service implements the signed-envelope operations on top of the
// repositories and the fanout hub. Every mutating call verifies its envelope
// first; a failed verification never touches storage.
type Service struct {
	rooms    repository.RoomRepository
	chats    repository.ChatRepository
	verifier *verify.Verifier
	events   Broadcaster
	now      func() int64
	locks    [lockStripes]sync.Mutex
}

func NewService(rooms repository.RoomRepository, chats repository.ChatRepository, verifier *verify.Verifier, events Broadcaster) *Service {
	return &Service{
		rooms:    rooms,
		chats:    chats,
		verifier: verifier,
		events:   events,
		now:      func() int64 { return time.Now().Unix() },
	}
}

func stripeFor(room string) uint32 {
	return crc32.ChecksumIEEE([]byte(room)) % lockStripes
}

// CreateRoom admits the envelope and creates the room with the payload's
// member list. Any user with a resolvable key may create rooms.
func (s *Service) CreateRoom(ctx context.Context, env *models.Envelope) (string, error) {
	if err := s.verifier.Verify(ctx, env); err != nil {
		return "", err
	}
	payload, ok := env.Signee.Payload.(*models.CreateRoomPayload)
	if !ok {
		return "", fmt.Errorf("%w: expected %s payload", common.ErrBadEnvelope, models.KindCreateRoom)
	}
	if err := payload.Validate(env.Signee.User); err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrBadEnvelope, err)
	}

	room := &models.Room{
		ID:        uuid.New().String(),
		Attrs:     payload.Attrs,
		Title:     payload.Title,
		CreatedAt: s.now(),
	}
	if err := s.rooms.CreateRoom(ctx, room, payload.Members); err != nil {
		return "", err
	}

	log.Printf("[CHAT] Room %s created by %s (members: %d)", room.ID, env.Signee.User, len(payload.Members))
	return room.ID, nil
}

// PostChat admits the envelope, appends the message to the room's log, and
// fans the stored item out to subscribers. The assigned cid is on the
// returned item.
func (s *Service) PostChat(ctx context.Context, env *models.Envelope) (*models.ChatItem, error) {
	if err := s.verifier.Verify(ctx, env); err != nil {
		return nil, err
	}
	payload, ok := env.Signee.Payload.(*models.ChatPayload)
	if !ok {
		return nil, fmt.Errorf("%w: expected %s payload", common.ErrBadEnvelope, models.KindChat)
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrBadEnvelope, err)
	}

	if _, err := s.rooms.GetRoom(ctx, payload.Room); err != nil {
		return nil, err
	}
	member, err := s.rooms.GetMember(ctx, payload.Room, env.Signee.User)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("%s is not a member of %s: %w", env.Signee.User, payload.Room, common.ErrForbidden)
		}
		return nil, err
	}
	if !member.Permission.Has(models.PermPostChat) {
		return nil, fmt.Errorf("%s may not post to %s: %w", env.Signee.User, payload.Room, common.ErrForbidden)
	}

	stripe := &s.locks[stripeFor(payload.Room)]
	stripe.Lock()
	defer stripe.Unlock()

	cid, err := s.chats.Append(ctx, payload.Room, env.Signee.User, payload.Text, env.Signee.Timestamp)
	if err != nil {
		return nil, err
	}

	item := &models.ChatItem{
		Cid:       cid,
		Room:      payload.Room,
		Text:      payload.Text,
		Timestamp: env.Signee.Timestamp,
		User:      env.Signee.User,
	}
	frame, _ := json.Marshal(&types.EventFrame{Type: types.EventChat, Item: item})
	s.events.Broadcast(payload.Room, frame)
	return item, nil
}

// AuthorizeRead decides whether user may read roomID. An empty user means
// anonymous. Denials on private rooms report the room as not existing, so a
// probe cannot distinguish absent from hidden.
func (s *Service) AuthorizeRead(ctx context.Context, roomID string, user models.UserKey) (*models.Room, error) {
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Attrs.Has(models.AttrPublicReadable) {
		return room, nil
	}
	if user == "" {
		return nil, fmt.Errorf("room %s: %w", roomID, common.ErrRoomNotFound)
	}
	if _, err := s.rooms.GetMember(ctx, roomID, user); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("room %s: %w", roomID, common.ErrRoomNotFound)
		}
		return nil, err
	}
	return room, nil
}

// History returns a page of the room's log, newest first, after the same
// read authorization as the event stream.
func (s *Service) History(ctx context.Context, roomID string, before uint64, limit int, user models.UserKey) ([]*models.ChatItem, error) {
	if _, err := s.AuthorizeRead(ctx, roomID, user); err != nil {
		return nil, err
	}
	return s.chats.Page(ctx, roomID, before, limit)
}

// AddMember admits the envelope and grants payload.User membership, or
// replaces an existing member's permission. The signer needs the add-member
// bit in the room.
func (s *Service) AddMember(ctx context.Context, env *models.Envelope) error {
	if err := s.verifier.Verify(ctx, env); err != nil {
		return err
	}
	payload, ok := env.Signee.Payload.(*models.AddMemberPayload)
	if !ok {
		return fmt.Errorf("%w: expected %s payload", common.ErrBadEnvelope, models.KindAddMember)
	}
	if err := payload.Validate(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrBadEnvelope, err)
	}

	if _, err := s.rooms.GetRoom(ctx, payload.Room); err != nil {
		return err
	}
	granter, err := s.rooms.GetMember(ctx, payload.Room, env.Signee.User)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("%s is not a member of %s: %w", env.Signee.User, payload.Room, common.ErrForbidden)
		}
		return err
	}
	if !granter.Permission.Has(models.PermAddMember) {
		return fmt.Errorf("%s may not add members to %s: %w", env.Signee.User, payload.Room, common.ErrForbidden)
	}

	return s.rooms.UpsertMember(ctx, payload.Room, models.RoomMember{
		Permission: payload.Permission,
		User:       payload.User,
	})
}

// Authenticate admits an auth envelope and checks the signer is a member of
// the named room; the caller mints a ticket from the returned identity.
// Membership is required even for public rooms, which anyone can read
// without a ticket anyway. Denials on private rooms report the room as not
// existing, same as every other read path.
func (s *Service) Authenticate(ctx context.Context, env *models.Envelope) (models.UserKey, string, error) {
	if err := s.verifier.Verify(ctx, env); err != nil {
		return "", "", err
	}
	payload, ok := env.Signee.Payload.(*models.AuthPayload)
	if !ok {
		return "", "", fmt.Errorf("%w: expected %s payload", common.ErrBadEnvelope, models.KindAuth)
	}
	if err := payload.Validate(); err != nil {
		return "", "", fmt.Errorf("%w: %v", common.ErrBadEnvelope, err)
	}

	room, err := s.rooms.GetRoom(ctx, payload.Room)
	if err != nil {
		return "", "", err
	}
	if _, err := s.rooms.GetMember(ctx, payload.Room, env.Signee.User); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			if room.Attrs.Has(models.AttrPublicReadable) {
				return "", "", fmt.Errorf("%s is not a member of %s: %w", env.Signee.User, payload.Room, common.ErrForbidden)
			}
			return "", "", fmt.Errorf("room %s: %w", payload.Room, common.ErrRoomNotFound)
		}
		return "", "", err
	}
	return env.Signee.User, payload.Room, nil
}

func (s *Service) ListPublicRooms(ctx context.Context, limit int) ([]*models.Room, error) {
	return s.rooms.ListPublicRooms(ctx, limit)
}
