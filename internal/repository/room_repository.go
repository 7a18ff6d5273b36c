package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"signet/internal/common"
	"signet/internal/models"
)

// Queries use $N placeholders in ascending first-appearance order, which both
// supported engines (Postgres via pgx, SQLite via modernc) bind positionally.

type RoomRepository interface {
	CreateRoom(ctx context.Context, room *models.Room, members []models.RoomMember) error
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	ListPublicRooms(ctx context.Context, limit int) ([]*models.Room, error)
	GetMember(ctx context.Context, roomID string, user models.UserKey) (*models.RoomMember, error)
	UpsertMember(ctx context.Context, roomID string, member models.RoomMember) error
}

type SQLRoomRepo struct {
	db *sql.DB
}

func NewRoomRepo(db *sql.DB) RoomRepository {
	return &SQLRoomRepo{db: db}
}

// CreateRoom stores the room and its full membership in one transaction, so
// a room is never visible half-populated.
func (r *SQLRoomRepo) CreateRoom(ctx context.Context, room *models.Room, members []models.RoomMember) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		const insertRoom = `
        INSERT INTO rooms (id, attrs, title, last_cid, created_at)
        VALUES ($1, $2, $3, 0, $4)`

		if _, err := tx.ExecContext(ctx, insertRoom,
			room.ID,
			int64(room.Attrs),
			room.Title,
			room.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert room: %w", err)
		}

		const insertMember = `
        INSERT INTO room_members (room_id, user_key, permission)
        VALUES ($1, $2, $3)`

		for _, m := range members {
			if _, err := tx.ExecContext(ctx, insertMember,
				room.ID,
				string(m.User),
				int64(m.Permission),
			); err != nil {
				return fmt.Errorf("insert member %s: %w", m.User, err)
			}
		}
		return nil
	})
}

func (r *SQLRoomRepo) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	const query = `
        SELECT id, attrs, title, last_cid, created_at
        FROM rooms
        WHERE id = $1`

	room := &models.Room{}
	var attrs, lastCid int64
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&room.ID,
		&attrs,
		&room.Title,
		&lastCid,
		&room.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room %s: %w", id, common.ErrRoomNotFound)
		}
		return nil, fmt.Errorf("failed to find room by id: %w", err)
	}

	room.Attrs = models.RoomAttrs(attrs)
	room.LastCid = uint64(lastCid)
	return room, nil
}

func (r *SQLRoomRepo) ListPublicRooms(ctx context.Context, limit int) ([]*models.Room, error) {
	if limit <= 0 || limit > PageLen {
		limit = PageLen
	}

	const query = `
        SELECT id, attrs, title, last_cid, created_at
        FROM rooms
        WHERE (attrs & $1) != 0
        ORDER BY created_at DESC, id
        LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, int64(models.AttrPublicReadable), limit)
	if err != nil {
		return nil, fmt.Errorf("list public rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*models.Room
	for rows.Next() {
		room := &models.Room{}
		var attrs, lastCid int64
		if err := rows.Scan(&room.ID, &attrs, &room.Title, &lastCid, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		room.Attrs = models.RoomAttrs(attrs)
		room.LastCid = uint64(lastCid)
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (r *SQLRoomRepo) GetMember(ctx context.Context, roomID string, user models.UserKey) (*models.RoomMember, error) {
	const query = `
        SELECT user_key, permission
        FROM room_members
        WHERE room_id = $1 AND user_key = $2`

	member := &models.RoomMember{}
	var userKey string
	var permission int64
	err := r.db.QueryRowContext(ctx, query, roomID, string(user)).Scan(&userKey, &permission)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("member %s of %s: %w", user, roomID, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find member: %w", err)
	}

	member.User = models.UserKey(userKey)
	member.Permission = models.MemberPermission(permission)
	return member, nil
}

// UpsertMember adds the user to the room, or updates the permission of an
// existing member.
func (r *SQLRoomRepo) UpsertMember(ctx context.Context, roomID string, member models.RoomMember) error {
	const query = `
        INSERT INTO room_members (room_id, user_key, permission)
        VALUES ($1, $2, $3)
        ON CONFLICT (room_id, user_key) DO UPDATE SET permission = excluded.permission`

	if _, err := r.db.ExecContext(ctx, query, roomID, string(member.User), int64(member.Permission)); err != nil {
		return fmt.Errorf("upsert member %s: %w", member.User, err)
	}
	return nil
}
