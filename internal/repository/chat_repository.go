package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"signet/internal/common"
	"signet/internal/models"
)

// PageLen is the maximum number of chat items returned per history page.
const PageLen = 64

type ChatRepository interface {
	Append(ctx context.Context, roomID string, user models.UserKey, text string, ts uint64) (uint64, error)
	Page(ctx context.Context, roomID string, before uint64, limit int) ([]*models.ChatItem, error)
}

type SQLChatRepo struct {
	db *sql.DB
}

func NewChatRepo(db *sql.DB) ChatRepository {
	return &SQLChatRepo{db: db}
}

// Append assigns the next cid for the room and stores the item in the same
// transaction. The UPDATE takes the room's row lock, so concurrent appends to
// one room serialize and every cid is used exactly once.
func (r *SQLChatRepo) Append(ctx context.Context, roomID string, user models.UserKey, text string, ts uint64) (uint64, error) {
	var cid int64
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		const bumpCid = `
        UPDATE rooms SET last_cid = last_cid + 1
        WHERE id = $1
        RETURNING last_cid`

		if err := tx.QueryRowContext(ctx, bumpCid, roomID).Scan(&cid); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("room %s: %w", roomID, common.ErrRoomNotFound)
			}
			return fmt.Errorf("allocate cid: %w", err)
		}

		const insertItem = `
        INSERT INTO chat_items (room_id, cid, user_key, body, ts)
        VALUES ($1, $2, $3, $4, $5)`

		if _, err := tx.ExecContext(ctx, insertItem, roomID, cid, string(user), text, int64(ts)); err != nil {
			return fmt.Errorf("insert chat item: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return uint64(cid), nil
}

// Page returns up to limit items with cid strictly below before, newest
// first. Callers walk backwards by passing the smallest cid of the previous
// page; an empty result means the walk is done.
func (r *SQLChatRepo) Page(ctx context.Context, roomID string, before uint64, limit int) ([]*models.ChatItem, error) {
	if limit <= 0 || limit > PageLen {
		limit = PageLen
	}
	// cid is stored as a signed 64-bit column; anything above that bound
	// compares after every stored cid anyway.
	if before > math.MaxInt64 {
		before = math.MaxInt64
	}

	const query = `
        SELECT cid, user_key, body, ts
        FROM chat_items
        WHERE room_id = $1 AND cid < $2
        ORDER BY cid DESC
        LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, roomID, int64(before), limit)
	if err != nil {
		return nil, fmt.Errorf("page chat items: %w", err)
	}
	defer rows.Close()

	var items []*models.ChatItem
	for rows.Next() {
		item := &models.ChatItem{Room: roomID}
		var cid, ts int64
		var userKey string
		if err := rows.Scan(&cid, &userKey, &item.Text, &ts); err != nil {
			return nil, fmt.Errorf("scan chat item: %w", err)
		}
		item.Cid = uint64(cid)
		item.Timestamp = uint64(ts)
		item.User = models.UserKey(userKey)
		items = append(items, item)
	}
	return items, rows.Err()
}
