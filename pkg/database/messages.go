package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateMessage persists a group message. Exactly one of userID and devSN
// should be non-nil; the handler enforces that before calling.
func (db *DB) CreateMessage(ctx context.Context, groupID string, userID, devSN *string, body string) (*Message, error) {
	msg := &Message{
		MessageID: db.snowflake.NextID(),
		GroupID:   groupID,
		UserID:    userID,
		DevSN:     devSN,
		Body:      body,
		CreatedAt: time.Now().UnixMilli(),
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO GroupMessage (message_id, group_id, user_id, dev_sn, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.MessageID, msg.GroupID, msg.UserID, msg.DevSN, msg.Body, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return msg, nil
}

// FindMessages returns up to limit messages of a group, newest first.
// A non-zero cursor restricts results to MessageID < cursor; snowflake ids
// make that equivalent to "older than the cursor message".
func (db *DB) FindMessages(ctx context.Context, groupID string, cursor int64, limit int) ([]*Message, error) {
	query := `SELECT message_id, group_id, user_id, dev_sn, body, created_at
		 FROM GroupMessage WHERE group_id = ?`
	args := []any{groupID}
	if cursor > 0 {
		query += ` AND message_id < ?`
		args = append(args, cursor)
	}
	query += ` ORDER BY created_at DESC, message_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.MessageID, &m.GroupID, &m.UserID, &m.DevSN, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("find messages: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// DeleteMessage removes a message and returns the deleted record, so the
// caller can address the confirmation to the right group.
func (db *DB) DeleteMessage(ctx context.Context, messageID int64) (*Message, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT message_id, group_id, user_id, dev_sn, body, created_at
		 FROM GroupMessage WHERE message_id = ?`, messageID)

	var m Message
	err := row.Scan(&m.MessageID, &m.GroupID, &m.UserID, &m.DevSN, &m.Body, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}

	if _, err := db.conn.ExecContext(ctx, `DELETE FROM GroupMessage WHERE message_id = ?`, messageID); err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}
	return &m, nil
}
