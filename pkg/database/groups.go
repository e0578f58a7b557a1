package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateGroup allocates an id and inserts a group with the given unique
// name. Returns ErrGroupExists when the name is taken.
func (db *DB) CreateGroup(ctx context.Context, groupName string) (*Group, error) {
	groupID, err := db.ids.NextGroupID(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO ChatGroup (group_id, group_name, created_at) VALUES (?, ?, ?)`,
		groupID, groupName, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, ErrGroupExists
		}
		return nil, fmt.Errorf("create group: %w", err)
	}

	return &Group{GroupID: groupID, GroupName: groupName, CreatedAt: now}, nil
}

// FindGroupByID looks a group up by id.
func (db *DB) FindGroupByID(ctx context.Context, groupID string) (*Group, error) {
	return db.scanGroup(db.conn.QueryRowContext(ctx,
		`SELECT group_id, group_name, created_at FROM ChatGroup WHERE group_id = ?`, groupID))
}

// FindGroupByName looks a group up by its unique name.
func (db *DB) FindGroupByName(ctx context.Context, groupName string) (*Group, error) {
	return db.scanGroup(db.conn.QueryRowContext(ctx,
		`SELECT group_id, group_name, created_at FROM ChatGroup WHERE group_name = ?`, groupName))
}

// FindGroup resolves a group by id first, then by name. Message reads
// accept either form of address.
func (db *DB) FindGroup(ctx context.Context, idOrName string) (*Group, error) {
	return db.scanGroup(db.conn.QueryRowContext(ctx,
		`SELECT group_id, group_name, created_at FROM ChatGroup
		 WHERE group_id = ? OR group_name = ? LIMIT 1`, idOrName, idOrName))
}

func (db *DB) scanGroup(row *sql.Row) (*Group, error) {
	var g Group
	err := row.Scan(&g.GroupID, &g.GroupName, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find group: %w", err)
	}
	return &g, nil
}

// ListGroups returns every durable group.
func (db *DB) ListGroups(ctx context.Context) ([]*Group, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT group_id, group_name, created_at FROM ChatGroup ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.GroupID, &g.GroupName, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("list groups: %w", err)
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

// DeleteGroup removes a group and, first, every message in it. Returns
// ErrGroupNotFound when the group does not exist.
func (db *DB) DeleteGroup(ctx context.Context, groupID string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM GroupMessage WHERE group_id = ?`, groupID); err != nil {
		return fmt.Errorf("delete group messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM ChatGroup WHERE group_id = ?`, groupID)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrGroupNotFound
	}
	return tx.Commit()
}
