// Package database is the durable storage collaborator for the portal:
// users, the firmware catalog, devices, groups and group messages, backed
// by SQLite.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrDeviceNotFound  = errors.New("device not found")
	ErrCatalogNotFound = errors.New("catalog entry not found")
	ErrGroupNotFound   = errors.New("group not found")
	ErrGroupExists     = errors.New("group name already exists")
	ErrMessageNotFound = errors.New("message not found")
)

// DB wraps the SQLite connection pool and the ID generators.
type DB struct {
	conn      *sql.DB
	snowflake *Snowflake
	ids       *IDAllocator
}

// Open opens (and if necessary initializes) the database at path. WAL mode
// keeps concurrent readers from blocking the single writer.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	epoch := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	db := &DB{
		conn:      conn,
		snowflake: NewSnowflake(epoch, 0),
	}
	db.ids = NewIDAllocator(db)

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS User (
	user_id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	nickname TEXT NOT NULL,
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT 'USER',
	is_online INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS Catalog (
	dev_id TEXT PRIMARY KEY,
	dev_name TEXT NOT NULL,
	brief TEXT NOT NULL DEFAULT '',
	latest_fw TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS Device (
	dev_sn TEXT PRIMARY KEY,
	dev_id TEXT NOT NULL,
	dev_name TEXT NOT NULL,
	dev_fw TEXT NOT NULL,
	modules TEXT,
	is_online INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL,
	FOREIGN KEY (dev_id) REFERENCES Catalog(dev_id)
);

CREATE TABLE IF NOT EXISTS ChatGroup (
	group_id TEXT PRIMARY KEY,
	group_name TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS GroupMessage (
	message_id INTEGER PRIMARY KEY,
	group_id TEXT NOT NULL,
	user_id TEXT,
	dev_sn TEXT,
	body TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (group_id) REFERENCES ChatGroup(group_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_group ON GroupMessage(group_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_messages_cursor ON GroupMessage(group_id, message_id DESC);
`
	_, err := db.conn.Exec(schema)
	return err
}

// User roles, least to most privileged.
const (
	RoleUser     = "USER"
	RoleEngineer = "ENGINEER"
	RoleManager  = "MANAGER"
	RoleAdmin    = "ADMIN"
)

// User is a portal account.
type User struct {
	UserID    string
	EMail     string
	NickName  string
	FirstName string
	LastName  string
	Role      string
	IsOnline  bool
	CreatedAt int64 // Unix milliseconds
}

// CatalogEntry describes one firmware product family, keyed by the
// 4-character catalog id that prefixes every device serial number.
type CatalogEntry struct {
	DevID    string
	DevName  string
	Brief    string
	LatestFW string
}

// Device is one registered physical unit.
type Device struct {
	DevSN     string
	DevID     string
	DevName   string
	DevFW     string
	Modules   *string // JSON module list as reported by the device
	IsOnline  bool
	UpdatedAt int64
}

// Group is a durable named channel. GroupName is unique: "System", a
// client identity (personal group) or a user-chosen chat name.
type Group struct {
	GroupID   string
	GroupName string
	CreatedAt int64
}

// Message is one persisted group message. Exactly one of UserID and DevSN
// is set. MessageID is a snowflake, so id order matches creation order and
// serves as the pagination cursor.
type Message struct {
	MessageID int64
	GroupID   string
	UserID    *string
	DevSN     *string
	Body      string
	CreatedAt int64
}
