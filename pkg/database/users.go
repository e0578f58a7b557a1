package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateUser inserts a portal account. UserID is allocated when empty.
func (db *DB) CreateUser(ctx context.Context, userID, email, nickname, firstName, lastName, role string) (*User, error) {
	if userID == "" {
		var err error
		userID, err = db.ids.NextUserID(ctx)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UnixMilli()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO User (user_id, email, nickname, first_name, last_name, role, is_online, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		userID, email, nickname, firstName, lastName, role, now)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return &User{
		UserID:    userID,
		EMail:     email,
		NickName:  nickname,
		FirstName: firstName,
		LastName:  lastName,
		Role:      role,
		CreatedAt: now,
	}, nil
}

// FindUser looks a user up by id.
func (db *DB) FindUser(ctx context.Context, userID string) (*User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT user_id, email, nickname, first_name, last_name, role, is_online, created_at
		 FROM User WHERE user_id = ?`, userID)

	var u User
	var online int
	err := row.Scan(&u.UserID, &u.EMail, &u.NickName, &u.FirstName, &u.LastName, &u.Role, &online, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	u.IsOnline = online != 0
	return &u, nil
}

// SetUserOnline updates a user's presence flag.
func (db *DB) SetUserOnline(ctx context.Context, userID string, online bool) error {
	flag := 0
	if online {
		flag = 1
	}
	_, err := db.conn.ExecContext(ctx, `UPDATE User SET is_online = ? WHERE user_id = ?`, flag, userID)
	if err != nil {
		return fmt.Errorf("set user online: %w", err)
	}
	return nil
}

// CreateCatalogEntry registers a firmware product family.
func (db *DB) CreateCatalogEntry(ctx context.Context, devID, devName, brief, latestFW string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO Catalog (dev_id, dev_name, brief, latest_fw) VALUES (?, ?, ?, ?)`,
		devID, devName, brief, latestFW)
	if err != nil {
		return fmt.Errorf("create catalog entry: %w", err)
	}
	return nil
}

// FindCatalog looks a catalog entry up by the 4-character catalog id.
func (db *DB) FindCatalog(ctx context.Context, devID string) (*CatalogEntry, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT dev_id, dev_name, brief, latest_fw FROM Catalog WHERE dev_id = ?`, devID)

	var c CatalogEntry
	err := row.Scan(&c.DevID, &c.DevName, &c.Brief, &c.LatestFW)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCatalogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find catalog entry: %w", err)
	}
	return &c, nil
}

// FindDevice looks a device up by serial number.
func (db *DB) FindDevice(ctx context.Context, devSN string) (*Device, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT dev_sn, dev_id, dev_name, dev_fw, modules, is_online, updated_at
		 FROM Device WHERE dev_sn = ?`, devSN)

	var d Device
	var online int
	err := row.Scan(&d.DevSN, &d.DevID, &d.DevName, &d.DevFW, &d.Modules, &online, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find device: %w", err)
	}
	d.IsOnline = online != 0
	return &d, nil
}

// UpsertDevice creates or refreshes a device record on connect and marks it
// online.
func (db *DB) UpsertDevice(ctx context.Context, devSN, devID, devName, devFW string) (*Device, error) {
	now := time.Now().UnixMilli()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO Device (dev_sn, dev_id, dev_name, dev_fw, is_online, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?)
		 ON CONFLICT(dev_sn) DO UPDATE SET
			dev_name = excluded.dev_name,
			dev_fw = excluded.dev_fw,
			is_online = 1,
			updated_at = excluded.updated_at`,
		devSN, devID, devName, devFW, now)
	if err != nil {
		return nil, fmt.Errorf("upsert device: %w", err)
	}
	return db.FindDevice(ctx, devSN)
}

// SetDeviceOnline updates a device's presence flag.
func (db *DB) SetDeviceOnline(ctx context.Context, devSN string, online bool) error {
	flag := 0
	if online {
		flag = 1
	}
	_, err := db.conn.ExecContext(ctx, `UPDATE Device SET is_online = ? WHERE dev_sn = ?`, flag, devSN)
	if err != nil {
		return fmt.Errorf("set device online: %w", err)
	}
	return nil
}

// SetDeviceModules stores the module list a device reported.
func (db *DB) SetDeviceModules(ctx context.Context, devSN, modules string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE Device SET modules = ?, is_online = 1, updated_at = ? WHERE dev_sn = ?`,
		modules, time.Now().UnixMilli(), devSN)
	if err != nil {
		return fmt.Errorf("set device modules: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}
