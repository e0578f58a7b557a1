package database

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// ErrIDExhausted is returned when the allocator cannot find a free id.
// With 36^12 candidates per format this means something is badly wrong.
var ErrIDExhausted = errors.New("could not allocate a unique id")

const maxIDAttempts = 100

// IDAllocator hands out dash-separated random block identifiers
// (e.g. "K3F0-9QZ2-A11B") that are verified unique against a table column.
type IDAllocator struct {
	db *DB
}

// NewIDAllocator creates an allocator bound to db.
func NewIDAllocator(db *DB) *IDAllocator {
	return &IDAllocator{db: db}
}

// NextGroupID allocates an unused group id: 3 blocks of 4 characters.
func (a *IDAllocator) NextGroupID(ctx context.Context) (string, error) {
	return a.next(ctx, "SELECT 1 FROM ChatGroup WHERE group_id = ?", 3, 4)
}

// NextUserID allocates an unused user id: 4 blocks of 4 characters.
func (a *IDAllocator) NextUserID(ctx context.Context) (string, error) {
	return a.next(ctx, "SELECT 1 FROM User WHERE user_id = ?", 4, 4)
}

func (a *IDAllocator) next(ctx context.Context, probe string, blocks, charsPerBlock int) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := randomBlockID(blocks, charsPerBlock)

		var one int
		err := a.db.conn.QueryRowContext(ctx, probe, id).Scan(&one)
		switch {
		case err == nil:
			continue // collision, retry
		case errors.Is(err, sql.ErrNoRows):
			return id, nil
		default:
			return "", fmt.Errorf("probe id uniqueness: %w", err)
		}
	}
	return "", ErrIDExhausted
}

func randomBlockID(blocks, charsPerBlock int) string {
	var sb strings.Builder
	for b := 0; b < blocks; b++ {
		if b > 0 {
			sb.WriteByte('-')
		}
		for c := 0; c < charsPerBlock; c++ {
			n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(idAlphabet))))
			sb.WriteByte(idAlphabet[n.Int64()])
		}
	}
	return sb.String()
}
