package database

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir() + "/portal.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndFindGroup(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	g, err := db.CreateGroup(ctx, "Ops")
	require.NoError(t, err)
	assert.NotEmpty(t, g.GroupID)

	byID, err := db.FindGroupByID(ctx, g.GroupID)
	require.NoError(t, err)
	assert.Equal(t, "Ops", byID.GroupName)

	byName, err := db.FindGroupByName(ctx, "Ops")
	require.NoError(t, err)
	assert.Equal(t, g.GroupID, byName.GroupID)

	either, err := db.FindGroup(ctx, "Ops")
	require.NoError(t, err)
	assert.Equal(t, g.GroupID, either.GroupID)
}

func TestCreateGroupDuplicateName(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, err := db.CreateGroup(ctx, "Ops")
	require.NoError(t, err)

	_, err = db.CreateGroup(ctx, "Ops")
	assert.ErrorIs(t, err, ErrGroupExists)
}

func TestDeleteGroupCascadesMessages(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	g, err := db.CreateGroup(ctx, "Ops")
	require.NoError(t, err)

	uid := "A1B2-C3D4-E5F6-A7B8"
	for i := 0; i < 3; i++ {
		_, err := db.CreateMessage(ctx, g.GroupID, &uid, nil, fmt.Sprintf("GroupMessage | msg %d", i))
		require.NoError(t, err)
	}

	require.NoError(t, db.DeleteGroup(ctx, g.GroupID))

	_, err = db.FindGroupByID(ctx, g.GroupID)
	assert.ErrorIs(t, err, ErrGroupNotFound)

	msgs, err := db.FindMessages(ctx, g.GroupID, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	assert.ErrorIs(t, db.DeleteGroup(ctx, g.GroupID), ErrGroupNotFound)
}

func TestMessagePagination(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	g, err := db.CreateGroup(ctx, "Ops")
	require.NoError(t, err)

	uid := "A1B2-C3D4-E5F6-A7B8"
	var ids []int64
	for i := 0; i < 30; i++ {
		m, err := db.CreateMessage(ctx, g.GroupID, &uid, nil, fmt.Sprintf("GroupMessage | msg %d", i))
		require.NoError(t, err)
		ids = append(ids, m.MessageID)
	}

	// Three pages of 10, newest first, cursored by the oldest id returned.
	var cursor int64
	seen := make(map[int64]bool)
	for page := 0; page < 3; page++ {
		msgs, err := db.FindMessages(ctx, g.GroupID, cursor, 10)
		require.NoError(t, err)
		require.Len(t, msgs, 10, "page %d", page)

		for i := 1; i < len(msgs); i++ {
			assert.Greater(t, msgs[i-1].MessageID, msgs[i].MessageID)
		}
		for _, m := range msgs {
			assert.False(t, seen[m.MessageID], "message %d repeated", m.MessageID)
			seen[m.MessageID] = true
		}
		cursor = msgs[len(msgs)-1].MessageID
	}
	assert.Len(t, seen, 30)

	msgs, err := db.FindMessages(ctx, g.GroupID, cursor, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// Newest message comes first with no cursor.
	first, err := db.FindMessages(ctx, g.GroupID, 0, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, ids[len(ids)-1], first[0].MessageID)
}

func TestDeleteMessage(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	g, err := db.CreateGroup(ctx, "Ops")
	require.NoError(t, err)

	uid := "A1B2-C3D4-E5F6-A7B8"
	m, err := db.CreateMessage(ctx, g.GroupID, &uid, nil, "GroupMessage | bye")
	require.NoError(t, err)

	deleted, err := db.DeleteMessage(ctx, m.MessageID)
	require.NoError(t, err)
	assert.Equal(t, g.GroupID, deleted.GroupID)

	_, err = db.DeleteMessage(ctx, m.MessageID)
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestUserPresence(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	u, err := db.CreateUser(ctx, "", "anna@example.com", "Anna", "Anna", "Petrova", RoleEngineer)
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9A-Z]{4}-[0-9A-Z]{4}-[0-9A-Z]{4}-[0-9A-Z]{4}$`, u.UserID)

	require.NoError(t, db.SetUserOnline(ctx, u.UserID, true))
	got, err := db.FindUser(ctx, u.UserID)
	require.NoError(t, err)
	assert.True(t, got.IsOnline)

	require.NoError(t, db.SetUserOnline(ctx, u.UserID, false))
	got, err = db.FindUser(ctx, u.UserID)
	require.NoError(t, err)
	assert.False(t, got.IsOnline)
}

func TestDeviceUpsertAndModules(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateCatalogEntry(ctx, "A1F0", "Gateway", "LoRa gateway", "2.1.0"))

	sn := "A1F0-0123456789ABCDEF01234567|3C"
	d, err := db.UpsertDevice(ctx, sn, "A1F0", "Barn gateway", "2.0.4")
	require.NoError(t, err)
	assert.True(t, d.IsOnline)

	// Second connect refreshes name and firmware of the same record.
	d, err = db.UpsertDevice(ctx, sn, "A1F0", "Barn gateway", "2.1.0")
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", d.DevFW)

	require.NoError(t, db.SetDeviceModules(ctx, sn, `[{"ModuleSN":"M1"}]`))
	d, err = db.FindDevice(ctx, sn)
	require.NoError(t, err)
	require.NotNil(t, d.Modules)
	assert.Contains(t, *d.Modules, "M1")

	require.NoError(t, db.SetDeviceOnline(ctx, sn, false))
	d, err = db.FindDevice(ctx, sn)
	require.NoError(t, err)
	assert.False(t, d.IsOnline)

	assert.ErrorIs(t, db.SetDeviceModules(ctx, "FFFF-000000000000000000000000|00", "[]"), ErrDeviceNotFound)
}

func TestSnowflakeMonotonic(t *testing.T) {
	sf := NewSnowflake(0, 1)
	prev := sf.NextID()
	for i := 0; i < 10000; i++ {
		next := sf.NextID()
		require.Greater(t, next, prev)
		prev = next
	}
}
