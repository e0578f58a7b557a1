package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/devgrid/portal/pkg/database"
)

// mockStore is an in-memory Store implementation for handler tests.
type mockStore struct {
	mu       sync.RWMutex
	users    map[string]*database.User
	catalog  map[string]*database.CatalogEntry
	devices  map[string]*database.Device
	groups   map[string]*database.Group // by GroupID
	messages map[int64]*database.Message

	nextGroup int
	nextMsgID int64
}

func newMockStore() *mockStore {
	return &mockStore{
		users:     make(map[string]*database.User),
		catalog:   make(map[string]*database.CatalogEntry),
		devices:   make(map[string]*database.Device),
		groups:    make(map[string]*database.Group),
		messages:  make(map[int64]*database.Message),
		nextMsgID: 1,
	}
}

func (m *mockStore) AddUser(userID, nickname, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = &database.User{
		UserID:    userID,
		NickName:  nickname,
		FirstName: "First-" + nickname,
		LastName:  "Last-" + nickname,
		Role:      role,
	}
}

func (m *mockStore) AddCatalogEntry(devID, devName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalog[devID] = &database.CatalogEntry{DevID: devID, DevName: devName}
}

func (m *mockStore) AddGroup(groupID, groupName string) *database.Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := &database.Group{GroupID: groupID, GroupName: groupName}
	m.groups[groupID] = g
	return g
}

func (m *mockStore) FindUser(_ context.Context, userID string) (*database.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	return nil, database.ErrUserNotFound
}

func (m *mockStore) FindDevice(_ context.Context, devSN string) (*database.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.devices[devSN]; ok {
		return d, nil
	}
	return nil, database.ErrDeviceNotFound
}

func (m *mockStore) FindCatalog(_ context.Context, devID string) (*database.CatalogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.catalog[devID]; ok {
		return c, nil
	}
	return nil, database.ErrCatalogNotFound
}

func (m *mockStore) UpsertDevice(_ context.Context, devSN, devID, devName, devFW string) (*database.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := &database.Device{DevSN: devSN, DevID: devID, DevName: devName, DevFW: devFW, IsOnline: true}
	m.devices[devSN] = d
	return d, nil
}

func (m *mockStore) SetUserOnline(_ context.Context, userID string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.IsOnline = online
		return nil
	}
	return database.ErrUserNotFound
}

func (m *mockStore) SetDeviceOnline(_ context.Context, devSN string, online bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[devSN]; ok {
		d.IsOnline = online
		return nil
	}
	return database.ErrDeviceNotFound
}

func (m *mockStore) SetDeviceModules(_ context.Context, devSN, modules string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[devSN]; ok {
		d.Modules = &modules
		return nil
	}
	return database.ErrDeviceNotFound
}

func (m *mockStore) FindGroupByID(_ context.Context, groupID string) (*database.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if g, ok := m.groups[groupID]; ok {
		return g, nil
	}
	return nil, database.ErrGroupNotFound
}

func (m *mockStore) FindGroupByName(_ context.Context, groupName string) (*database.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.groups {
		if g.GroupName == groupName {
			return g, nil
		}
	}
	return nil, database.ErrGroupNotFound
}

func (m *mockStore) FindGroup(ctx context.Context, idOrName string) (*database.Group, error) {
	if g, err := m.FindGroupByID(ctx, idOrName); err == nil {
		return g, nil
	}
	return m.FindGroupByName(ctx, idOrName)
}

func (m *mockStore) ListGroups(_ context.Context) ([]*database.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*database.Group, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, g)
	}
	return out, nil
}

func (m *mockStore) CreateGroup(_ context.Context, groupName string) (*database.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.groups {
		if g.GroupName == groupName {
			return nil, database.ErrGroupExists
		}
	}
	m.nextGroup++
	g := &database.Group{
		GroupID:   fmt.Sprintf("MOCK-GRP%d-%04d", m.nextGroup, m.nextGroup),
		GroupName: groupName,
	}
	m.groups[g.GroupID] = g
	return g, nil
}

func (m *mockStore) DeleteGroup(_ context.Context, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[groupID]; !ok {
		return database.ErrGroupNotFound
	}
	delete(m.groups, groupID)
	for id, msg := range m.messages {
		if msg.GroupID == groupID {
			delete(m.messages, id)
		}
	}
	return nil
}

func (m *mockStore) CreateMessage(_ context.Context, groupID string, userID, devSN *string, body string) (*database.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := &database.Message{
		MessageID: m.nextMsgID,
		GroupID:   groupID,
		UserID:    userID,
		DevSN:     devSN,
		Body:      body,
		CreatedAt: 1700000000000 + m.nextMsgID,
	}
	m.messages[msg.MessageID] = msg
	m.nextMsgID++
	return msg, nil
}

func (m *mockStore) FindMessages(_ context.Context, groupID string, cursor int64, limit int) ([]*database.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Newest first; ids are allocated in creation order.
	out := make([]*database.Message, 0, limit)
	for id := m.nextMsgID - 1; id >= 1 && len(out) < limit; id-- {
		msg, ok := m.messages[id]
		if !ok || msg.GroupID != groupID {
			continue
		}
		if cursor > 0 && msg.MessageID >= cursor {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (m *mockStore) DeleteMessage(_ context.Context, messageID int64) (*database.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return nil, database.ErrMessageNotFound
	}
	delete(m.messages, messageID)
	return msg, nil
}

func (m *mockStore) Close() error { return nil }
