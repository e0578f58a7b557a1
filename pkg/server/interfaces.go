package server

import (
	"context"

	"github.com/devgrid/portal/pkg/database"
)

// Store is the durable storage collaborator consumed by the messaging
// engine. The abstraction keeps handlers testable against an in-memory
// implementation and the SQLite layer swappable.
type Store interface {
	// Identity
	FindUser(ctx context.Context, userID string) (*database.User, error)
	FindDevice(ctx context.Context, devSN string) (*database.Device, error)
	FindCatalog(ctx context.Context, devID string) (*database.CatalogEntry, error)
	UpsertDevice(ctx context.Context, devSN, devID, devName, devFW string) (*database.Device, error)
	SetUserOnline(ctx context.Context, userID string, online bool) error
	SetDeviceOnline(ctx context.Context, devSN string, online bool) error
	SetDeviceModules(ctx context.Context, devSN, modules string) error

	// Groups
	FindGroupByID(ctx context.Context, groupID string) (*database.Group, error)
	FindGroupByName(ctx context.Context, groupName string) (*database.Group, error)
	FindGroup(ctx context.Context, idOrName string) (*database.Group, error)
	ListGroups(ctx context.Context) ([]*database.Group, error)
	CreateGroup(ctx context.Context, groupName string) (*database.Group, error)
	DeleteGroup(ctx context.Context, groupID string) error

	// Messages
	CreateMessage(ctx context.Context, groupID string, userID, devSN *string, body string) (*database.Message, error)
	FindMessages(ctx context.Context, groupID string, cursor int64, limit int) ([]*database.Message, error)
	DeleteMessage(ctx context.Context, messageID int64) (*database.Message, error)

	Close() error
}
