// Package storage defines the persistence contracts the tracking services
// depend on. Implementations live in the memory and postgres subpackages.
package storage

import (
	"context"
	"errors"

	"github.com/ChainTrace-Network/tracking_layer/internal/app/domain/item"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/domain/role"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Mutation is the unit of work committed for one lifecycle operation. The
// store applies every populated field atomically: the item update, the
// pending transfer create or delete, the history append and any certificate
// append either all land or none do.
type Mutation struct {
	Item           item.Record
	CreateTransfer *item.PendingTransfer
	DeleteTransfer bool
	History        *item.HistoryEntry
	Certificate    *item.Certificate
}

// ItemStore persists item records, their handshakes and their append-only
// history and certificate logs.
type ItemStore interface {
	CreateItem(ctx context.Context, rec item.Record, entry item.HistoryEntry) (item.Record, error)
	GetItem(ctx context.Context, id string) (item.Record, error)
	ListItemIDs(ctx context.Context) ([]string, error)
	ListItems(ctx context.Context) ([]item.Record, error)

	GetPendingTransfer(ctx context.Context, itemID string) (item.PendingTransfer, error)

	// ApplyMutation commits a unit of work atomically. The target item must
	// already exist.
	ApplyMutation(ctx context.Context, m Mutation) error

	GetHistory(ctx context.Context, itemID string) ([]item.HistoryEntry, error)
	GetCertificates(ctx context.Context, itemID string) ([]item.Certificate, error)
}

// RoleStore persists the identity/role relation.
type RoleStore interface {
	GrantRole(ctx context.Context, r role.Role, identity string) error
	RevokeRole(ctx context.Context, r role.Role, identity string) error
	HasRole(ctx context.Context, r role.Role, identity string) (bool, error)
	ListRoles(ctx context.Context, identity string) ([]role.Role, error)
	CountHolders(ctx context.Context, r role.Role) (int, error)
}
