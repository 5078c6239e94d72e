package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ChainTrace-Network/tracking_layer/internal/app/domain/item"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/domain/role"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development. A single mutex serialises every mutation, so a Mutation
// commits atomically with respect to all readers.
type Store struct {
	mu           sync.RWMutex
	items        map[string]item.Record
	transfers    map[string]item.PendingTransfer
	history      map[string][]item.HistoryEntry
	certificates map[string][]item.Certificate
	roles        map[role.Role]map[string]bool
}

var _ storage.ItemStore = (*Store)(nil)
var _ storage.RoleStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		items:        make(map[string]item.Record),
		transfers:    make(map[string]item.PendingTransfer),
		history:      make(map[string][]item.HistoryEntry),
		certificates: make(map[string][]item.Certificate),
		roles:        make(map[role.Role]map[string]bool),
	}
}

// ItemStore implementation ----------------------------------------------------

func (s *Store) CreateItem(_ context.Context, rec item.Record, entry item.HistoryEntry) (item.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		return item.Record{}, fmt.Errorf("item id is required")
	}
	if _, exists := s.items[rec.ID]; exists {
		return item.Record{}, fmt.Errorf("item %s already exists", rec.ID)
	}

	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Exists = true

	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}

	s.items[rec.ID] = rec
	s.history[rec.ID] = append(s.history[rec.ID], entry)
	return rec, nil
}

func (s *Store) GetItem(_ context.Context, id string) (item.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.items[id]
	if !ok {
		return item.Record{}, fmt.Errorf("item %s: %w", id, storage.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) ListItemIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) ListItems(_ context.Context) ([]item.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]item.Record, 0, len(s.items))
	for _, rec := range s.items {
		result = append(result, rec)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) GetPendingTransfer(_ context.Context, itemID string) (item.PendingTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	transfer, ok := s.transfers[itemID]
	if !ok {
		return item.PendingTransfer{}, fmt.Errorf("pending transfer for item %s: %w", itemID, storage.ErrNotFound)
	}
	return transfer, nil
}

func (s *Store) ApplyMutation(_ context.Context, m storage.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.items[m.Item.ID]
	if !ok {
		return fmt.Errorf("item %s: %w", m.Item.ID, storage.ErrNotFound)
	}

	rec := m.Item
	rec.CreatedAt = original.CreatedAt
	rec.UpdatedAt = time.Now().UTC()
	rec.Exists = true

	s.items[rec.ID] = rec

	if m.DeleteTransfer {
		delete(s.transfers, rec.ID)
	}
	if m.CreateTransfer != nil {
		transfer := *m.CreateTransfer
		if transfer.CreatedAt.IsZero() {
			transfer.CreatedAt = rec.UpdatedAt
		}
		s.transfers[rec.ID] = transfer
	}
	if m.History != nil {
		entry := *m.History
		if entry.Timestamp.IsZero() {
			entry.Timestamp = rec.UpdatedAt
		}
		s.history[rec.ID] = append(s.history[rec.ID], entry)
	}
	if m.Certificate != nil {
		cert := *m.Certificate
		if cert.IssuedAt.IsZero() {
			cert.IssuedAt = rec.UpdatedAt
		}
		s.certificates[rec.ID] = append(s.certificates[rec.ID], cert)
	}
	return nil
}

func (s *Store) GetHistory(_ context.Context, itemID string) ([]item.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]item.HistoryEntry(nil), s.history[itemID]...), nil
}

func (s *Store) GetCertificates(_ context.Context, itemID string) ([]item.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]item.Certificate(nil), s.certificates[itemID]...), nil
}

// RoleStore implementation ----------------------------------------------------

func (s *Store) GrantRole(_ context.Context, r role.Role, identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return fmt.Errorf("identity is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.roles[r] == nil {
		s.roles[r] = make(map[string]bool)
	}
	s.roles[r][identity] = true
	return nil
}

func (s *Store) RevokeRole(_ context.Context, r role.Role, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.roles[r], strings.TrimSpace(identity))
	return nil
}

func (s *Store) HasRole(_ context.Context, r role.Role, identity string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.roles[r][strings.TrimSpace(identity)], nil
}

func (s *Store) ListRoles(_ context.Context, identity string) ([]role.Role, error) {
	identity = strings.TrimSpace(identity)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []role.Role
	for _, r := range role.All {
		if s.roles[r][identity] {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *Store) CountHolders(_ context.Context, r role.Role) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.roles[r]), nil
}
