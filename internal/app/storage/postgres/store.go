// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ChainTrace-Network/tracking_layer/internal/app/domain/item"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/domain/role"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL. A Mutation
// commits inside a single transaction, so lifecycle operations are atomic at
// the database level.
type Store struct {
	db *sql.DB
}

var _ storage.ItemStore = (*Store)(nil)
var _ storage.RoleStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the tables the store depends on. It is idempotent and
// safe to run on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tracked_items (
			id               TEXT PRIMARY KEY,
			code             TEXT NOT NULL UNIQUE,
			name             TEXT NOT NULL,
			description      TEXT NOT NULL DEFAULT '',
			current_owner    TEXT NOT NULL,
			current_state    TEXT NOT NULL,
			planned_delivery TIMESTAMPTZ,
			cost_price       BIGINT NOT NULL DEFAULT 0,
			selling_price    BIGINT NOT NULL DEFAULT 0,
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pending_transfers (
			item_id        TEXT PRIMARY KEY REFERENCES tracked_items(id),
			from_identity  TEXT NOT NULL,
			to_identity    TEXT NOT NULL,
			from_confirmed BOOLEAN NOT NULL,
			to_confirmed   BOOLEAN NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS item_history (
			id      TEXT PRIMARY KEY,
			item_id TEXT NOT NULL REFERENCES tracked_items(id),
			seq     BIGSERIAL,
			state   TEXT NOT NULL,
			actor   TEXT NOT NULL,
			ts      TIMESTAMPTZ NOT NULL,
			note    TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS item_certificates (
			id        TEXT PRIMARY KEY,
			item_id   TEXT NOT NULL REFERENCES tracked_items(id),
			seq       BIGSERIAL,
			name      TEXT NOT NULL,
			issuer    TEXT NOT NULL,
			issued_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS identity_roles (
			role     TEXT NOT NULL,
			identity TEXT NOT NULL,
			PRIMARY KEY (role, identity)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// --- ItemStore --------------------------------------------------------------

func (s *Store) CreateItem(ctx context.Context, rec item.Record, entry item.HistoryEntry) (item.Record, error) {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Exists = true
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return item.Record{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tracked_items (id, code, name, description, current_owner, current_state,
			planned_delivery, cost_price, selling_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.ID, rec.Code, rec.Name, rec.Description, rec.CurrentOwner, string(rec.CurrentState),
		nullableTime(rec.PlannedDeliveryTime), rec.CostPrice, rec.SellingPrice, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return item.Record{}, err
	}

	if err := insertHistory(ctx, tx, rec.ID, entry); err != nil {
		return item.Record{}, err
	}

	if err := tx.Commit(); err != nil {
		return item.Record{}, err
	}
	return rec, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (item.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, code, name, description, current_owner, current_state,
			planned_delivery, cost_price, selling_price, created_at, updated_at
		FROM tracked_items
		WHERE id = $1
	`, id)
	rec, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return item.Record{}, fmt.Errorf("item %s: %w", id, storage.ErrNotFound)
	}
	return rec, err
}

func (s *Store) ListItemIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tracked_items ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) ListItems(ctx context.Context) ([]item.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name, description, current_owner, current_state,
			planned_delivery, cost_price, selling_price, created_at, updated_at
		FROM tracked_items
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]item.Record, 0)
	for rows.Next() {
		rec, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}

func (s *Store) GetPendingTransfer(ctx context.Context, itemID string) (item.PendingTransfer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT item_id, from_identity, to_identity, from_confirmed, to_confirmed, created_at
		FROM pending_transfers
		WHERE item_id = $1
	`, itemID)

	var t item.PendingTransfer
	err := row.Scan(&t.ItemID, &t.From, &t.To, &t.FromConfirmed, &t.ToConfirmed, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return item.PendingTransfer{}, fmt.Errorf("pending transfer for item %s: %w", itemID, storage.ErrNotFound)
	}
	if err != nil {
		return item.PendingTransfer{}, err
	}
	return t, nil
}

func (s *Store) ApplyMutation(ctx context.Context, m storage.Mutation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		UPDATE tracked_items
		SET name = $2, description = $3, current_owner = $4, current_state = $5,
			planned_delivery = $6, cost_price = $7, selling_price = $8, updated_at = $9
		WHERE id = $1
	`, m.Item.ID, m.Item.Name, m.Item.Description, m.Item.CurrentOwner, string(m.Item.CurrentState),
		nullableTime(m.Item.PlannedDeliveryTime), m.Item.CostPrice, m.Item.SellingPrice, now)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("item %s: %w", m.Item.ID, storage.ErrNotFound)
	}

	if m.DeleteTransfer {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_transfers WHERE item_id = $1`, m.Item.ID); err != nil {
			return err
		}
	}
	if m.CreateTransfer != nil {
		t := m.CreateTransfer
		created := t.CreatedAt
		if created.IsZero() {
			created = now
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pending_transfers (item_id, from_identity, to_identity, from_confirmed, to_confirmed, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, m.Item.ID, t.From, t.To, t.FromConfirmed, t.ToConfirmed, created)
		if err != nil {
			return err
		}
	}
	if m.History != nil {
		if err := insertHistory(ctx, tx, m.Item.ID, *m.History); err != nil {
			return err
		}
	}
	if m.Certificate != nil {
		c := m.Certificate
		issued := c.IssuedAt
		if issued.IsZero() {
			issued = now
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO item_certificates (id, item_id, name, issuer, issued_at)
			VALUES ($1, $2, $3, $4, $5)
		`, uuid.NewString(), m.Item.ID, c.Name, c.Issuer, issued)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) GetHistory(ctx context.Context, itemID string) ([]item.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT state, actor, ts, note
		FROM item_history
		WHERE item_id = $1
		ORDER BY seq
	`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]item.HistoryEntry, 0)
	for rows.Next() {
		var e item.HistoryEntry
		var state string
		if err := rows.Scan(&state, &e.Actor, &e.Timestamp, &e.Note); err != nil {
			return nil, err
		}
		e.State = item.State(state)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) GetCertificates(ctx context.Context, itemID string) ([]item.Certificate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, issuer, issued_at
		FROM item_certificates
		WHERE item_id = $1
		ORDER BY seq
	`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	certs := make([]item.Certificate, 0)
	for rows.Next() {
		var c item.Certificate
		if err := rows.Scan(&c.Name, &c.Issuer, &c.IssuedAt); err != nil {
			return nil, err
		}
		certs = append(certs, c)
	}
	return certs, rows.Err()
}

// --- RoleStore --------------------------------------------------------------

func (s *Store) GrantRole(ctx context.Context, r role.Role, identity string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identity_roles (role, identity)
		VALUES ($1, $2)
		ON CONFLICT (role, identity) DO NOTHING
	`, string(r), identity)
	return err
}

func (s *Store) RevokeRole(ctx context.Context, r role.Role, identity string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM identity_roles WHERE role = $1 AND identity = $2
	`, string(r), identity)
	return err
}

func (s *Store) HasRole(ctx context.Context, r role.Role, identity string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM identity_roles WHERE role = $1 AND identity = $2
	`, string(r), identity)
	var one int
	err := row.Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ListRoles(ctx context.Context, identity string) ([]role.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role FROM identity_roles WHERE identity = $1 ORDER BY role
	`, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := make([]role.Role, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		roles = append(roles, role.Role(raw))
	}
	return roles, rows.Err()
}

func (s *Store) CountHolders(ctx context.Context, r role.Role) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM identity_roles WHERE role = $1
	`, string(r))
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// --- helpers ----------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (item.Record, error) {
	var (
		rec     item.Record
		state   string
		planned sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.Code, &rec.Name, &rec.Description, &rec.CurrentOwner, &state,
		&planned, &rec.CostPrice, &rec.SellingPrice, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return item.Record{}, err
	}
	rec.CurrentState = item.State(state)
	if planned.Valid {
		rec.PlannedDeliveryTime = planned.Time
	}
	rec.Exists = true
	return rec, nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, itemID string, entry item.HistoryEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO item_history (id, item_id, state, actor, ts, note)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), itemID, string(entry.State), entry.Actor, entry.Timestamp, entry.Note)
	return err
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
