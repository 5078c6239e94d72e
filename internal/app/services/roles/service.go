// Package roles implements the admin-gated role registry for supply-chain
// identities.
package roles

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ChainTrace-Network/tracking_layer/internal/app/domain/role"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/storage"
	"github.com/ChainTrace-Network/tracking_layer/pkg/logger"
)

// ErrAdminRequired is returned when a non-admin caller attempts to change
// role assignments.
var ErrAdminRequired = errors.New("caller does not hold the admin role")

// Service manages the identity/role relation. Only Admin-role callers may
// grant or revoke; both operations are idempotent.
type Service struct {
	store storage.RoleStore
	log   *logger.Logger
}

// New constructs a role registry service.
func New(store storage.RoleStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("roles")
	}
	return &Service{store: store, log: log}
}

// Bootstrap grants the Admin role to the genesis identity. It is called once
// during application composition, before any caller-gated operation.
func (s *Service) Bootstrap(ctx context.Context, deployer string) error {
	deployer = strings.TrimSpace(deployer)
	if deployer == "" {
		return fmt.Errorf("deployer identity is required")
	}
	if err := s.store.GrantRole(ctx, role.Admin, deployer); err != nil {
		return fmt.Errorf("grant genesis admin: %w", err)
	}
	s.log.WithField("identity", deployer).Info("genesis admin granted")
	return nil
}

// Grant assigns a role to an identity. Granting a role already held is a
// no-op success.
func (s *Service) Grant(ctx context.Context, caller string, r role.Role, identity string) error {
	if err := s.requireAdmin(ctx, caller); err != nil {
		return err
	}
	if !r.Valid() {
		return fmt.Errorf("unknown role %q", r)
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return fmt.Errorf("identity is required")
	}

	held, err := s.store.HasRole(ctx, r, identity)
	if err != nil {
		return err
	}
	if held {
		return nil
	}

	if err := s.store.GrantRole(ctx, r, identity); err != nil {
		return err
	}
	s.log.WithField("role", r).
		WithField("identity", identity).
		WithField("granted_by", caller).
		Info("role granted")
	return nil
}

// Revoke removes a role from an identity. Revoking a role not held is a
// no-op success. Nothing prevents revoking the last Admin; the service only
// warns, since locking out role management is a deliberate operator action.
func (s *Service) Revoke(ctx context.Context, caller string, r role.Role, identity string) error {
	if err := s.requireAdmin(ctx, caller); err != nil {
		return err
	}
	if !r.Valid() {
		return fmt.Errorf("unknown role %q", r)
	}
	identity = strings.TrimSpace(identity)

	held, err := s.store.HasRole(ctx, r, identity)
	if err != nil {
		return err
	}
	if !held {
		return nil
	}

	if r == role.Admin {
		if count, err := s.store.CountHolders(ctx, role.Admin); err == nil && count <= 1 {
			s.log.WithField("identity", identity).
				Warn("revoking the last admin; role management will be locked out")
		}
	}

	if err := s.store.RevokeRole(ctx, r, identity); err != nil {
		return err
	}
	s.log.WithField("role", r).
		WithField("identity", identity).
		WithField("revoked_by", caller).
		Info("role revoked")
	return nil
}

// Has reports whether an identity holds a role.
func (s *Service) Has(ctx context.Context, r role.Role, identity string) (bool, error) {
	return s.store.HasRole(ctx, r, strings.TrimSpace(identity))
}

// List returns every role the identity holds.
func (s *Service) List(ctx context.Context, identity string) ([]role.Role, error) {
	return s.store.ListRoles(ctx, identity)
}

func (s *Service) requireAdmin(ctx context.Context, caller string) error {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return ErrAdminRequired
	}
	isAdmin, err := s.store.HasRole(ctx, role.Admin, caller)
	if err != nil {
		return err
	}
	if !isAdmin {
		return fmt.Errorf("caller %s: %w", caller, ErrAdminRequired)
	}
	return nil
}
