package tracking

import (
	"errors"
	"fmt"

	"github.com/ChainTrace-Network/tracking_layer/internal/app/domain/role"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/services/settlement"
)

// Operation errors. Every error is detected before any mutation; the whole
// operation aborts and no partial effect commits.
var (
	ErrUnauthorized        = errors.New("caller is missing a required role")
	ErrNotOwner            = errors.New("only the current owner can perform this operation")
	ErrNotReceiver         = errors.New("only the receiver can confirm the transfer")
	ErrNotFound            = errors.New("item does not exist")
	ErrAlreadyExists       = errors.New("item already exists")
	ErrInvalidReceiverRole = errors.New("receiver does not hold a transit role")
	ErrWrongState          = errors.New("operation not valid in the item's current state")

	// ErrPaymentFailed is surfaced when the token ledger rejects the
	// settlement accompanying a transition.
	ErrPaymentFailed = settlement.ErrPaymentFailed
)

// RoleError reports which role the caller was missing; it unwraps to
// ErrUnauthorized so callers can match either the kind or the detail.
type RoleError struct {
	Identity string
	Role     role.Role
}

func (e *RoleError) Error() string {
	return fmt.Sprintf("identity %s is missing role %s", e.Identity, e.Role)
}

func (e *RoleError) Unwrap() error { return ErrUnauthorized }
