// Package ledger defines the fungible token ledger the tracking layer settles
// payments against. The core only calls the ledger; it never implements
// balance tracking itself.
package ledger

import (
	"context"
	"errors"
)

// Ledger errors surfaced by implementations.
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// TokenLedger exposes the spender-initiated, pre-approved transfer semantics
// the settlement service relies on. Implementations must apply TransferFrom
// atomically: either the full amount moves and the allowance is consumed, or
// nothing changes.
type TokenLedger interface {
	BalanceOf(ctx context.Context, identity string) (int64, error)
	Allowance(ctx context.Context, owner, spender string) (int64, error)
	Approve(ctx context.Context, owner, spender string, amount int64) error
	TransferFrom(ctx context.Context, owner, spender, recipient string, amount int64) error
}
