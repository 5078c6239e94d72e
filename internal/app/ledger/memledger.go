package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Memory is an in-memory TokenLedger with ERC-20 style balances and
// allowances. It backs tests and local development; production deployments
// plug in a real chain-backed implementation.
type Memory struct {
	mu         sync.RWMutex
	balances   map[string]int64
	allowances map[string]map[string]int64 // owner -> spender -> amount
}

var _ TokenLedger = (*Memory)(nil)

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		balances:   make(map[string]int64),
		allowances: make(map[string]map[string]int64),
	}
}

// Mint credits freshly issued tokens to an identity.
func (m *Memory) Mint(identity string, amount int64) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	if amount <= 0 {
		return fmt.Errorf("mint amount must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[identity] += amount
	return nil
}

func (m *Memory) BalanceOf(_ context.Context, identity string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[strings.TrimSpace(identity)], nil
}

func (m *Memory) Allowance(_ context.Context, owner, spender string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allowances[strings.TrimSpace(owner)][strings.TrimSpace(spender)], nil
}

func (m *Memory) Approve(_ context.Context, owner, spender string, amount int64) error {
	owner = strings.TrimSpace(owner)
	spender = strings.TrimSpace(spender)
	if owner == "" || spender == "" {
		return fmt.Errorf("owner and spender are required")
	}
	if amount < 0 {
		return fmt.Errorf("allowance cannot be negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allowances[owner] == nil {
		m.allowances[owner] = make(map[string]int64)
	}
	m.allowances[owner][spender] = amount
	return nil
}

// TransferFrom moves amount from owner to recipient using spender's
// allowance. The whole operation applies under one lock: balance and
// allowance are checked and mutated together or not at all.
func (m *Memory) TransferFrom(_ context.Context, owner, spender, recipient string, amount int64) error {
	owner = strings.TrimSpace(owner)
	spender = strings.TrimSpace(spender)
	recipient = strings.TrimSpace(recipient)
	if owner == "" || spender == "" || recipient == "" {
		return fmt.Errorf("owner, spender and recipient are required")
	}
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.allowances[owner][spender] < amount {
		return fmt.Errorf("spender %s allowance from %s below %d: %w", spender, owner, amount, ErrInsufficientAllowance)
	}
	if m.balances[owner] < amount {
		return fmt.Errorf("owner %s balance below %d: %w", owner, amount, ErrInsufficientBalance)
	}

	m.allowances[owner][spender] -= amount
	m.balances[owner] -= amount
	m.balances[recipient] += amount
	return nil
}
