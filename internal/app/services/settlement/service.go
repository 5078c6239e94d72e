// Package settlement moves escrowed token payments between identities through
// the external fungible ledger.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ChainTrace-Network/tracking_layer/internal/app/ledger"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/metrics"
	"github.com/ChainTrace-Network/tracking_layer/pkg/logger"
)

// ErrPaymentFailed is returned when the token ledger rejects a settlement,
// typically for insufficient balance or allowance. The enclosing lifecycle
// operation must abort without mutating state.
var ErrPaymentFailed = errors.New("payment settlement failed")

// Service wraps the ledger's pre-approved transfer in a single settlement
// call. It performs no retries; failure propagates as a hard failure of the
// enclosing operation.
type Service struct {
	tokens  ledger.TokenLedger
	spender string
	log     *logger.Logger
}

// New constructs a settlement service. The spender identity is the tracking
// layer's own ledger identity; payers must approve it before submitting
// operations that settle funds.
func New(tokens ledger.TokenLedger, spender string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("settlement")
	}
	return &Service{
		tokens:  tokens,
		spender: strings.TrimSpace(spender),
		log:     log,
	}
}

// Settle moves amount from payer to payee using the payer's pre-approved
// allowance for the tracking layer. kind labels the settlement for metrics
// and logs (creation_fee, custody_transfer, purchase, refund).
func (s *Service) Settle(ctx context.Context, kind, payer, payee string, amount int64) error {
	payer = strings.TrimSpace(payer)
	payee = strings.TrimSpace(payee)
	if payer == "" || payee == "" {
		return fmt.Errorf("payer and payee are required: %w", ErrPaymentFailed)
	}
	if amount < 0 {
		return fmt.Errorf("amount cannot be negative: %w", ErrPaymentFailed)
	}
	if amount == 0 {
		return nil
	}

	if err := s.tokens.TransferFrom(ctx, payer, s.spender, payee, amount); err != nil {
		metrics.RecordSettlement(kind, false)
		s.log.WithError(err).
			WithField("kind", kind).
			WithField("payer", payer).
			WithField("payee", payee).
			WithField("amount", amount).
			Warn("settlement rejected by ledger")
		return fmt.Errorf("%w: %w", ErrPaymentFailed, err)
	}

	metrics.RecordSettlement(kind, true)
	s.log.WithField("kind", kind).
		WithField("payer", payer).
		WithField("payee", payee).
		WithField("amount", amount).
		Info("payment settled")
	return nil
}

// Refund performs a best-effort compensating transfer from payee back to
// payer after a commit failure. The refund bypasses allowances by minting no
// new approval: it requires the payee to have pre-approved the tracking
// layer, which holds for the fee collector; for other identities the failure
// is logged and surfaced to operators.
func (s *Service) Refund(ctx context.Context, kind, payer, payee string, amount int64) {
	if amount <= 0 {
		return
	}
	if err := s.tokens.TransferFrom(ctx, payee, s.spender, payer, amount); err != nil {
		s.log.WithError(err).
			WithField("kind", kind).
			WithField("payer", payer).
			WithField("payee", payee).
			WithField("amount", amount).
			Error("compensating refund failed; manual reconciliation required")
		return
	}
	s.log.WithField("kind", kind).
		WithField("payer", payer).
		WithField("payee", payee).
		WithField("amount", amount).
		Warn("settlement refunded after failed commit")
}
