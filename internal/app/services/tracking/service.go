// Package tracking implements the item registry: the custody state machine,
// the two-party transfer handshake and the append-only history and
// certificate logs. Every mutating operation follows the same shape:
// validate, settle payment, commit one storage mutation.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ChainTrace-Network/tracking_layer/internal/app/domain/item"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/domain/role"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/metrics"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/services/settlement"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/storage"
	"github.com/ChainTrace-Network/tracking_layer/pkg/logger"
)

// RoleChecker is the slice of the role registry the item registry depends on.
type RoleChecker interface {
	Has(ctx context.Context, r role.Role, identity string) (bool, error)
}

// Service is the item registry.
type Service struct {
	store        storage.ItemStore
	roles        RoleChecker
	payments     *settlement.Service
	feeCollector string
	notifier     Notifier
	log          *logger.Logger
}

// New constructs the item registry. The fee collector receives the cost price
// settled on every item creation.
func New(store storage.ItemStore, roles RoleChecker, payments *settlement.Service, feeCollector string, notifier Notifier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("tracking")
	}
	if notifier == nil {
		notifier = &logNotifier{log: log}
	}
	return &Service{
		store:        store,
		roles:        roles,
		payments:     payments,
		feeCollector: strings.TrimSpace(feeCollector),
		notifier:     notifier,
		log:          log,
	}
}

// CreateItemParams carries the caller-supplied fields for item registration.
type CreateItemParams struct {
	Code                string
	Name                string
	Description         string
	PlannedDeliveryTime time.Time
	CostPrice           int64
	SellingPrice        int64
}

// CreateItem registers a new item under the producer's custody. The cost
// price is settled from the producer to the fee collector before the record
// commits; a failed settlement leaves no trace of the item.
func (s *Service) CreateItem(ctx context.Context, caller string, p CreateItemParams) (item.Record, error) {
	caller = strings.TrimSpace(caller)
	if err := s.requireRole(ctx, caller, role.Producer); err != nil {
		return item.Record{}, err
	}

	code := strings.TrimSpace(p.Code)
	if code == "" {
		return item.Record{}, fmt.Errorf("item code is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return item.Record{}, fmt.Errorf("item name is required")
	}
	if p.CostPrice < 0 || p.SellingPrice < 0 {
		return item.Record{}, fmt.Errorf("prices cannot be negative")
	}

	id := item.DeriveID(code)
	if _, err := s.store.GetItem(ctx, id); err == nil {
		return item.Record{}, fmt.Errorf("item %s: %w", id, ErrAlreadyExists)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return item.Record{}, err
	}

	if err := s.payments.Settle(ctx, "creation_fee", caller, s.feeCollector, p.CostPrice); err != nil {
		return item.Record{}, err
	}

	now := time.Now().UTC()
	rec := item.Record{
		ID:                  id,
		Code:                code,
		Name:                strings.TrimSpace(p.Name),
		Description:         strings.TrimSpace(p.Description),
		CurrentOwner:        caller,
		CurrentState:        item.StateProduced,
		Exists:              true,
		PlannedDeliveryTime: p.PlannedDeliveryTime,
		CostPrice:           p.CostPrice,
		SellingPrice:        p.SellingPrice,
	}
	entry := item.HistoryEntry{
		State:     item.StateProduced,
		Actor:     caller,
		Timestamp: now,
		Note:      "Item created",
	}

	created, err := s.store.CreateItem(ctx, rec, entry)
	if err != nil {
		s.payments.Refund(ctx, "creation_fee", caller, s.feeCollector, p.CostPrice)
		if errors.Is(err, storage.ErrNotFound) {
			return item.Record{}, err
		}
		return item.Record{}, fmt.Errorf("create item: %w", err)
	}

	metrics.RecordItemCreated()
	s.log.WithField("item_id", id).
		WithField("code", code).
		WithField("owner", caller).
		Info("item created")
	s.notifier.Notify(ctx, EventItemCreated, map[string]interface{}{
		"item_id": id,
		"owner":   caller,
	})
	return created, nil
}

// InitiateTransfer opens the custody handshake toward a transit-role
// receiver. The item moves into its in-transit state immediately; custody
// changes only when the receiver confirms.
func (s *Service) InitiateTransfer(ctx context.Context, caller, itemID, receiver string) error {
	caller = strings.TrimSpace(caller)
	receiver = strings.TrimSpace(receiver)
	if receiver == "" {
		return fmt.Errorf("receiver identity is required")
	}

	rec, err := s.getExisting(ctx, itemID)
	if err != nil {
		return err
	}
	if rec.CurrentOwner != caller {
		return fmt.Errorf("initiate transfer of %s: %w", rec.ID, ErrNotOwner)
	}

	next, ok := item.NextOnInitiate(rec.CurrentState)
	if !ok {
		return fmt.Errorf("cannot initiate transfer from state %s: %w", rec.CurrentState, ErrWrongState)
	}

	if _, err := s.transitRole(ctx, receiver); err != nil {
		return err
	}

	now := time.Now().UTC()
	rec.CurrentState = next
	m := storage.Mutation{
		Item: rec,
		CreateTransfer: &item.PendingTransfer{
			ItemID:        rec.ID,
			From:          caller,
			To:            receiver,
			FromConfirmed: true,
			CreatedAt:     now,
		},
		History: &item.HistoryEntry{
			State:     next,
			Actor:     caller,
			Timestamp: now,
			Note:      fmt.Sprintf("Transfer initiated to %s", receiver),
		},
	}
	if err := s.store.ApplyMutation(ctx, m); err != nil {
		return fmt.Errorf("initiate transfer: %w", err)
	}

	metrics.RecordTransferStep("initiated")
	s.log.WithField("item_id", rec.ID).
		WithField("from", caller).
		WithField("to", receiver).
		WithField("state", next).
		Info("transfer initiated")
	s.notifier.Notify(ctx, EventTransferInitiated, map[string]interface{}{
		"item_id": rec.ID,
		"from":    caller,
		"to":      receiver,
	})
	return nil
}

// ConfirmTransfer completes the handshake: the receiver pays the selling
// price to the previous owner, takes custody and the item enters the state
// derived from the receiver's transit role. Settlement happens before the
// commit; a rejected payment leaves the handshake open and the item state
// untouched.
func (s *Service) ConfirmTransfer(ctx context.Context, caller, itemID string) error {
	caller = strings.TrimSpace(caller)

	rec, err := s.getExisting(ctx, itemID)
	if err != nil {
		return err
	}

	transfer, err := s.store.GetPendingTransfer(ctx, rec.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("no pending transfer for %s: %w", rec.ID, ErrNotReceiver)
	} else if err != nil {
		return err
	}
	if transfer.To != caller {
		return fmt.Errorf("confirm transfer of %s: %w", rec.ID, ErrNotReceiver)
	}

	receiverRole, err := s.transitRole(ctx, caller)
	if err != nil {
		return err
	}
	next, ok := item.NextOnConfirm(receiverRole)
	if !ok {
		return fmt.Errorf("role %s cannot take custody: %w", receiverRole, ErrInvalidReceiverRole)
	}

	if err := s.payments.Settle(ctx, "custody_transfer", caller, transfer.From, rec.SellingPrice); err != nil {
		return err
	}

	now := time.Now().UTC()
	previousOwner := rec.CurrentOwner
	rec.CurrentOwner = caller
	rec.CurrentState = next
	m := storage.Mutation{
		Item:           rec,
		DeleteTransfer: true,
		History: &item.HistoryEntry{
			State:     next,
			Actor:     caller,
			Timestamp: now,
			Note:      "Transfer confirmed; payment settled",
		},
	}
	if err := s.store.ApplyMutation(ctx, m); err != nil {
		s.payments.Refund(ctx, "custody_transfer", caller, transfer.From, rec.SellingPrice)
		return fmt.Errorf("confirm transfer: %w", err)
	}

	metrics.RecordTransferStep("confirmed")
	s.log.WithField("item_id", rec.ID).
		WithField("from", previousOwner).
		WithField("to", caller).
		WithField("state", next).
		WithField("amount", rec.SellingPrice).
		Info("transfer confirmed")
	s.notifier.Notify(ctx, EventTransferConfirmed, map[string]interface{}{
		"item_id": rec.ID,
		"from":    previousOwner,
		"to":      caller,
		"amount":  rec.SellingPrice,
	})
	return nil
}

// CustomerBuyItem sells an item sitting at the retailer to a customer. The
// customer pays the selling price to the retailer and becomes the final
// owner; SOLD is terminal.
func (s *Service) CustomerBuyItem(ctx context.Context, caller, itemID string) error {
	caller = strings.TrimSpace(caller)
	if err := s.requireRole(ctx, caller, role.Customer); err != nil {
		return err
	}

	rec, err := s.getExisting(ctx, itemID)
	if err != nil {
		return err
	}
	if rec.CurrentState != item.StateReceivedAtRetailer {
		return fmt.Errorf("item %s is not at a retailer: %w", rec.ID, ErrWrongState)
	}

	if err := s.payments.Settle(ctx, "purchase", caller, rec.CurrentOwner, rec.SellingPrice); err != nil {
		return err
	}

	now := time.Now().UTC()
	retailer := rec.CurrentOwner
	rec.CurrentOwner = caller
	rec.CurrentState = item.StateSold
	m := storage.Mutation{
		Item: rec,
		History: &item.HistoryEntry{
			State:     item.StateSold,
			Actor:     caller,
			Timestamp: now,
			Note:      "Item sold to customer",
		},
	}
	if err := s.store.ApplyMutation(ctx, m); err != nil {
		s.payments.Refund(ctx, "purchase", caller, retailer, rec.SellingPrice)
		return fmt.Errorf("sell item: %w", err)
	}

	metrics.RecordTransferStep("sold")
	s.log.WithField("item_id", rec.ID).
		WithField("retailer", retailer).
		WithField("customer", caller).
		WithField("amount", rec.SellingPrice).
		Info("item sold")
	s.notifier.Notify(ctx, EventItemSold, map[string]interface{}{
		"item_id":  rec.ID,
		"retailer": retailer,
		"customer": caller,
		"amount":   rec.SellingPrice,
	})
	return nil
}

// ReportDamage marks an item DAMAGED. Transporters and distributors may
// report regardless of current custody; the reason lands in the history log.
func (s *Service) ReportDamage(ctx context.Context, caller, itemID, reason string) error {
	return s.reportIncident(ctx, caller, itemID, reason, item.StateDamaged)
}

// ReportLost marks an item LOST. Same gating as ReportDamage.
func (s *Service) ReportLost(ctx context.Context, caller, itemID, reason string) error {
	return s.reportIncident(ctx, caller, itemID, reason, item.StateLost)
}

func (s *Service) reportIncident(ctx context.Context, caller, itemID, reason string, terminal item.State) error {
	caller = strings.TrimSpace(caller)
	if err := s.requireAnyRole(ctx, caller, role.Transporter, role.Distributor); err != nil {
		return err
	}

	rec, err := s.getExisting(ctx, itemID)
	if err != nil {
		return err
	}
	if rec.CurrentState.Terminal() {
		return fmt.Errorf("item %s already in terminal state %s: %w", rec.ID, rec.CurrentState, ErrWrongState)
	}

	note := strings.TrimSpace(reason)
	if note == "" {
		note = fmt.Sprintf("Item reported %s", strings.ToLower(string(terminal)))
	}

	now := time.Now().UTC()
	hadTransfer := false
	if _, err := s.store.GetPendingTransfer(ctx, rec.ID); err == nil {
		hadTransfer = true
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	rec.CurrentState = terminal
	m := storage.Mutation{
		Item: rec,
		// An open handshake cannot survive a terminal transition; dropping it
		// here keeps a later confirm from resurrecting the item.
		DeleteTransfer: hadTransfer,
		History: &item.HistoryEntry{
			State:     terminal,
			Actor:     caller,
			Timestamp: now,
			Note:      note,
		},
	}
	if err := s.store.ApplyMutation(ctx, m); err != nil {
		return fmt.Errorf("report incident: %w", err)
	}

	kind := strings.ToLower(string(terminal))
	metrics.RecordIncident(kind)
	s.log.WithField("item_id", rec.ID).
		WithField("reporter", caller).
		WithField("state", terminal).
		WithField("reason", note).
		Warn("incident reported")
	s.notifier.Notify(ctx, EventIncidentReported, map[string]interface{}{
		"item_id":  rec.ID,
		"reporter": caller,
		"kind":     kind,
		"reason":   note,
	})
	return nil
}

// AddCertificate appends a compliance attestation. Only the producer who
// still holds the item may attest; certificates never modify state or
// history.
func (s *Service) AddCertificate(ctx context.Context, caller, itemID, name, issuer string) error {
	caller = strings.TrimSpace(caller)
	if err := s.requireRole(ctx, caller, role.Producer); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("certificate name is required")
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		issuer = caller
	}

	rec, err := s.getExisting(ctx, itemID)
	if err != nil {
		return err
	}
	if rec.CurrentOwner != caller {
		return fmt.Errorf("add certificate to %s: %w", rec.ID, ErrNotOwner)
	}

	m := storage.Mutation{
		Item: rec,
		Certificate: &item.Certificate{
			Name:     name,
			Issuer:   issuer,
			IssuedAt: time.Now().UTC(),
		},
	}
	if err := s.store.ApplyMutation(ctx, m); err != nil {
		return fmt.Errorf("add certificate: %w", err)
	}

	s.log.WithField("item_id", rec.ID).
		WithField("certificate", name).
		WithField("issuer", issuer).
		Info("certificate added")
	s.notifier.Notify(ctx, EventCertificateAdded, map[string]interface{}{
		"item_id":     rec.ID,
		"certificate": name,
		"issuer":      issuer,
	})
	return nil
}

// UpdateSellingPrice changes the price the next custody taker pays. Only the
// current owner may reprice, and only while the item is still in play.
func (s *Service) UpdateSellingPrice(ctx context.Context, caller, itemID string, price int64) error {
	caller = strings.TrimSpace(caller)
	if price < 0 {
		return fmt.Errorf("selling price cannot be negative")
	}

	rec, err := s.getExisting(ctx, itemID)
	if err != nil {
		return err
	}
	if rec.CurrentOwner != caller {
		return fmt.Errorf("reprice %s: %w", rec.ID, ErrNotOwner)
	}
	if rec.CurrentState.Terminal() {
		return fmt.Errorf("item %s in terminal state %s: %w", rec.ID, rec.CurrentState, ErrWrongState)
	}

	previous := rec.SellingPrice
	rec.SellingPrice = price
	if err := s.store.ApplyMutation(ctx, storage.Mutation{Item: rec}); err != nil {
		return fmt.Errorf("update selling price: %w", err)
	}

	s.log.WithField("item_id", rec.ID).
		WithField("previous_price", previous).
		WithField("new_price", price).
		Info("selling price updated")
	s.notifier.Notify(ctx, EventPriceChanged, map[string]interface{}{
		"item_id":        rec.ID,
		"previous_price": previous,
		"new_price":      price,
	})
	return nil
}

// GetItemDetail returns the full item record. Unknown ids yield a zero
// record with Exists=false and no error; absence is an answer, not a fault.
func (s *Service) GetItemDetail(ctx context.Context, itemID string) (item.Record, error) {
	rec, err := s.store.GetItem(ctx, strings.TrimSpace(itemID))
	if errors.Is(err, storage.ErrNotFound) {
		return item.Record{}, nil
	} else if err != nil {
		return item.Record{}, err
	}
	return rec, nil
}

// GetItemOwner returns the current custody holder, or empty for unknown ids.
func (s *Service) GetItemOwner(ctx context.Context, itemID string) (string, error) {
	rec, err := s.GetItemDetail(ctx, itemID)
	if err != nil {
		return "", err
	}
	return rec.CurrentOwner, nil
}

// GetItemState returns the current lifecycle state, or empty for unknown ids.
func (s *Service) GetItemState(ctx context.Context, itemID string) (item.State, error) {
	rec, err := s.GetItemDetail(ctx, itemID)
	if err != nil {
		return "", err
	}
	return rec.CurrentState, nil
}

// GetItemHistory returns the item's custody trail in append order. Unknown
// ids yield an empty slice.
func (s *Service) GetItemHistory(ctx context.Context, itemID string) ([]item.HistoryEntry, error) {
	return s.store.GetHistory(ctx, strings.TrimSpace(itemID))
}

// GetCertificates returns the item's attestation log in append order.
func (s *Service) GetCertificates(ctx context.Context, itemID string) ([]item.Certificate, error) {
	return s.store.GetCertificates(ctx, strings.TrimSpace(itemID))
}

// GetPendingTransfer returns the open handshake for an item, if any.
func (s *Service) GetPendingTransfer(ctx context.Context, itemID string) (item.PendingTransfer, bool, error) {
	transfer, err := s.store.GetPendingTransfer(ctx, strings.TrimSpace(itemID))
	if errors.Is(err, storage.ErrNotFound) {
		return item.PendingTransfer{}, false, nil
	} else if err != nil {
		return item.PendingTransfer{}, false, err
	}
	return transfer, true, nil
}

// ListItemIDs returns every registered item id in stable order.
func (s *Service) ListItemIDs(ctx context.Context) ([]string, error) {
	return s.store.ListItemIDs(ctx)
}

func (s *Service) getExisting(ctx context.Context, itemID string) (item.Record, error) {
	itemID = strings.TrimSpace(itemID)
	rec, err := s.store.GetItem(ctx, itemID)
	if errors.Is(err, storage.ErrNotFound) {
		return item.Record{}, fmt.Errorf("item %s: %w", itemID, ErrNotFound)
	} else if err != nil {
		return item.Record{}, err
	}
	return rec, nil
}

func (s *Service) requireRole(ctx context.Context, caller string, r role.Role) error {
	if caller == "" {
		return &RoleError{Identity: caller, Role: r}
	}
	held, err := s.roles.Has(ctx, r, caller)
	if err != nil {
		return err
	}
	if !held {
		return &RoleError{Identity: caller, Role: r}
	}
	return nil
}

func (s *Service) requireAnyRole(ctx context.Context, caller string, candidates ...role.Role) error {
	for _, r := range candidates {
		held, err := s.roles.Has(ctx, r, caller)
		if err != nil {
			return err
		}
		if held {
			return nil
		}
	}
	return &RoleError{Identity: caller, Role: candidates[0]}
}

// transitRole resolves the transit role an identity acts under. Identities
// are expected to hold a single transit role; when several are held the
// first in canonical order wins.
func (s *Service) transitRole(ctx context.Context, identity string) (role.Role, error) {
	for _, r := range role.TransitRoles {
		held, err := s.roles.Has(ctx, r, identity)
		if err != nil {
			return "", err
		}
		if held {
			return r, nil
		}
	}
	return "", fmt.Errorf("identity %s: %w", identity, ErrInvalidReceiverRole)
}
