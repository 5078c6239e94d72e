package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ChainTrace-Network/tracking_layer/internal/app/domain/item"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/domain/role"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/ledger"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/services/settlement"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/storage/memory"
)

const (
	producer     = "producer-1"
	transporter  = "transporter-1"
	distributor  = "distributor-1"
	retailer     = "retailer-1"
	customer     = "customer-1"
	feeCollector = "fee-collector"
	spender      = "tracking-layer"
)

type env struct {
	store   *memory.Store
	tokens  *ledger.Memory
	service *Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memory.New()
	tokens := ledger.NewMemory()
	ctx := context.Background()

	grants := map[string]role.Role{
		producer:    role.Producer,
		transporter: role.Transporter,
		distributor: role.Distributor,
		retailer:    role.Retailer,
		customer:    role.Customer,
	}
	for identity, r := range grants {
		if err := store.GrantRole(ctx, r, identity); err != nil {
			t.Fatalf("grant %s to %s: %v", r, identity, err)
		}
	}

	for _, identity := range []string{producer, transporter, distributor, retailer, customer} {
		tokens.Mint(identity, 1000)
		if err := tokens.Approve(ctx, identity, spender, 1000); err != nil {
			t.Fatalf("approve %s: %v", identity, err)
		}
	}

	payments := settlement.New(tokens, spender, nil)
	service := New(store, rolesFromStore{store}, payments, feeCollector, nil, nil)
	return &env{store: store, tokens: tokens, service: service}
}

// rolesFromStore adapts the store directly so tests skip the admin-gated
// registry service.
type rolesFromStore struct {
	store *memory.Store
}

func (r rolesFromStore) Has(ctx context.Context, rr role.Role, identity string) (bool, error) {
	return r.store.HasRole(ctx, rr, identity)
}

func createItem(t *testing.T, e *env) item.Record {
	t.Helper()
	rec, err := e.service.CreateItem(context.Background(), producer, CreateItemParams{
		Code:                "SKU-001",
		Name:                "widget",
		Description:         "test widget",
		PlannedDeliveryTime: time.Now().Add(24 * time.Hour).UTC(),
		CostPrice:           10,
		SellingPrice:        40,
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	return rec
}

func balance(t *testing.T, e *env, identity string) int64 {
	t.Helper()
	b, err := e.tokens.BalanceOf(context.Background(), identity)
	if err != nil {
		t.Fatalf("balance of %s: %v", identity, err)
	}
	return b
}

func TestEndToEndCustodyChain(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec := createItem(t, e)

	if rec.CurrentState != item.StateProduced {
		t.Fatalf("expected PRODUCED, got %s", rec.CurrentState)
	}
	if got := balance(t, e, feeCollector); got != 10 {
		t.Fatalf("fee collector should hold the cost price, got %d", got)
	}
	if got := balance(t, e, producer); got != 990 {
		t.Fatalf("producer balance after creation fee: %d", got)
	}

	hops := []struct {
		receiver     string
		confirmState item.State
	}{
		{transporter, item.StateInTransitAtTransporter},
		{distributor, item.StateReceivedAtDistributor},
		{retailer, item.StateReceivedAtRetailer},
	}
	owner := producer
	for _, hop := range hops {
		if err := e.service.InitiateTransfer(ctx, owner, rec.ID, hop.receiver); err != nil {
			t.Fatalf("initiate to %s: %v", hop.receiver, err)
		}
		if err := e.service.ConfirmTransfer(ctx, hop.receiver, rec.ID); err != nil {
			t.Fatalf("confirm by %s: %v", hop.receiver, err)
		}
		got, err := e.service.GetItemDetail(ctx, rec.ID)
		if err != nil {
			t.Fatalf("get item: %v", err)
		}
		if got.CurrentState != hop.confirmState {
			t.Fatalf("expected %s, got %s", hop.confirmState, got.CurrentState)
		}
		if got.CurrentOwner != hop.receiver {
			t.Fatalf("expected owner %s, got %s", hop.receiver, got.CurrentOwner)
		}
		owner = hop.receiver
	}

	if err := e.service.CustomerBuyItem(ctx, customer, rec.ID); err != nil {
		t.Fatalf("customer buy: %v", err)
	}

	got, err := e.service.GetItemDetail(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.CurrentState != item.StateSold {
		t.Fatalf("expected SOLD, got %s", got.CurrentState)
	}
	if got.CurrentOwner != customer {
		t.Fatalf("expected customer as final owner, got %s", got.CurrentOwner)
	}

	history, err := e.service.GetItemHistory(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(history) != 8 {
		t.Fatalf("expected 8 history entries, got %d", len(history))
	}

	// Each custody taker paid the selling price onward; the producer also
	// paid the creation fee.
	checks := map[string]int64{
		producer:     990 + 40,
		transporter:  1000,
		distributor:  1000,
		retailer:     1000,
		customer:     960,
		feeCollector: 10,
	}
	for identity, want := range checks {
		if got := balance(t, e, identity); got != want {
			t.Fatalf("balance of %s: want %d, got %d", identity, want, got)
		}
	}
}

func TestCreateItemDuplicate(t *testing.T) {
	e := newEnv(t)
	createItem(t, e)

	_, err := e.service.CreateItem(context.Background(), producer, CreateItemParams{
		Code: "SKU-001", Name: "widget again",
	})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestCreateItemRequiresProducerRole(t *testing.T) {
	e := newEnv(t)

	_, err := e.service.CreateItem(context.Background(), transporter, CreateItemParams{
		Code: "SKU-002", Name: "widget",
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	var roleErr *RoleError
	if !errors.As(err, &roleErr) {
		t.Fatalf("expected RoleError, got %T", err)
	}
	if roleErr.Role != role.Producer {
		t.Fatalf("expected missing role PRODUCER, got %s", roleErr.Role)
	}
}

func TestInitiateTransferGates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec := createItem(t, e)

	if err := e.service.InitiateTransfer(ctx, transporter, rec.ID, distributor); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := e.service.InitiateTransfer(ctx, producer, rec.ID, customer); !errors.Is(err, ErrInvalidReceiverRole) {
		t.Fatalf("expected ErrInvalidReceiverRole, got %v", err)
	}
	if err := e.service.InitiateTransfer(ctx, producer, "missing-id", transporter); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := e.service.InitiateTransfer(ctx, producer, rec.ID, transporter); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	// Already in transit; the sender cannot open a second handshake.
	if err := e.service.InitiateTransfer(ctx, producer, rec.ID, transporter); !errors.Is(err, ErrWrongState) {
		t.Fatalf("expected ErrWrongState, got %v", err)
	}
}

func TestConfirmTransferWrongReceiver(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec := createItem(t, e)

	if err := e.service.InitiateTransfer(ctx, producer, rec.ID, transporter); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := e.service.ConfirmTransfer(ctx, distributor, rec.ID); !errors.Is(err, ErrNotReceiver) {
		t.Fatalf("expected ErrNotReceiver, got %v", err)
	}

	got, err := e.service.GetItemDetail(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.CurrentState != item.StateInTransit || got.CurrentOwner != producer {
		t.Fatalf("state should be untouched, got %s owned by %s", got.CurrentState, got.CurrentOwner)
	}
	if _, ok, _ := e.service.GetPendingTransfer(ctx, rec.ID); !ok {
		t.Fatalf("pending transfer should survive a failed confirm")
	}
}

func TestConfirmTransferWithoutPending(t *testing.T) {
	e := newEnv(t)
	rec := createItem(t, e)

	err := e.service.ConfirmTransfer(context.Background(), transporter, rec.ID)
	if !errors.Is(err, ErrNotReceiver) {
		t.Fatalf("expected ErrNotReceiver, got %v", err)
	}
}

func TestConfirmTransferInsufficientAllowance(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec := createItem(t, e)

	if err := e.service.InitiateTransfer(ctx, producer, rec.ID, transporter); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	// Drop the transporter's approval below the selling price.
	if err := e.tokens.Approve(ctx, transporter, spender, 5); err != nil {
		t.Fatalf("approve: %v", err)
	}

	err := e.service.ConfirmTransfer(ctx, transporter, rec.ID)
	if !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("expected ErrPaymentFailed, got %v", err)
	}

	got, err := e.service.GetItemDetail(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.CurrentState != item.StateInTransit || got.CurrentOwner != producer {
		t.Fatalf("failed settlement must not move the item: %s owned by %s", got.CurrentState, got.CurrentOwner)
	}
	if got := balance(t, e, transporter); got != 1000 {
		t.Fatalf("no tokens should move on failure, got %d", got)
	}
	history, _ := e.service.GetItemHistory(ctx, rec.ID)
	if len(history) != 2 {
		t.Fatalf("history must not grow on failure, got %d entries", len(history))
	}
}

func TestReportDamage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec := createItem(t, e)

	if err := e.service.ReportDamage(ctx, retailer, rec.ID, "dropped"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("retailer cannot report damage, got %v", err)
	}

	if err := e.service.InitiateTransfer(ctx, producer, rec.ID, transporter); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := e.service.ReportDamage(ctx, transporter, rec.ID, "crate crushed in transit"); err != nil {
		t.Fatalf("report damage: %v", err)
	}

	state, err := e.service.GetItemState(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state != item.StateDamaged {
		t.Fatalf("expected DAMAGED, got %s", state)
	}

	history, _ := e.service.GetItemHistory(ctx, rec.ID)
	last := history[len(history)-1]
	if last.Note != "crate crushed in transit" {
		t.Fatalf("reason should land in history, got %q", last.Note)
	}

	// Terminal states absorb every further transition.
	if err := e.service.ReportLost(ctx, distributor, rec.ID, "gone"); !errors.Is(err, ErrWrongState) {
		t.Fatalf("expected ErrWrongState, got %v", err)
	}
	if err := e.service.ConfirmTransfer(ctx, transporter, rec.ID); !errors.Is(err, ErrNotReceiver) {
		t.Fatalf("handshake should be dropped with the incident, got %v", err)
	}
}

func TestReportLost(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec := createItem(t, e)

	if err := e.service.ReportLost(ctx, distributor, rec.ID, "missing at depot"); err != nil {
		t.Fatalf("report lost: %v", err)
	}
	state, _ := e.service.GetItemState(ctx, rec.ID)
	if state != item.StateLost {
		t.Fatalf("expected LOST, got %s", state)
	}
}

func TestAddCertificate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec := createItem(t, e)

	if err := e.service.AddCertificate(ctx, transporter, rec.ID, "organic", "cert-body"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-producer cannot attest, got %v", err)
	}
	if err := e.service.AddCertificate(ctx, producer, rec.ID, "organic", "cert-body"); err != nil {
		t.Fatalf("add certificate: %v", err)
	}

	certs, err := e.service.GetCertificates(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get certificates: %v", err)
	}
	if len(certs) != 1 || certs[0].Name != "organic" || certs[0].Issuer != "cert-body" {
		t.Fatalf("unexpected certificates: %+v", certs)
	}

	history, _ := e.service.GetItemHistory(ctx, rec.ID)
	if len(history) != 1 {
		t.Fatalf("certificates must not append history, got %d entries", len(history))
	}

	// Once custody moves on, the producer can no longer attest.
	if err := e.service.InitiateTransfer(ctx, producer, rec.ID, transporter); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := e.service.ConfirmTransfer(ctx, transporter, rec.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := e.service.AddCertificate(ctx, producer, rec.ID, "late", "cert-body"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestUpdateSellingPrice(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec := createItem(t, e)

	if err := e.service.UpdateSellingPrice(ctx, transporter, rec.ID, 50); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := e.service.UpdateSellingPrice(ctx, producer, rec.ID, 50); err != nil {
		t.Fatalf("update price: %v", err)
	}

	if err := e.service.InitiateTransfer(ctx, producer, rec.ID, transporter); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := e.service.ConfirmTransfer(ctx, transporter, rec.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	// The confirm settles at the updated price.
	if got := balance(t, e, transporter); got != 950 {
		t.Fatalf("expected settlement at the new price, balance %d", got)
	}

	if err := e.service.ReportDamage(ctx, transporter, rec.ID, "broken"); err != nil {
		t.Fatalf("report damage: %v", err)
	}
	if err := e.service.UpdateSellingPrice(ctx, transporter, rec.ID, 60); !errors.Is(err, ErrWrongState) {
		t.Fatalf("terminal items cannot be repriced, got %v", err)
	}
}

func TestCustomerBuyWrongState(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec := createItem(t, e)

	if err := e.service.CustomerBuyItem(ctx, customer, rec.ID); !errors.Is(err, ErrWrongState) {
		t.Fatalf("expected ErrWrongState, got %v", err)
	}
	if err := e.service.CustomerBuyItem(ctx, producer, rec.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestReadsForUnknownItem(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	rec, err := e.service.GetItemDetail(ctx, "no-such-item")
	if err != nil {
		t.Fatalf("unknown ids are not an error: %v", err)
	}
	if rec.Exists {
		t.Fatalf("unknown item must report Exists=false")
	}

	owner, err := e.service.GetItemOwner(ctx, "no-such-item")
	if err != nil || owner != "" {
		t.Fatalf("expected empty owner, got %q err %v", owner, err)
	}

	history, err := e.service.GetItemHistory(ctx, "no-such-item")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d", len(history))
	}
}

func TestDeriveIDIsStable(t *testing.T) {
	if item.DeriveID("SKU-001") != item.DeriveID(" SKU-001 ") {
		t.Fatalf("id derivation should trim the code")
	}
	if item.DeriveID("SKU-001") == item.DeriveID("SKU-002") {
		t.Fatalf("distinct codes should derive distinct ids")
	}
}
