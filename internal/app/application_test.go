package app

import (
	"context"
	"testing"
	"time"

	"github.com/ChainTrace-Network/tracking_layer/internal/app/domain/role"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/ledger"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/services/tracking"
)

func TestNewDefaultsToMemory(t *testing.T) {
	application, err := New(Stores{}, Options{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}

	// The genesis admin can manage roles straight away.
	ctx := context.Background()
	if err := application.Roles.Grant(ctx, "admin", role.Producer, "producer-1"); err != nil {
		t.Fatalf("genesis admin grant: %v", err)
	}
	held, err := application.Roles.Has(ctx, role.Producer, "producer-1")
	if err != nil || !held {
		t.Fatalf("expected producer role, err=%v", err)
	}
}

func TestApplicationLifecycle(t *testing.T) {
	application, err := New(Stores{}, Options{MonitorInterval: 10 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := application.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestEndToEndThroughApplication(t *testing.T) {
	tokens := ledger.NewMemory()
	ctx := context.Background()
	for _, identity := range []string{"producer-1", "customer-1"} {
		if err := tokens.Mint(identity, 100); err != nil {
			t.Fatalf("mint: %v", err)
		}
		if err := tokens.Approve(ctx, identity, "tracking-layer", 100); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}

	application, err := New(Stores{}, Options{Tokens: tokens}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}

	if err := application.Roles.Grant(ctx, "admin", role.Producer, "producer-1"); err != nil {
		t.Fatalf("grant: %v", err)
	}

	rec, err := application.Tracking.CreateItem(ctx, "producer-1", tracking.CreateItemParams{
		Code: "APP-1", Name: "widget", CostPrice: 10, SellingPrice: 20,
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}

	balance, err := tokens.BalanceOf(ctx, "fee-collector")
	if err != nil || balance != 10 {
		t.Fatalf("fee collector balance %d err %v", balance, err)
	}

	got, err := application.Tracking.GetItemDetail(ctx, rec.ID)
	if err != nil || !got.Exists {
		t.Fatalf("item should be visible through the application, err=%v", err)
	}
}
