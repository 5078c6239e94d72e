package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/ChainTrace-Network/tracking_layer/internal/app/domain/item"
	"github.com/ChainTrace-Network/tracking_layer/internal/app/storage/memory"
)

func TestOverdueScan(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	past := time.Now().Add(-2 * time.Hour).UTC()
	future := time.Now().Add(2 * time.Hour).UTC()

	seed := []item.Record{
		{ID: "late", Code: "late", Name: "late", CurrentOwner: "p", CurrentState: item.StateInTransit, PlannedDeliveryTime: past},
		{ID: "on-time", Code: "on-time", Name: "on-time", CurrentOwner: "p", CurrentState: item.StateInTransit, PlannedDeliveryTime: future},
		{ID: "arrived", Code: "arrived", Name: "arrived", CurrentOwner: "r", CurrentState: item.StateReceivedAtRetailer, PlannedDeliveryTime: past},
		{ID: "written-off", Code: "written-off", Name: "written-off", CurrentOwner: "p", CurrentState: item.StateLost, PlannedDeliveryTime: past},
		{ID: "open-ended", Code: "open-ended", Name: "open-ended", CurrentOwner: "p", CurrentState: item.StateProduced},
	}
	for _, rec := range seed {
		if _, err := store.CreateItem(ctx, rec, item.HistoryEntry{State: rec.CurrentState, Actor: "p"}); err != nil {
			t.Fatalf("seed %s: %v", rec.ID, err)
		}
	}

	monitor := NewOverdueMonitor(store, time.Minute, nil)
	count, err := monitor.Scan(ctx)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 overdue item, got %d", count)
	}

	// A second scan reports the same count without duplicating the warning.
	count, err = monitor.Scan(ctx)
	if err != nil || count != 1 {
		t.Fatalf("rescan: count %d err %v", count, err)
	}
}

func TestMonitorStartStop(t *testing.T) {
	monitor := NewOverdueMonitor(memory.New(), 10*time.Millisecond, nil)
	if err := monitor.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := monitor.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
