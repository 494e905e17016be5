package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/safar/go-storefront/internal/store"
)

func TestReserveAndRelease(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	product := seedProduct(t, db, "TEST-RES-001", 100, map[string]int{"M": 5})

	res, err := store.Reserve(ctx, db, product.ID, "M", 2, "session-1", 15*time.Minute)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if res.ID == "" {
		t.Error("Reservation should have an id")
	}

	// holds reduce availability but never the stock column
	available, err := store.VariantAvailability(ctx, db, product.ID, "M")
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if available != 3 {
		t.Errorf("Expected availability 3, got %d", available)
	}
	if got := variantStock(t, db, product.ID, "M"); got != 5 {
		t.Errorf("Stock column must stay at 5, got %d", got)
	}

	// a second session cannot claim more than what is left
	_, err = store.Reserve(ctx, db, product.ID, "M", 4, "session-2", 15*time.Minute)
	var stockErr *store.StockUnavailable
	if !errors.As(err, &stockErr) {
		t.Fatalf("Expected stock unavailable, got: %v", err)
	}
	if stockErr.Items[0].Available != 3 {
		t.Errorf("Expected available 3 in rejection, got %d", stockErr.Items[0].Available)
	}

	if err := store.Release(ctx, db, res.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	available, err = store.VariantAvailability(ctx, db, product.ID, "M")
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if available != 5 {
		t.Errorf("Expected availability 5 after release, got %d", available)
	}

	if err := store.Release(ctx, db, res.ID); !errors.Is(err, store.ErrReservationNotFound) {
		t.Errorf("Double release should report not found, got: %v", err)
	}
}

func TestSweepExpiredReservations(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	product := seedProduct(t, db, "TEST-RES-002", 100, map[string]int{"M": 5})

	// a hold that is already past its TTL
	if _, err := store.Reserve(ctx, db, product.ID, "M", 2, "session-1", -time.Minute); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	// expired holds no longer count against availability even before the sweep
	available, err := store.VariantAvailability(ctx, db, product.ID, "M")
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if available != 5 {
		t.Errorf("Expired hold should not count, got availability %d", available)
	}

	removed, err := store.SweepExpired(ctx, db)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 swept reservation, got %d", removed)
	}

	// the full stock is reservable again
	if _, err := store.Reserve(ctx, db, product.ID, "M", 5, "session-2", 15*time.Minute); err != nil {
		t.Fatalf("Reserve after sweep: %v", err)
	}
}

func TestReserveUnknownVariant(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	product := seedProduct(t, db, "TEST-RES-003", 100, map[string]int{"M": 5})

	_, err := store.Reserve(context.Background(), db, product.ID, "XL", 1, "session-1", time.Minute)
	if !errors.Is(err, store.ErrVariantNotFound) {
		t.Errorf("Expected variant not found, got: %v", err)
	}
}
