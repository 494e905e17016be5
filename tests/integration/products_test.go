package integration

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/store"
)

func TestCreateAndGetProduct(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	product := seedProduct(t, db, "TEST-PRD-001", 100, map[string]int{"S": 3, "M": 7})

	fetched, err := store.GetProduct(context.Background(), db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if fetched.SKU != "TEST-PRD-001" {
		t.Errorf("Expected sku TEST-PRD-001, got %s", fetched.SKU)
	}
	if len(fetched.Variants) != 2 {
		t.Fatalf("Expected 2 variants, got %d", len(fetched.Variants))
	}

	_, err = store.GetProduct(context.Background(), db, 999999)
	if !errors.Is(err, store.ErrProductNotFound) {
		t.Errorf("Expected product not found, got: %v", err)
	}
}

func TestTryDecrementStock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	product := seedProduct(t, db, "TEST-PRD-002", 100, map[string]int{"M": 5})

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		result, failure, err := store.TryDecrementStock(ctx, tx, product.ID, "M", 4)
		if err != nil {
			return err
		}
		if failure != nil {
			t.Fatalf("Unexpected failure: %+v", failure)
		}
		if result.NewStock != 1 {
			t.Errorf("Expected new stock 1, got %d", result.NewStock)
		}
		// the seeded threshold is 2, so 1 remaining flags low stock
		if !result.LowStock {
			t.Error("Expected low stock flag")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}

	fetched, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if fetched.TotalSold != 4 {
		t.Errorf("Expected total_sold 4, got %d", fetched.TotalSold)
	}
}

func TestTryDecrementStockFailureMutatesNothing(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	product := seedProduct(t, db, "TEST-PRD-003", 100, map[string]int{"M": 2})

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		_, failure, err := store.TryDecrementStock(ctx, tx, product.ID, "M", 3)
		if err != nil {
			return err
		}
		if failure == nil {
			t.Fatal("Expected a failure")
		}
		if failure.Reason != store.ReasonInsufficientStock || failure.Available != 2 {
			t.Errorf("Expected insufficient_stock/available 2, got %+v", failure)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}

	if got := variantStock(t, db, product.ID, "M"); got != 2 {
		t.Errorf("Failed check must not mutate, got %d", got)
	}
	fetched, _ := store.GetProduct(ctx, db, product.ID)
	if fetched.TotalSold != 0 {
		t.Errorf("total_sold must stay 0, got %d", fetched.TotalSold)
	}
}

func TestRestoreStock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	product := seedProduct(t, db, "TEST-PRD-004", 100, map[string]int{"M": 5})

	var variantID int64
	for _, v := range product.Variants {
		variantID = v.ID
	}

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		return store.RestoreStock(ctx, tx, variantID, 3)
	})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if got := variantStock(t, db, product.ID, "M"); got != 8 {
		t.Errorf("Expected stock 8, got %d", got)
	}
}

func TestListProducts(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	for _, sku := range []string{"TEST-PRD-010", "TEST-PRD-011", "TEST-PRD-012"} {
		seedProduct(t, db, sku, 100, map[string]int{"default": 1})
	}

	page, err := store.ListProducts(context.Background(), db, 1, 2)
	if err != nil {
		t.Fatalf("List products: %v", err)
	}
	if page.Total != 3 {
		t.Errorf("Expected total 3, got %d", page.Total)
	}
	if page.TotalPages != 2 {
		t.Errorf("Expected 2 pages, got %d", page.TotalPages)
	}
}

func TestAdjustVariantStock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	product := seedProduct(t, db, "TEST-PRD-006", 100, map[string]int{"M": 5})

	newStock, err := store.AdjustVariantStock(ctx, db, product.ID, "M", 10)
	if err != nil {
		t.Fatalf("Adjust up: %v", err)
	}
	if newStock != 15 {
		t.Errorf("Expected stock 15, got %d", newStock)
	}

	newStock, err = store.AdjustVariantStock(ctx, db, product.ID, "M", -5)
	if err != nil {
		t.Fatalf("Adjust down: %v", err)
	}
	if newStock != 10 {
		t.Errorf("Expected stock 10, got %d", newStock)
	}

	var validationErr *store.ValidationError
	_, err = store.AdjustVariantStock(ctx, db, product.ID, "M", -11)
	if !errors.As(err, &validationErr) {
		t.Errorf("Expected ValidationError for negative result, got %v", err)
	}
	if got := variantStock(t, db, product.ID, "M"); got != 10 {
		t.Errorf("Expected stock unchanged at 10, got %d", got)
	}

	_, err = store.AdjustVariantStock(ctx, db, product.ID, "XL", 1)
	if !errors.Is(err, store.ErrVariantNotFound) {
		t.Errorf("Expected ErrVariantNotFound, got %v", err)
	}
}
