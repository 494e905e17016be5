package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/store"
)

func seedOrder(t *testing.T, db *sql.DB, customerRef string) *models.Order {
	t.Helper()
	product := seedProduct(t, db, "TEST-PAY-"+customerRef, 100, map[string]int{"default": 10})
	result, err := store.CreateOrder(context.Background(), db, testParams(), draftOrder(customerRef,
		store.OrderItemRequest{ProductID: product.ID, VariantKey: "default", Quantity: 1}))
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}
	return result.Order
}

func TestApplyPaymentEvent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	order := seedOrder(t, db, "c1")

	result, err := store.ApplyPaymentEvent(ctx, db, store.PaymentEventRequest{
		EventID: "evt-1",
		Type:    "captured",
		OrderID: order.ID,
		Payload: json.RawMessage(`{"gateway_ref":"ch_123"}`),
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result.OrderStatus != models.StatusProcessing || result.PaymentStatus != models.PaymentStatusPaid {
		t.Errorf("Expected processing/paid, got %s/%s", result.OrderStatus, result.PaymentStatus)
	}
	if result.Replay {
		t.Error("First apply must not be a replay")
	}

	fetched, err := store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if fetched.Status != models.StatusProcessing {
		t.Errorf("Expected processing, got %s", fetched.Status)
	}
	var details map[string]any
	if err := json.Unmarshal(fetched.PaymentDetails, &details); err != nil {
		t.Fatalf("Unmarshal payment details: %v", err)
	}
	if details["gateway_ref"] != "ch_123" {
		t.Errorf("Payload should be merged into payment details, got %v", details)
	}
}

func TestApplyPaymentEventIdempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	order := seedOrder(t, db, "c2")

	event := store.PaymentEventRequest{
		EventID: "evt-dup",
		Type:    "captured",
		OrderID: order.ID,
		Payload: json.RawMessage(`{"gateway_ref":"ch_456"}`),
	}

	first, err := store.ApplyPaymentEvent(ctx, db, event)
	if err != nil {
		t.Fatalf("First apply: %v", err)
	}
	afterFirst, err := store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}

	second, err := store.ApplyPaymentEvent(ctx, db, event)
	if err != nil {
		t.Fatalf("Second apply: %v", err)
	}
	if !second.Replay {
		t.Error("Redelivery should be served from the ledger")
	}
	if second.OrderStatus != first.OrderStatus || second.PaymentStatus != first.PaymentStatus {
		t.Errorf("Replay must return the recorded outcome: %+v vs %+v", first, second)
	}

	afterSecond, err := store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if len(afterSecond.History) != len(afterFirst.History) {
		t.Errorf("Replay must not append history: %d -> %d", len(afterFirst.History), len(afterSecond.History))
	}
	if afterSecond.Version != afterFirst.Version {
		t.Errorf("Replay must not touch the order row: version %d -> %d", afterFirst.Version, afterSecond.Version)
	}
}

func TestApplyPaymentEventUnknownOrder(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := store.ApplyPaymentEvent(context.Background(), db, store.PaymentEventRequest{
		EventID: "evt-orphan",
		Type:    "captured",
		OrderID: 999999,
	})
	var reconErr *store.ReconciliationError
	if !errors.As(err, &reconErr) {
		t.Fatalf("Expected reconciliation error, got: %v", err)
	}
}

func TestApplyPaymentEventUnknownType(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	order := seedOrder(t, db, "c3")
	_, err := store.ApplyPaymentEvent(context.Background(), db, store.PaymentEventRequest{
		EventID: "evt-weird",
		Type:    "chargeback_reversed",
		OrderID: order.ID,
	})
	var reconErr *store.ReconciliationError
	if !errors.As(err, &reconErr) {
		t.Fatalf("Expected reconciliation error, got: %v", err)
	}
}

func TestRefundInitiatedKeepsOrderStatus(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	order := seedOrder(t, db, "c4")

	if _, err := store.ApplyPaymentEvent(ctx, db, store.PaymentEventRequest{
		EventID: "evt-cap", Type: "captured", OrderID: order.ID,
	}); err != nil {
		t.Fatalf("Apply captured: %v", err)
	}

	result, err := store.ApplyPaymentEvent(ctx, db, store.PaymentEventRequest{
		EventID: "evt-ri", Type: "refund_initiated", OrderID: order.ID,
	})
	if err != nil {
		t.Fatalf("Apply refund_initiated: %v", err)
	}
	if result.OrderStatus != models.StatusProcessing {
		t.Errorf("refund_initiated must not move the order, got %s", result.OrderStatus)
	}
	if result.PaymentStatus != models.PaymentStatusRefundInitiated {
		t.Errorf("Expected refund_initiated payment status, got %s", result.PaymentStatus)
	}
}
