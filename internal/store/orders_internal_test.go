package store

import (
	"strings"
	"testing"
)

func validDraft() CreateOrderRequest {
	return CreateOrderRequest{
		CustomerRef:     "cust-1",
		PaymentMethod:   "card",
		ShippingName:    "A Customer",
		ShippingAddress: "1 Main Street",
		Items: []OrderItemRequest{
			{ProductID: 1, VariantKey: "M", Quantity: 2},
		},
	}
}

func TestValidateCreateOrder(t *testing.T) {
	if err := validateCreateOrder(validDraft()); err != nil {
		t.Fatalf("valid draft rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*CreateOrderRequest)
		field  string
	}{
		{"empty customer", func(r *CreateOrderRequest) { r.CustomerRef = "" }, "customer_ref"},
		{"no items", func(r *CreateOrderRequest) { r.Items = nil }, "items"},
		{"zero quantity", func(r *CreateOrderRequest) { r.Items[0].Quantity = 0 }, "items[0].quantity"},
		{"negative quantity", func(r *CreateOrderRequest) { r.Items[0].Quantity = -1 }, "items[0].quantity"},
		{"missing variant", func(r *CreateOrderRequest) { r.Items[0].VariantKey = "" }, "items[0].variant_key"},
		{"bad product id", func(r *CreateOrderRequest) { r.Items[0].ProductID = 0 }, "items[0].product_id"},
		{"missing shipping name", func(r *CreateOrderRequest) { r.ShippingName = "" }, "shipping_name"},
		{"missing address", func(r *CreateOrderRequest) { r.ShippingAddress = "" }, "shipping_address"},
		{"unknown payment method", func(r *CreateOrderRequest) { r.PaymentMethod = "iou" }, "payment_method"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := validDraft()
			c.mutate(&req)
			err := validateCreateOrder(req)
			vErr, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("expected ValidationError, got: %v", err)
			}
			if vErr.Field != c.field {
				t.Errorf("expected field %s, got %s", c.field, vErr.Field)
			}
		})
	}
}

func TestGenerateOrderNumber(t *testing.T) {
	n := generateOrderNumber()
	if !strings.HasPrefix(n, "ORD-") {
		t.Errorf("unexpected format: %s", n)
	}
	if n == generateOrderNumber() && n == generateOrderNumber() {
		t.Error("consecutive order numbers should differ")
	}
}

func TestMapEventType(t *testing.T) {
	for _, eventType := range []string{"authorized", "captured", "paid", "failed", "refund_initiated", "refunded"} {
		if _, ok := MapEventType(eventType); !ok {
			t.Errorf("%s should be a known event type", eventType)
		}
	}
	if _, ok := MapEventType("dispute_opened"); ok {
		t.Error("unknown event types must be rejected")
	}

	m, _ := MapEventType("refund_initiated")
	if !m.skipOrderStatus {
		t.Error("refund_initiated must leave the order status alone")
	}
	m, _ = MapEventType("captured")
	if m.skipOrderStatus {
		t.Error("captured must move the order status")
	}
}

func TestStockUnavailableError(t *testing.T) {
	err := &StockUnavailable{Items: []ItemFailure{
		{ProductID: 1, VariantKey: "M", Requested: 3, Reason: ReasonInsufficientStock, Available: 2},
		{ProductID: 2, VariantKey: "XL", Requested: 1, Reason: ReasonVariantNotFound},
	}}
	msg := err.Error()
	if !strings.Contains(msg, "available 2") {
		t.Errorf("message should carry the available count: %s", msg)
	}
	if !strings.Contains(msg, "not found") {
		t.Errorf("message should name the missing variant: %s", msg)
	}
}
