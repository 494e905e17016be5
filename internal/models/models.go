package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID                int64            `json:"id"`
	SKU               string           `json:"sku"`
	Name              string           `json:"name"`
	Description       string           `json:"description,omitempty"`
	Price             decimal.Decimal  `json:"price"`
	TotalSold         int              `json:"total_sold"`
	LowStockThreshold int              `json:"low_stock_threshold"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	Version           int              `json:"version"`
	Variants          []ProductVariant `json:"variants,omitempty"`
}

// ProductVariant carries the sellable stock. A product with no options still
// has exactly one variant with VariantKey "default".
type ProductVariant struct {
	ID         int64     `json:"id"`
	ProductID  int64     `json:"product_id"`
	VariantKey string    `json:"variant_key"`
	Stock      int       `json:"stock"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Order struct {
	ID              int64                `json:"id"`
	OrderNumber     string               `json:"order_number"`
	CustomerRef     string               `json:"customer_ref"`
	Status          OrderStatus          `json:"status"`
	PaymentStatus   PaymentStatus        `json:"payment_status"`
	PaymentMethod   string               `json:"payment_method,omitempty"`
	ShippingName    string               `json:"shipping_name"`
	ShippingAddress string               `json:"shipping_address"`
	Subtotal        decimal.Decimal      `json:"subtotal"`
	Tax             decimal.Decimal      `json:"tax"`
	Shipping        decimal.Decimal      `json:"shipping"`
	Total           decimal.Decimal      `json:"total"`
	PaymentDetails  json.RawMessage      `json:"payment_details,omitempty"`
	IdempotencyKey  string               `json:"idempotency_key,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	Version         int                  `json:"version"`
	Items           []OrderItem          `json:"items,omitempty"`
	History         []StatusHistoryEntry `json:"history,omitempty"`
}

type OrderItem struct {
	ID         int64           `json:"id"`
	OrderID    int64           `json:"order_id"`
	ProductID  int64           `json:"product_id"`
	VariantID  int64           `json:"variant_id"`
	SKU        string          `json:"sku"`
	VariantKey string          `json:"variant_key"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	// RefundedQuantity counts units already restored to stock by refunds.
	RefundedQuantity int       `json:"refunded_quantity"`
	CreatedAt        time.Time `json:"created_at"`
}

type StatusHistoryEntry struct {
	ID        int64       `json:"id"`
	OrderID   int64       `json:"order_id"`
	Status    OrderStatus `json:"status"`
	Note      string      `json:"note,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Reservation is a soft hold on variant stock. It never decrements the stock
// column; availability is computed as stock minus the sum of unexpired holds.
type Reservation struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	VariantID int64     `json:"variant_id"`
	Quantity  int       `json:"quantity"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// PaymentEvent is the ledger row for a processed gateway event. Its presence
// means the event was already applied; replays return the recorded outcome.
type PaymentEvent struct {
	EventID       string        `json:"event_id"`
	EventType     string        `json:"event_type"`
	OrderID       int64         `json:"order_id"`
	OrderStatus   OrderStatus   `json:"order_status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	ProcessedAt   time.Time     `json:"processed_at"`
}
