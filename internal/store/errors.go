package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/safar/go-storefront/internal/models"
)

var (
	ErrProductNotFound     = errors.New("product not found")
	ErrVariantNotFound     = errors.New("variant not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrDuplicateOrder      = errors.New("duplicate order for idempotency key")
)

// ValidationError rejects a draft order before any mutation. Field names the
// offending input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// ItemFailure explains why one line item could not be fulfilled. Available is
// only meaningful when Reason is ReasonInsufficientStock.
type ItemFailure struct {
	ProductID  int64  `json:"product_id"`
	VariantKey string `json:"variant_key"`
	Requested  int    `json:"requested"`
	Reason     string `json:"reason"`
	Available  int    `json:"available,omitempty"`
}

const (
	ReasonVariantNotFound   = "variant_not_found"
	ReasonInsufficientStock = "insufficient_stock"
)

// StockUnavailable aborts a whole creation attempt. Items lists every failing
// line item, not just the first one, so the caller can show the customer the
// full picture in one round trip.
type StockUnavailable struct {
	Items []ItemFailure
}

func (e *StockUnavailable) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		if it.Reason == ReasonInsufficientStock {
			parts = append(parts, fmt.Sprintf("product %d variant %q: requested %d, available %d",
				it.ProductID, it.VariantKey, it.Requested, it.Available))
		} else {
			parts = append(parts, fmt.Sprintf("product %d variant %q: not found",
				it.ProductID, it.VariantKey))
		}
	}
	return "stock unavailable: " + strings.Join(parts, "; ")
}

// InvalidTransition rejects an illegal order status change.
type InvalidTransition struct {
	OrderID int64
	From    models.OrderStatus
	To      models.OrderStatus
}

func (e *InvalidTransition) Error() string {
	return fmt.Sprintf("order %d: invalid transition %s -> %s", e.OrderID, e.From, e.To)
}

// RefundError rejects a refund request on business grounds.
type RefundError struct {
	OrderID int64
	Message string
}

func (e *RefundError) Error() string {
	return fmt.Sprintf("refund rejected for order %d: %s", e.OrderID, e.Message)
}
