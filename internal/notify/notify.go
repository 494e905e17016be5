// Package notify is the fire-and-forget notification sink. Emission failures
// are logged and never propagate into the transaction that triggered them.
package notify

import (
	"context"
	"log/slog"
	"time"
)

type LowStockAlert struct {
	ProductID  int64     `json:"product_id"`
	SKU        string    `json:"sku"`
	VariantKey string    `json:"variant_key"`
	Remaining  int       `json:"remaining"`
	OccurredAt time.Time `json:"occurred_at"`
}

type AdminAlert struct {
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	OrderID    int64     `json:"order_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type OrderEvent struct {
	OrderID     int64     `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	CustomerRef string    `json:"customer_ref"`
	Status      string    `json:"status"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type Notifier interface {
	EmitLowStock(ctx context.Context, alert LowStockAlert)
	EmitAdminAlert(ctx context.Context, alert AdminAlert)
	EmitOrderEvent(ctx context.Context, event OrderEvent)
	Close() error
}

// LogNotifier writes alerts to the structured log. It is the sink when no
// broker is configured.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) EmitLowStock(_ context.Context, alert LowStockAlert) {
	n.log.Warn("low stock",
		slog.Int64("product_id", alert.ProductID),
		slog.String("sku", alert.SKU),
		slog.String("variant_key", alert.VariantKey),
		slog.Int("remaining", alert.Remaining),
	)
}

func (n *LogNotifier) EmitAdminAlert(_ context.Context, alert AdminAlert) {
	n.log.Warn("admin alert",
		slog.String("kind", alert.Kind),
		slog.String("message", alert.Message),
		slog.Int64("order_id", alert.OrderID),
	)
}

func (n *LogNotifier) EmitOrderEvent(_ context.Context, event OrderEvent) {
	n.log.Info("order event",
		slog.Int64("order_id", event.OrderID),
		slog.String("order_number", event.OrderNumber),
		slog.String("status", event.Status),
	)
}

func (n *LogNotifier) Close() error { return nil }
