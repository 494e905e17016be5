package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

// CancelOrder restores stock for every line item and moves the order to
// cancelled, all in one transaction. The status flip and the restores commit
// together, so a cancellation can never restore twice: a second attempt finds
// the order already cancelled and is rejected.
func CancelOrder(ctx context.Context, db *sql.DB, orderID int64, requester, reason string) error {
	return database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		var current models.OrderStatus
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM orders WHERE id = $1 FOR UPDATE`,
			orderID).Scan(&current)
		if err != nil {
			if err == sql.ErrNoRows {
				return ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		if !models.CancellableStatuses[current] {
			return &InvalidTransition{OrderID: orderID, From: current, To: models.StatusCancelled}
		}

		items, err := lockOrderItems(ctx, tx, orderID)
		if err != nil {
			return err
		}

		for _, item := range items {
			restore := item.Quantity - item.RefundedQuantity
			if restore <= 0 {
				continue
			}
			if err := RestoreStock(ctx, tx, item.VariantID, restore); err != nil {
				return fmt.Errorf("restore item %d: %w", item.ID, err)
			}
		}

		note := fmt.Sprintf("cancelled by %s: %s", requester, reason)
		return applyStatusChange(ctx, tx, orderID, models.StatusCancelled, note)
	})
}

type RefundItemRequest struct {
	OrderItemID int64
	Quantity    int
}

// RefundOrder restores stock and moves the order to refunded, or to partially
// refunded when specific items are named. Per-item refunded_quantity tracks
// what a partial refund already put back, so a later full refund restores
// only the remainder.
func RefundOrder(ctx context.Context, db *sql.DB, orderID int64, amount decimal.Decimal, items []RefundItemRequest) error {
	return database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		var (
			current models.OrderStatus
			total   decimal.Decimal
		)
		err := tx.QueryRowContext(ctx,
			`SELECT status, total FROM orders WHERE id = $1 FOR UPDATE`,
			orderID).Scan(&current, &total)
		if err != nil {
			if err == sql.ErrNoRows {
				return ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		if current == models.StatusCancelled || current == models.StatusRefunded {
			return &RefundError{OrderID: orderID, Message: fmt.Sprintf("order is %s", current)}
		}
		if amount.GreaterThan(total) {
			return &RefundError{OrderID: orderID, Message: fmt.Sprintf("amount %s exceeds order total %s", amount, total)}
		}

		orderItems, err := lockOrderItems(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if len(items) > 0 {
			byID := make(map[int64]*orderItemRow, len(orderItems))
			for i := range orderItems {
				byID[orderItems[i].ID] = &orderItems[i]
			}
			for _, r := range items {
				row, ok := byID[r.OrderItemID]
				if !ok {
					return &RefundError{OrderID: orderID, Message: fmt.Sprintf("item %d does not belong to order", r.OrderItemID)}
				}
				if r.Quantity <= 0 || r.Quantity > row.Quantity-row.RefundedQuantity {
					return &RefundError{OrderID: orderID, Message: fmt.Sprintf("item %d: invalid refund quantity %d", r.OrderItemID, r.Quantity)}
				}
				if err := RestoreStock(ctx, tx, row.VariantID, r.Quantity); err != nil {
					return fmt.Errorf("restore item %d: %w", r.OrderItemID, err)
				}
				if err := markRefunded(ctx, tx, r.OrderItemID, r.Quantity); err != nil {
					return err
				}
			}
			note := fmt.Sprintf("partial refund of %s", amount)
			return applyStatusChange(ctx, tx, orderID, models.StatusPartiallyRefunded, note)
		}

		for _, row := range orderItems {
			restore := row.Quantity - row.RefundedQuantity
			if restore <= 0 {
				continue
			}
			if err := RestoreStock(ctx, tx, row.VariantID, restore); err != nil {
				return fmt.Errorf("restore item %d: %w", row.ID, err)
			}
			if err := markRefunded(ctx, tx, row.ID, restore); err != nil {
				return err
			}
		}
		note := fmt.Sprintf("full refund of %s", amount)
		return applyStatusChange(ctx, tx, orderID, models.StatusRefunded, note)
	})
}

type orderItemRow struct {
	ID               int64
	VariantID        int64
	Quantity         int
	RefundedQuantity int
}

func lockOrderItems(ctx context.Context, tx *sql.Tx, orderID int64) ([]orderItemRow, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, variant_id, quantity, refunded_quantity
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id
		 FOR UPDATE`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("lock order items: %w", err)
	}
	defer rows.Close()

	var items []orderItemRow
	for rows.Next() {
		var item orderItemRow
		if err := rows.Scan(&item.ID, &item.VariantID, &item.Quantity, &item.RefundedQuantity); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func markRefunded(ctx context.Context, tx *sql.Tx, orderItemID int64, quantity int) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE order_items
		 SET refunded_quantity = refunded_quantity + $1
		 WHERE id = $2`,
		quantity, orderItemID)
	if err != nil {
		return fmt.Errorf("mark refunded: %w", err)
	}
	return nil
}
