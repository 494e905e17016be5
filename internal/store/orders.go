package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

type CreateOrderRequest struct {
	CustomerRef     string
	IdempotencyKey  string
	PaymentMethod   string
	ShippingName    string
	ShippingAddress string
	Items           []OrderItemRequest
}

type OrderItemRequest struct {
	ProductID  int64
	VariantKey string
	Quantity   int
}

// CheckoutParams carries the pricing and retry knobs the orchestrator needs.
// Values come from config; the store never reads the environment itself.
type CheckoutParams struct {
	TaxRate      decimal.Decimal
	ShippingFlat decimal.Decimal
	MaxRetries   int
	Deadline     time.Duration
}

// LowStockAlert is recorded during a committed decrement and emitted by the
// caller only after the transaction commits.
type LowStockAlert struct {
	ProductID  int64
	SKU        string
	VariantKey string
	Remaining  int
	Threshold  int
}

type CreateOrderResult struct {
	Order    *models.Order
	LowStock []LowStockAlert
}

var validPaymentMethods = map[string]bool{
	"card":          true,
	"bank_transfer": true,
	"wallet":        true,
	"cod":           true,
}

// The timestamp keeps order numbers roughly sortable; the uuid fragment, plus
// the unique index and regenerate-on-conflict in CreateOrder, makes them
// collision-safe.
func generateOrderNumber() string {
	return fmt.Sprintf("ORD-%d-%s", time.Now().Unix(), uuid.NewString()[:8])
}

func validateCreateOrder(req CreateOrderRequest) error {
	if req.CustomerRef == "" {
		return &ValidationError{Field: "customer_ref", Message: "must not be empty"}
	}
	if len(req.Items) == 0 {
		return &ValidationError{Field: "items", Message: "must contain at least one item"}
	}
	for i, item := range req.Items {
		if item.ProductID <= 0 {
			return &ValidationError{Field: fmt.Sprintf("items[%d].product_id", i), Message: "must be positive"}
		}
		if item.VariantKey == "" {
			return &ValidationError{Field: fmt.Sprintf("items[%d].variant_key", i), Message: "must not be empty"}
		}
		if item.Quantity <= 0 {
			return &ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Message: "must be positive"}
		}
	}
	if req.ShippingName == "" {
		return &ValidationError{Field: "shipping_name", Message: "must not be empty"}
	}
	if req.ShippingAddress == "" {
		return &ValidationError{Field: "shipping_address", Message: "must not be empty"}
	}
	if !validPaymentMethods[req.PaymentMethod] {
		return &ValidationError{Field: "payment_method", Message: "unrecognized payment method"}
	}
	return nil
}

// CreateOrder validates the draft, then atomically decrements stock for every
// line item and persists the order in one serializable transaction, retried
// on contention. A stock shortfall on any item aborts the whole attempt and
// reports every failing item. Low-stock alerts are returned to the caller for
// emission after commit so an aborted attempt never produces one.
func CreateOrder(ctx context.Context, db *sql.DB, params CheckoutParams, req CreateOrderRequest) (*CreateOrderResult, error) {
	if err := validateCreateOrder(req); err != nil {
		return nil, err
	}

	var (
		order    *models.Order
		lowStock []LowStockAlert
	)

	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     params.MaxRetries,
		Deadline:       params.Deadline,
	}, func(tx *sql.Tx) error {
		// attempts may be retried; start each one clean
		order = nil
		lowStock = lowStock[:0]

		if req.IdempotencyKey != "" {
			var existingID int64
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM orders WHERE customer_ref = $1 AND idempotency_key = $2`,
				req.CustomerRef, req.IdempotencyKey).Scan(&existingID)
			if err == nil {
				return ErrDuplicateOrder
			}
			if err != sql.ErrNoRows {
				return fmt.Errorf("check idempotency key: %w", err)
			}
		}

		var (
			failures []ItemFailure
			results  = make([]*DecrementResult, len(req.Items))
			subtotal decimal.Decimal
		)

		for i, item := range req.Items {
			res, failure, err := TryDecrementStock(ctx, tx, item.ProductID, item.VariantKey, item.Quantity)
			if err != nil {
				return err
			}
			if failure != nil {
				failures = append(failures, *failure)
				continue
			}
			results[i] = res
			subtotal = subtotal.Add(res.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}

		// the rollback undoes every decrement that did go through, so the
		// failure list can cover all items without partial writes surviving
		if len(failures) > 0 {
			return &StockUnavailable{Items: failures}
		}

		tax := subtotal.Mul(params.TaxRate).Round(2)
		total := subtotal.Add(tax).Add(params.ShippingFlat)

		var orderID int64
		var orderNumber string
		for attempt := 0; ; attempt++ {
			orderNumber = generateOrderNumber()
			err := tx.QueryRowContext(ctx,
				`INSERT INTO orders (order_number, customer_ref, status, payment_status, payment_method,
				                     shipping_name, shipping_address, subtotal, tax, shipping, total,
				                     idempotency_key, created_at, updated_at, version)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), NOW(), NOW(), 1)
				 RETURNING id`,
				orderNumber, req.CustomerRef, models.StatusPending, models.PaymentStatusPending,
				req.PaymentMethod, req.ShippingName, req.ShippingAddress,
				subtotal, tax, params.ShippingFlat, total, req.IdempotencyKey).Scan(&orderID)
			if err == nil {
				break
			}
			if database.IsUniqueViolation(err, "orders_order_number_key") && attempt < 2 {
				continue
			}
			if database.IsUniqueViolation(err, "orders_customer_ref_idempotency_key_key") {
				return ErrDuplicateOrder
			}
			return fmt.Errorf("create order: %w", err)
		}

		for i, item := range req.Items {
			res := results[i]
			itemSubtotal := res.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
			_, err := tx.ExecContext(ctx,
				`INSERT INTO order_items (order_id, product_id, variant_id, sku, variant_key, quantity, unit_price, subtotal, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`,
				orderID, item.ProductID, res.VariantID, res.SKU, item.VariantKey,
				item.Quantity, res.UnitPrice, itemSubtotal)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}

			if res.LowStock {
				lowStock = append(lowStock, LowStockAlert{
					ProductID:  item.ProductID,
					SKU:        res.SKU,
					VariantKey: item.VariantKey,
					Remaining:  res.NewStock,
				})
			}
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO order_status_history (order_id, status, note, created_at)
			 VALUES ($1, $2, $3, NOW())`,
			orderID, models.StatusPending, "order created")
		if err != nil {
			return fmt.Errorf("seed status history: %w", err)
		}

		order = &models.Order{ID: orderID}
		err = tx.QueryRowContext(ctx,
			`SELECT order_number, customer_ref, status, payment_status, payment_method,
			        shipping_name, shipping_address, subtotal, tax, shipping, total,
			        created_at, updated_at, version
			 FROM orders WHERE id = $1`,
			orderID).Scan(
			&order.OrderNumber,
			&order.CustomerRef,
			&order.Status,
			&order.PaymentStatus,
			&order.PaymentMethod,
			&order.ShippingName,
			&order.ShippingAddress,
			&order.Subtotal,
			&order.Tax,
			&order.Shipping,
			&order.Total,
			&order.CreatedAt,
			&order.UpdatedAt,
			&order.Version,
		)
		if err != nil {
			return fmt.Errorf("fetch created order: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return &CreateOrderResult{Order: order, LowStock: lowStock}, nil
}

// GetOrderByIdempotencyKey serves replayed checkout requests.
func GetOrderByIdempotencyKey(ctx context.Context, db *sql.DB, customerRef, key string) (*models.Order, error) {
	var id int64
	err := db.QueryRowContext(ctx,
		`SELECT id FROM orders WHERE customer_ref = $1 AND idempotency_key = $2`,
		customerRef, key).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by idempotency key: %w", err)
	}
	return GetOrder(ctx, db, id)
}

func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	order := &models.Order{}

	query := `
		SELECT id, order_number, customer_ref, status, payment_status, payment_method,
		       shipping_name, shipping_address, subtotal, tax, shipping, total,
		       COALESCE(payment_details, '{}'), created_at, updated_at, version
		FROM orders
		WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&order.ID,
		&order.OrderNumber,
		&order.CustomerRef,
		&order.Status,
		&order.PaymentStatus,
		&order.PaymentMethod,
		&order.ShippingName,
		&order.ShippingAddress,
		&order.Subtotal,
		&order.Tax,
		&order.Shipping,
		&order.Total,
		&order.PaymentDetails,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	itemsQuery := `
		SELECT id, order_id, product_id, variant_id, sku, variant_key, quantity, unit_price, subtotal, refunded_quantity, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`

	rows, err := db.QueryContext(ctx, itemsQuery, id)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.VariantID,
			&item.SKU,
			&item.VariantKey,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.RefundedQuantity,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	order.Items = items

	historyRows, err := db.QueryContext(ctx,
		`SELECT id, order_id, status, COALESCE(note, ''), created_at
		 FROM order_status_history
		 WHERE order_id = $1
		 ORDER BY id`,
		id)
	if err != nil {
		return nil, fmt.Errorf("get status history: %w", err)
	}
	defer historyRows.Close()

	var history []models.StatusHistoryEntry
	for historyRows.Next() {
		var entry models.StatusHistoryEntry
		err := historyRows.Scan(&entry.ID, &entry.OrderID, &entry.Status, &entry.Note, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		history = append(history, entry)
	}
	if err := historyRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	order.History = history

	return order, nil
}

// UpdateOrderStatus validates the transition, flips the status, and appends a
// history entry in one transaction. A self-transition is a legal no-op and
// does not append a duplicate entry.
func UpdateOrderStatus(ctx context.Context, db *sql.DB, orderID int64, next models.OrderStatus, note string) error {
	return database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
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

		if !models.CanTransition(current, next) {
			return &InvalidTransition{OrderID: orderID, From: current, To: next}
		}
		if current == next {
			return nil
		}

		return applyStatusChange(ctx, tx, orderID, next, note)
	})
}

// applyStatusChange writes the status flip and its history entry. Callers
// have already validated the transition and hold the row lock.
func applyStatusChange(ctx context.Context, tx *sql.Tx, orderID int64, next models.OrderStatus, note string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE orders
		 SET status = $1, version = version + 1, updated_at = NOW()
		 WHERE id = $2`,
		next, orderID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO order_status_history (order_id, status, note, created_at)
		 VALUES ($1, $2, $3, NOW())`,
		orderID, next, note)
	if err != nil {
		return fmt.Errorf("append status history: %w", err)
	}

	return nil
}

func ListOrdersCursor(ctx context.Context, db *sql.DB, customerRef string, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT id, order_number, customer_ref, status, payment_status, total, created_at, updated_at, version
		FROM orders
		WHERE customer_ref = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, customerRef, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		err := rows.Scan(
			&order.ID,
			&order.OrderNumber,
			&order.CustomerRef,
			&order.Status,
			&order.PaymentStatus,
			&order.Total,
			&order.CreatedAt,
			&order.UpdatedAt,
			&order.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}
