package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
)

type PaymentEventRequest struct {
	EventID string
	Type    string
	OrderID int64
	Payload json.RawMessage
}

type ReconciliationResult struct {
	EventID       string               `json:"event_id"`
	OrderID       int64                `json:"order_id"`
	OrderStatus   models.OrderStatus   `json:"order_status"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	Replay        bool                 `json:"replay"`
}

// ReconciliationError covers an event the gateway should be told to fix:
// an unknown order or an unrecognized event type.
type ReconciliationError struct {
	EventID string
	Message string
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation failed for event %s: %s", e.EventID, e.Message)
}

type eventMapping struct {
	orderStatus   models.OrderStatus
	paymentStatus models.PaymentStatus
	// refund_initiated only advances the payment status; the order itself
	// stays where it is until the gateway confirms the refund.
	skipOrderStatus bool
}

var eventTypeMap = map[string]eventMapping{
	"authorized":       {orderStatus: models.StatusPaymentProcessing, paymentStatus: models.PaymentStatusAuthorized},
	"captured":         {orderStatus: models.StatusProcessing, paymentStatus: models.PaymentStatusPaid},
	"paid":             {orderStatus: models.StatusProcessing, paymentStatus: models.PaymentStatusPaid},
	"failed":           {orderStatus: models.StatusPaymentFailed, paymentStatus: models.PaymentStatusFailed},
	"refund_initiated": {paymentStatus: models.PaymentStatusRefundInitiated, skipOrderStatus: true},
	"refunded":         {orderStatus: models.StatusRefunded, paymentStatus: models.PaymentStatusRefunded},
}

// MapEventType resolves a gateway event type to its target statuses.
func MapEventType(eventType string) (eventMapping, bool) {
	m, ok := eventTypeMap[eventType]
	return m, ok
}

// ApplyPaymentEvent reconciles one gateway event against its order. The
// event ledger makes it idempotent: a replayed eventId returns the recorded
// outcome without touching the order again. The gateway is authoritative, so
// the target status is applied without consulting the transition table; the
// ledger is what prevents stale replays from rewinding an order.
func ApplyPaymentEvent(ctx context.Context, db *sql.DB, req PaymentEventRequest) (*ReconciliationResult, error) {
	mapping, ok := eventTypeMap[req.Type]
	if !ok {
		return nil, &ReconciliationError{EventID: req.EventID, Message: fmt.Sprintf("unknown event type %q", req.Type)}
	}

	var result *ReconciliationResult

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		result = nil

		prior, err := getProcessedEvent(ctx, tx, req.EventID)
		if err != nil {
			return err
		}
		if prior != nil {
			result = prior
			return nil
		}

		var currentStatus models.OrderStatus
		err = tx.QueryRowContext(ctx,
			`SELECT status FROM orders WHERE id = $1 FOR UPDATE`,
			req.OrderID).Scan(&currentStatus)
		if err != nil {
			if err == sql.ErrNoRows {
				return &ReconciliationError{EventID: req.EventID, Message: fmt.Sprintf("order %d not found", req.OrderID)}
			}
			return fmt.Errorf("lock order: %w", err)
		}

		targetStatus := currentStatus
		if !mapping.skipOrderStatus {
			targetStatus = mapping.orderStatus
		}

		payload := req.Payload
		if len(payload) == 0 {
			payload = json.RawMessage("{}")
		}

		// || is a shallow merge: incoming keys win, untouched keys survive
		_, err = tx.ExecContext(ctx,
			`UPDATE orders
			 SET status = $1,
			     payment_status = $2,
			     payment_details = COALESCE(payment_details, '{}'::jsonb) || $3::jsonb,
			     version = version + 1,
			     updated_at = NOW()
			 WHERE id = $4`,
			targetStatus, mapping.paymentStatus, []byte(payload), req.OrderID)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		if targetStatus != currentStatus {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO order_status_history (order_id, status, note, created_at)
				 VALUES ($1, $2, $3, NOW())`,
				req.OrderID, targetStatus, fmt.Sprintf("payment event %s", req.Type))
			if err != nil {
				return fmt.Errorf("append status history: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO payment_events (event_id, event_type, order_id, order_status, payment_status, processed_at)
			 VALUES ($1, $2, $3, $4, $5, NOW())`,
			req.EventID, req.Type, req.OrderID, targetStatus, mapping.paymentStatus)
		if err != nil {
			return fmt.Errorf("record payment event: %w", err)
		}

		result = &ReconciliationResult{
			EventID:       req.EventID,
			OrderID:       req.OrderID,
			OrderStatus:   targetStatus,
			PaymentStatus: mapping.paymentStatus,
		}
		return nil
	})

	if err != nil {
		// a concurrent delivery of this eventId won the race to the ledger;
		// serve the recorded outcome instead of failing
		if database.IsUniqueViolation(err, "payment_events_pkey") {
			return fetchProcessedEvent(ctx, db, req.EventID)
		}
		return nil, err
	}

	return result, nil
}

func fetchProcessedEvent(ctx context.Context, db *sql.DB, eventID string) (*ReconciliationResult, error) {
	var prior ReconciliationResult
	err := db.QueryRowContext(ctx,
		`SELECT event_id, order_id, order_status, payment_status
		 FROM payment_events
		 WHERE event_id = $1`,
		eventID).Scan(&prior.EventID, &prior.OrderID, &prior.OrderStatus, &prior.PaymentStatus)
	if err != nil {
		return nil, fmt.Errorf("fetch processed event: %w", err)
	}
	prior.Replay = true
	return &prior, nil
}

func getProcessedEvent(ctx context.Context, tx *sql.Tx, eventID string) (*ReconciliationResult, error) {
	var prior ReconciliationResult
	err := tx.QueryRowContext(ctx,
		`SELECT event_id, order_id, order_status, payment_status
		 FROM payment_events
		 WHERE event_id = $1`,
		eventID).Scan(&prior.EventID, &prior.OrderID, &prior.OrderStatus, &prior.PaymentStatus)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check event ledger: %w", err)
	}
	prior.Replay = true
	return &prior, nil
}
