package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
)

// Reserve places a soft hold on a variant. Availability is the committed
// stock minus every unexpired hold on the variant, computed under a row lock
// so two sessions cannot both claim the last unit. The hold never touches the
// stock column.
func Reserve(ctx context.Context, db *sql.DB, productID int64, variantKey string, quantity int, sessionID string, ttl time.Duration) (*models.Reservation, error) {
	if quantity <= 0 {
		return nil, &ValidationError{Field: "quantity", Message: "must be positive"}
	}

	var reservation *models.Reservation

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		var variantID int64
		var stock int
		err := tx.QueryRowContext(ctx,
			`SELECT id, stock
			 FROM product_variants
			 WHERE product_id = $1 AND variant_key = $2
			 FOR UPDATE`,
			productID, variantKey).Scan(&variantID, &stock)
		if err != nil {
			if err == sql.ErrNoRows {
				return ErrVariantNotFound
			}
			return fmt.Errorf("lock variant: %w", err)
		}

		var held int
		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(quantity), 0)
			 FROM reservations
			 WHERE variant_id = $1 AND expires_at > NOW()`,
			variantID).Scan(&held)
		if err != nil {
			return fmt.Errorf("sum holds: %w", err)
		}

		available := stock - held
		if available < quantity {
			return &StockUnavailable{Items: []ItemFailure{{
				ProductID:  productID,
				VariantKey: variantKey,
				Requested:  quantity,
				Reason:     ReasonInsufficientStock,
				Available:  available,
			}}}
		}

		reservation = &models.Reservation{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			VariantID: variantID,
			Quantity:  quantity,
		}
		err = tx.QueryRowContext(ctx,
			`INSERT INTO reservations (id, session_id, variant_id, quantity, expires_at, created_at)
			 VALUES ($1, $2, $3, $4, NOW() + $5::interval, NOW())
			 RETURNING expires_at, created_at`,
			reservation.ID, sessionID, variantID, quantity,
			fmt.Sprintf("%d milliseconds", ttl.Milliseconds())).Scan(
			&reservation.ExpiresAt, &reservation.CreatedAt)
		if err != nil {
			return fmt.Errorf("create reservation: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return reservation, nil
}

// Release deletes the hold unconditionally. A missing id reports
// ErrReservationNotFound so callers can distinguish a double release.
func Release(ctx context.Context, db *sql.DB, reservationID string) error {
	result, err := db.ExecContext(ctx,
		`DELETE FROM reservations WHERE id = $1`, reservationID)
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrReservationNotFound
	}

	return nil
}

// SweepExpired removes holds whose TTL has lapsed. It only ever deletes rows
// that are already expired, so it is safe to run concurrently with Reserve
// and with itself.
func SweepExpired(ctx context.Context, db *sql.DB) (int64, error) {
	result, err := db.ExecContext(ctx,
		`DELETE FROM reservations WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("sweep expired reservations: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// VariantAvailability reports committed stock minus unexpired holds, the
// number the storefront shows during checkout.
func VariantAvailability(ctx context.Context, db *sql.DB, productID int64, variantKey string) (int, error) {
	var available int
	err := db.QueryRowContext(ctx,
		`SELECT v.stock - COALESCE((
		     SELECT SUM(r.quantity) FROM reservations r
		     WHERE r.variant_id = v.id AND r.expires_at > NOW()
		 ), 0)
		 FROM product_variants v
		 WHERE v.product_id = $1 AND v.variant_key = $2`,
		productID, variantKey).Scan(&available)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrVariantNotFound
		}
		return 0, fmt.Errorf("variant availability: %w", err)
	}
	return available, nil
}
