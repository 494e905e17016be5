package database

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"
)

type TxOptions struct {
	IsolationLevel sql.IsolationLevel
	ReadOnly       bool
	MaxRetries     int
	// Deadline bounds the total wall-clock time spent across all attempts,
	// backoff sleeps included. Zero means no bound beyond ctx.
	Deadline time.Duration
}

func DefaultTxOptions() TxOptions {
	return TxOptions{
		IsolationLevel: sql.LevelReadCommitted,
		ReadOnly:       false,
		MaxRetries:     3,
	}
}

// SerializableTxOptions is what every contention-prone mutation uses:
// serializable isolation, a small retry budget, and an overall deadline so a
// hot variant cannot pin a request indefinitely.
func SerializableTxOptions() TxOptions {
	return TxOptions{
		IsolationLevel: sql.LevelSerializable,
		MaxRetries:     3,
		Deadline:       5 * time.Second,
	}
}

func WithTransaction(ctx context.Context, db *sql.DB, opts TxOptions, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{
		Isolation: opts.IsolationLevel,
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// Backoff returns the sleep before retry number attempt (0-based), without
// jitter. The schedule doubles from 50ms.
func Backoff(attempt int) time.Duration {
	d := 50 * time.Millisecond
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

func sleepWithJitter(ctx context.Context, base time.Duration) error {
	jitter := time.Duration(rand.Int63n(int64(base / 4)))
	select {
	case <-time.After(base + jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WithRetry runs fn in a transaction, retrying on transient contention
// (serialization failures, deadlocks, lock timeouts) with exponential backoff
// plus jitter. Permanent errors abort immediately. When the attempt budget or
// the deadline runs out, the returned error wraps both ErrRetryExhausted and
// the last transient failure.
func WithRetry(ctx context.Context, db *sql.DB, opts TxOptions, fn func(*sql.Tx) error) error {
	if opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Deadline)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("%w: %w", ErrRetryExhausted, lastErr)
			}
			return ctx.Err()
		default:
		}

		tx, err := db.BeginTx(ctx, &sql.TxOptions{
			Isolation: opts.IsolationLevel,
			ReadOnly:  opts.ReadOnly,
		})
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		err = fn(tx)
		if err == nil {
			err = tx.Commit()
			if err == nil {
				return nil
			}
			// fall through: a commit can fail with a serialization error too
		} else {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
			}
		}

		if ClassifyError(err) == ErrorClassPermanent {
			return err
		}
		lastErr = err

		if attempt == opts.MaxRetries {
			break
		}
		if serr := sleepWithJitter(ctx, Backoff(attempt)); serr != nil {
			break
		}
	}

	return fmt.Errorf("%w: %w", ErrRetryExhausted, lastErr)
}
