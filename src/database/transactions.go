package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// TxManager provides transaction management with context support
type TxManager struct {
	db *sql.DB
}

// NewTxManager creates a new transaction manager
func NewTxManager(db *sql.DB) *TxManager {
	return &TxManager{db: db}
}

// TxOptions defines options for transaction execution
type TxOptions struct {
	Timeout    time.Duration
	MaxRetries int
}

// DefaultTxOptions returns sensible defaults for most operations
func DefaultTxOptions() *TxOptions {
	return &TxOptions{
		Timeout:    30 * time.Second,
		MaxRetries: 3,
	}
}

// ExecuteInTransaction executes a function within a transaction with proper error handling
func (tm *TxManager) ExecuteInTransaction(ctx context.Context, opts *TxOptions, fn func(*sql.Tx) error) error {
	if opts == nil {
		opts = DefaultTxOptions()
	}

	// Apply timeout to context
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	// SQLite only knows deferred/immediate; the driver default is deferred
	tx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Ensure rollback on panic
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r) // Re-panic after rollback
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// WithRetry executes a transaction with retry logic for lock conflicts
func (tm *TxManager) WithRetry(ctx context.Context, opts *TxOptions, fn func(*sql.Tx) error) error {
	if opts == nil {
		opts = DefaultTxOptions()
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	baseDelay := 50 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := tm.ExecuteInTransaction(ctx, opts, fn)
		if err == nil {
			return nil
		}

		if !isLockError(err) {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Don't retry on the last attempt
		if i == maxRetries-1 {
			return fmt.Errorf("transaction failed after %d retries: %w", maxRetries, err)
		}

		// Exponential backoff with jitter
		delay := baseDelay * time.Duration(1<<uint(i))
		jitter := time.Duration(float64(delay) * 0.1 * (0.5 - float64(time.Now().UnixNano()%100)/100))
		select {
		case <-time.After(delay + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("transaction retry loop ended unexpectedly")
}

// isLockError checks if an error is a SQLite locking error
func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"database is locked",
		"database table is locked",
		"database schema is locked",
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
