// Package postgres owns the database handle and the transactional unit of
// work used by the separation workflow.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	dErrors "hokhau/pkg/domain-errors"
	txcontext "hokhau/pkg/platform/tx"
)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

const defaultTxTimeout = 5 * time.Second

// TxRunner runs units of work inside a single SQL transaction carried through
// context. Stores that understand the tx context join it transparently.
type TxRunner struct {
	db      *sql.DB
	timeout time.Duration
}

// NewTxRunner builds a runner over db. A zero timeout falls back to the
// package default.
func NewTxRunner(db *sql.DB, timeout time.Duration) *TxRunner {
	return &TxRunner{db: db, timeout: timeout}
}

// Execute begins a transaction, runs fn with the transaction in context, and
// commits. Any error from fn or commit rolls everything back; transient
// Postgres failures surface as retryable domain errors.
func (r *TxRunner) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := r.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, sqlTx)); err != nil {
		return classify(err)
	}

	if err := sqlTx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps driver-level failures onto the domain taxonomy. Domain errors
// pass through untouched so services keep control of their own codes.
func classify(err error) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction timed out")
	}
	if errors.Is(err, context.Canceled) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction cancelled")
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return dErrors.Wrap(err, dErrors.CodeTxConflict, "transaction conflict")
		case "23505": // unique_violation
			return dErrors.Wrap(err, dErrors.CodeConflict, "uniqueness conflict")
		case "23503": // foreign_key_violation
			return dErrors.Wrap(err, dErrors.CodeConflict, "referenced row is gone")
		}
	}
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "storage failure")
}
