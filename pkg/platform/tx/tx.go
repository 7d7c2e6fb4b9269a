// Package tx carries a SQL transaction through context so stores can join an
// enclosing unit of work without changing their signatures.
package tx

import (
	"context"
	"database/sql"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// Runner executes fn as one atomic unit of work. Every store call made with
// the context passed to fn joins the same transaction; if fn returns an
// error, nothing fn did is visible afterwards.
type Runner interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}
