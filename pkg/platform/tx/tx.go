// Package tx carries a SQL transaction through context so the submission,
// decision, obligation and audit stores can write through the same
// transaction without knowing who opened it. The verification service opens
// the transaction; the stores only read it back out.
package tx

import (
	"context"
	"database/sql"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx returns a context carrying the transaction. A nil tx returns the
// context unchanged so callers can pass through optional transactions.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From reads the carried transaction back out. Stores fall back to their
// plain connection when none is present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}
