// Package tx marks contexts that are executing inside a state transaction.
// Stores consult the marker to refuse nested transactions: a collaborator
// invoked mid-transaction (the payment rail) receives the marked context, so
// any attempt to call back into the engine is detected instead of deadlocking.
package tx

import (
	"context"
	"database/sql"
)

type (
	activeKey struct{}
	sqlKey    struct{}
)

// Enter marks ctx as running inside a transaction.
func Enter(ctx context.Context) context.Context {
	return context.WithValue(ctx, activeKey{}, true)
}

// Active reports whether ctx is inside a transaction.
func Active(ctx context.Context) bool {
	active, _ := ctx.Value(activeKey{}).(bool)
	return active
}

// WithSQL stores a SQL transaction in context for downstream store usage.
func WithSQL(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(Enter(ctx), sqlKey{}, tx)
}

// SQL extracts a SQL transaction from context if present.
func SQL(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(sqlKey{}).(*sql.Tx)
	return tx, ok
}
