package sqlcgen

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Savepoint runs fn in a nested transaction when q is bound to a pgx.Tx. An error from fn rolls
// back to the savepoint and leaves the outer transaction usable. Outside a transaction fn runs on q.
func (q *Queries) Savepoint(ctx context.Context, fn func(q *Queries) error) error {
	tx, ok := q.db.(pgx.Tx)
	if !ok {
		return fn(q)
	}

	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(q.WithTx(sp)); err != nil {
		_ = sp.Rollback(context.Background())
		return err
	}
	return sp.Commit(ctx)
}
