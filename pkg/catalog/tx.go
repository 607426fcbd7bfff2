package catalog

import (
	"context"
	"fmt"
)

// txKey carries the active scoped transaction through a task's context so
// nested callers participate in the outermost transaction instead of
// deadlocking against the serialized writer.
type txKey struct{}

type txState struct {
	tx    txLike
	depth int
}

// txLike abstracts *sql.Tx for the primitives.
type txLike = execer

func txFromContext(ctx context.Context) *txState {
	st, _ := ctx.Value(txKey{}).(*txState)
	return st
}

// WithTx runs fn inside a scoped transaction. Nesting is reference-counted:
// BEGIN happens on depth 0→1 and COMMIT on 1→0; an error or panic at any
// depth rolls the whole transaction back. The outermost transaction runs on
// the serialized writer, so everything inside it is ordered with respect to
// all other writes.
func (c *Catalog) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if st := txFromContext(ctx); st != nil {
		st.depth++
		defer func() { st.depth-- }()
		return fn(ctx)
	}

	return c.enqueue(ctx, func() (err error) {
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		st := &txState{tx: tx, depth: 1}
		txCtx := context.WithValue(ctx, txKey{}, st)

		defer func() {
			if r := recover(); r != nil {
				_ = tx.Rollback()
				err = fmt.Errorf("catalog: transaction panic: %v", r)
			}
		}()

		if err := fn(txCtx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}
