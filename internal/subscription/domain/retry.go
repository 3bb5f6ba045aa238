package domain

import (
	"context"
	"errors"
)

// RetryOnConflict runs fn and, if it lost a ledger race, runs it once more with
// fresh state. A second conflict is returned to the caller.
func RetryOnConflict(ctx context.Context, fn func() error) error {
	err := fn()
	if !errors.Is(err, ErrConcurrencyConflict) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Join(err, ctxErr)
	}
	return fn()
}
