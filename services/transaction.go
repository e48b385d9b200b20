package services

import (
	"context"

	"github.com/upb/filevault/repositories"
)

// WithTransaction runs fn inside txMgr.InTransaction. The ctx handed to fn carries the
// transaction, so repositories called with it share the same unit of work.
func WithTransaction(ctx context.Context, txMgr repositories.TransactionManager, fn func(ctx context.Context) error) error {
	return txMgr.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		return fn(ctx)
	})
}

// WithTransactionResult is WithTransaction for functions that produce a value.
// The zero value of T is returned when the transaction fails.
func WithTransactionResult[T any](ctx context.Context, txMgr repositories.TransactionManager, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := txMgr.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
