package services

import (
	"context"

	"github.com/upb/auth-gateway/repositories"
)

// WithTransaction runs fn inside a database transaction. The context passed
// to fn carries the transaction, so repository calls made with it join it.
// Commits on success, rolls back on error or panic.
func WithTransaction(ctx context.Context, txMgr repositories.TransactionManager, fn func(ctx context.Context) error) error {
	return txMgr.InTransaction(ctx, func(txCtx context.Context, tx repositories.Transaction) error {
		defer func() {
			if p := recover(); p != nil {
				_ = tx.Rollback()
				panic(p)
			}
		}()
		return fn(txCtx)
	})
}

// WithTransactionResult is WithTransaction for functions that produce a value.
// The zero value of T is returned when the transaction fails.
func WithTransactionResult[T any](ctx context.Context, txMgr repositories.TransactionManager, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := WithTransaction(ctx, txMgr, func(txCtx context.Context) error {
		var fnErr error
		result, fnErr = fn(txCtx)
		return fnErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
