package repository

import (
	"context"

	"gorm.io/gorm"
)

type contextKey string

const txKey contextKey = "gorm_tx"

// txState is carried on the context for the lifetime of the outermost transaction.
type txState struct {
	db          *gorm.DB
	afterCommit []func()
}

// TransactionManager manages database transactions via context injection.
// A RunInTx call made while a transaction is already on the context joins it.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
	// AfterCommit defers fn until the enclosing transaction commits; outside a
	// transaction fn runs immediately. Rolled-back transactions drop their hooks.
	AfterCommit(ctx context.Context, fn func())
}

type transactionManager struct {
	db *gorm.DB
}

func NewTransactionManager(db *gorm.DB) TransactionManager {
	return &transactionManager{db: db}
}

func (t *transactionManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if _, ok := ctx.Value(txKey).(*txState); ok {
		return fn(ctx)
	}

	state := &txState{}
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state.db = tx
		return fn(context.WithValue(ctx, txKey, state))
	})
	if err != nil {
		return err
	}
	for _, hook := range state.afterCommit {
		hook()
	}
	return nil
}

func (t *transactionManager) AfterCommit(ctx context.Context, fn func()) {
	if state, ok := ctx.Value(txKey).(*txState); ok {
		state.afterCommit = append(state.afterCommit, fn)
		return
	}
	fn()
}

// GetDB extracts the transaction DB from context if present, otherwise returns root DB.
func GetDB(ctx context.Context, rootDB *gorm.DB) *gorm.DB {
	if state, ok := ctx.Value(txKey).(*txState); ok && state.db != nil {
		return state.db.WithContext(ctx)
	}
	return rootDB.WithContext(ctx)
}
