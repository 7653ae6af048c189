package outbox

import "context"

// UnitOfWork scopes a single database transaction shared by a domain
// mutation and an outbox Append, per C1. Begin must be called exactly once
// before Save/Commit/Rollback; calling Begin twice without an intervening
// Commit or Rollback returns ErrAlreadyActive.
type UnitOfWork interface {
	// Begin opens a new transaction and returns a Transaction bound to it.
	Begin(ctx context.Context) (Transaction, error)
}

// Transaction is the handle returned by UnitOfWork.Begin. Exec returns the
// Executor bound to this transaction, for use by domain repositories and
// the outbox Store's Append.
type Transaction interface {
	Exec() Executor

	// Save flushes pending writes without ending the transaction, retrying
	// on transient faults per a bounded backoff policy. Callers that need
	// to observe a partial write (e.g. to read back a generated id) before
	// deciding whether to continue use Save; Commit still must be called
	// to end the transaction.
	Save(ctx context.Context) error

	// Commit ends the transaction successfully. Returns ErrNotActive if
	// the transaction was already committed or rolled back.
	Commit(ctx context.Context) error

	// Rollback discards the transaction. Returns ErrNotActive if the
	// transaction was already committed or rolled back. Safe to call after
	// Commit has already failed, to ensure the connection is released.
	Rollback(ctx context.Context) error
}
