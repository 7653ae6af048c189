package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"

	"aurum-outbox/internal/common/tracing"
	"aurum-outbox/internal/outbox"
)

var tracer = otel.Tracer("aurum-outbox/outbox/postgres")

// UnitOfWork is the C1 unit of work backed by a pgxpool.Pool. A single
// UnitOfWork value is not safe to Begin concurrently: Begin is meant to be
// called once per request/command, each time producing an independent
// Transaction.
type UnitOfWork struct {
	pool      *pgxpool.Pool
	dbRetries int
	mu        sync.Mutex
	txInFlight bool
}

// NewUnitOfWork returns a UnitOfWork bound to pool. dbRetries bounds the
// number of attempts Transaction.Save makes against transient faults.
func NewUnitOfWork(pool *pgxpool.Pool, dbRetries int) *UnitOfWork {
	return &UnitOfWork{pool: pool, dbRetries: dbRetries}
}

var _ outbox.UnitOfWork = (*UnitOfWork)(nil)

// Begin opens a new transaction. Returns outbox.ErrAlreadyActive if this
// UnitOfWork already has an open transaction that hasn't been committed or
// rolled back.
func (u *UnitOfWork) Begin(ctx context.Context) (_ outbox.Transaction, err error) {
	spanCtx, end := tracing.Start(ctx, tracer, "outbox.UnitOfWork.Begin")
	defer func() { end(err) }()

	u.mu.Lock()
	if u.txInFlight {
		u.mu.Unlock()
		err = outbox.ErrAlreadyActive
		return nil, err
	}
	u.txInFlight = true
	u.mu.Unlock()

	tx, err := u.pool.Begin(spanCtx)
	if err != nil {
		u.mu.Lock()
		u.txInFlight = false
		u.mu.Unlock()
		err = fmt.Errorf("begin transaction: %w", err)
		return nil, err
	}

	return &transaction{
		uow:       u,
		tx:        tx,
		dbRetries: u.dbRetries,
	}, nil
}

// transaction implements outbox.Transaction over a single pgx.Tx.
type transaction struct {
	uow       *UnitOfWork
	tx        pgx.Tx
	dbRetries int
	done      bool
	savepoint int
}

var _ outbox.Transaction = (*transaction)(nil)

// Exec returns the Executor bound to this transaction.
func (t *transaction) Exec() outbox.Executor {
	return t.tx
}

// Save establishes a SAVEPOINT and immediately releases it, giving callers
// a flush point without ending the transaction. pgx holds no client-side
// write buffer to flush, so this exists to satisfy callers that want to
// confirm the transaction is still healthy (and retry on a transient fault)
// before proceeding with more work inside it.
func (t *transaction) Save(ctx context.Context) error {
	if t.done {
		return outbox.ErrNotActive
	}
	return withRetry(ctx, t.dbRetries, func() error {
		t.savepoint++
		name := fmt.Sprintf("sp_%d", t.savepoint)
		if _, err := t.tx.Exec(ctx, "SAVEPOINT "+name); err != nil {
			return classifyStoreError(err)
		}
		if _, err := t.tx.Exec(ctx, "RELEASE SAVEPOINT "+name); err != nil {
			return classifyStoreError(err)
		}
		return nil
	})
}

// Commit commits the transaction and releases the UnitOfWork for reuse.
func (t *transaction) Commit(ctx context.Context) (err error) {
	_, end := tracing.Start(ctx, tracer, "outbox.Transaction.Commit")
	defer func() { end(err) }()

	if t.done {
		err = outbox.ErrNotActive
		return err
	}
	t.done = true
	t.release()

	if commitErr := t.tx.Commit(ctx); commitErr != nil {
		err = fmt.Errorf("commit transaction: %w", commitErr)
		return err
	}
	return nil
}

// Rollback discards the transaction and releases the UnitOfWork for reuse.
// Calling Rollback after Commit or Rollback already ran returns
// outbox.ErrNotActive.
func (t *transaction) Rollback(ctx context.Context) (err error) {
	_, end := tracing.Start(ctx, tracer, "outbox.Transaction.Rollback")
	defer func() { end(err) }()

	if t.done {
		err = outbox.ErrNotActive
		return err
	}
	t.done = true
	t.release()

	if rollbackErr := t.tx.Rollback(ctx); rollbackErr != nil && rollbackErr != pgx.ErrTxClosed {
		err = fmt.Errorf("rollback transaction: %w", rollbackErr)
		return err
	}
	return nil
}

func (t *transaction) release() {
	t.uow.mu.Lock()
	t.uow.txInFlight = false
	t.uow.mu.Unlock()
}
