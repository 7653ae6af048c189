package memory

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"aurum-outbox/internal/outbox"
)

// UnitOfWork is an in-memory outbox.UnitOfWork. It allows one open
// transaction at a time, guarded by a single mutex, matching the teacher's in-memory DataStore.Atomic
// staged-then-commit approach but generalized to the explicit
// Begin/Save/Commit/Rollback contract.
type UnitOfWork struct {
	mu         sync.Mutex
	txInFlight bool
}

// NewUnitOfWork returns an empty UnitOfWork.
func NewUnitOfWork() *UnitOfWork {
	return &UnitOfWork{}
}

var _ outbox.UnitOfWork = (*UnitOfWork)(nil)

// Begin opens a transaction. While it is open, a further Begin returns
// ErrAlreadyActive instead of waiting.
func (u *UnitOfWork) Begin(ctx context.Context) (outbox.Transaction, error) {
	u.mu.Lock()
	if u.txInFlight {
		u.mu.Unlock()
		return nil, outbox.ErrAlreadyActive
	}
	u.txInFlight = true
	u.mu.Unlock()

	t := &transaction{uow: u}
	t.exec = &txExecutor{tx: t}
	return t, nil
}

// stagedAppend is one outbox.Store.Append call made against this
// transaction's Exec(), held back from the store until Commit.
type stagedAppend struct {
	store  *Store
	record *outbox.Record
}

// transaction implements outbox.Transaction. Domain repositories bypass
// Exec() entirely and mutate their own maps directly (see
// infrastructure.Repositories), so they have no rollback support here —
// tests exercising domain-row rollback use the postgres UnitOfWork against
// a real transactional database instead. The outbox Store's Append is the
// one write this package can and does make transactional: Append stages the
// record against this transaction instead of writing it to the Store's map
// immediately, so a Rollback after Append genuinely discards it, mirroring
// what a real pgx.Tx rollback does to an uncommitted INSERT.
type transaction struct {
	uow     *UnitOfWork
	exec    *txExecutor
	pending []stagedAppend
	done    bool
}

var _ outbox.Transaction = (*transaction)(nil)

func (t *transaction) Exec() outbox.Executor { return t.exec }

func (t *transaction) stage(store *Store, record *outbox.Record) {
	t.pending = append(t.pending, stagedAppend{store: store, record: record})
}

func (t *transaction) Save(ctx context.Context) error {
	if t.done {
		return outbox.ErrNotActive
	}
	return nil
}

// Commit flushes every staged Append into its Store, then ends the
// transaction.
func (t *transaction) Commit(ctx context.Context) error {
	if t.done {
		return outbox.ErrNotActive
	}
	t.done = true
	for _, p := range t.pending {
		p.store.commit(p.record)
	}
	t.pending = nil
	t.release()
	return nil
}

// Rollback discards every staged Append: none of them ever becomes visible
// in their Store.
func (t *transaction) Rollback(ctx context.Context) error {
	if t.done {
		return outbox.ErrNotActive
	}
	t.done = true
	t.pending = nil
	t.release()
	return nil
}

func (t *transaction) release() {
	t.uow.mu.Lock()
	t.uow.txInFlight = false
	t.uow.mu.Unlock()
}

// txExecutor is the Executor handed out by transaction.Exec(). Its
// Exec/Query/QueryRow methods exist only to satisfy outbox.Executor and
// must never be called: the in-memory spending repositories bypass it and
// operate on their own Go maps directly. Store.Append, however, recognizes
// a *txExecutor and stages its write against tx rather than applying it
// immediately.
type txExecutor struct {
	tx *transaction
}

func (txExecutor) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	panic("memory: Exec is not implemented; in-memory repositories do not issue SQL")
}

func (txExecutor) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("memory: Query is not implemented; in-memory repositories do not issue SQL")
}

func (txExecutor) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("memory: QueryRow is not implemented; in-memory repositories do not issue SQL")
}
