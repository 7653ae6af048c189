package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"aurum-outbox/internal/outbox"
	"aurum-outbox/internal/spending/domain"
)

// DataStore is the pool-bound set of spending repositories, used for reads
// that don't need to share a transaction with an outbox append.
type DataStore struct {
	authorizationRepo *AuthorizationRepository
	cardAccountRepo   *CardAccountRepository
	idempotencyStore  *IdempotencyStore
}

// NewDataStore creates a DataStore bound directly to the pool.
func NewDataStore(pool *pgxpool.Pool) *DataStore {
	return newDataStore(pool)
}

func newDataStore(exec Executor) *DataStore {
	return &DataStore{
		authorizationRepo: NewAuthorizationRepository(exec),
		cardAccountRepo:   NewCardAccountRepository(exec),
		idempotencyStore:  NewIdempotencyStore(exec),
	}
}

// Authorizations returns the authorization repository.
func (ds *DataStore) Authorizations() domain.AuthorizationRepository {
	return ds.authorizationRepo
}

// CardAccounts returns the card account repository.
func (ds *DataStore) CardAccounts() domain.CardAccountRepository {
	return ds.cardAccountRepo
}

// IdempotencyStore returns the idempotency store.
func (ds *DataStore) IdempotencyStore() domain.IdempotencyStore {
	return ds.idempotencyStore
}

// RepositoriesFactory builds a pool-bound DataStore for reads and a
// transaction-bound DataStore for every command the application layer runs
// through outbox.UnitOfWork.
type RepositoriesFactory struct {
	pool *pgxpool.Pool
}

// NewRepositoriesFactory creates a RepositoriesFactory backed by pool.
func NewRepositoriesFactory(pool *pgxpool.Pool) *RepositoriesFactory {
	return &RepositoriesFactory{pool: pool}
}

// Reads returns a DataStore bound directly to the pool, for read-only
// command handlers that don't need a transaction.
func (f *RepositoriesFactory) Reads() domain.Repositories {
	return newDataStore(f.pool)
}

// ForExecutor builds a DataStore bound to exec, the Executor exposed by an
// outbox.Transaction's Exec() method. The returned Repositories shares the
// same underlying pgx.Tx as any outbox.Store.Append call the caller makes
// within the same transaction.
func (f *RepositoriesFactory) ForExecutor(exec outbox.Executor) domain.Repositories {
	return newDataStore(exec)
}

// Verify interface implementations.
var (
	_ domain.RepositoriesFactory = (*RepositoriesFactory)(nil)
	_ domain.Repositories        = (*DataStore)(nil)
)
