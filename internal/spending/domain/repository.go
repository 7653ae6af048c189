package domain

import (
	"context"
	"time"

	types "aurum-outbox/internal/common/valueobjects"
	"aurum-outbox/internal/outbox"
)

// AuthorizationRepository defines the interface for authorization persistence.
type AuthorizationRepository interface {
	// Save persists an authorization aggregate.
	// Implementations may return ErrOptimisticLock if a version conflict is detected.
	Save(ctx context.Context, auth *Authorization) error
	// FindByID retrieves an authorization by tenant and ID.
	// Returns ErrAuthorizationNotFound when no record exists.
	FindByID(ctx context.Context, tenantID types.TenantID, id AuthorizationID) (*Authorization, error)
}

// CardAccountRepository defines the interface for card account persistence.
type CardAccountRepository interface {
	// Save persists a card account aggregate.
	// Implementations may return ErrOptimisticLock if a version conflict is detected.
	Save(ctx context.Context, account *CardAccount) error
	// FindByID retrieves a card account by tenant and ID.
	// Returns ErrCardAccountNotFound when no record exists.
	FindByID(ctx context.Context, tenantID types.TenantID, id CardAccountID) (*CardAccount, error)
	// FindByTenantID retrieves the card account associated with a tenant.
	// Returns ErrCardAccountNotFound when no record exists.
	FindByTenantID(ctx context.Context, tenantID types.TenantID) (*CardAccount, error)
}

// IdempotencyEntry represents a stored idempotency record.
type IdempotencyEntry struct {
	TenantID       types.TenantID
	IdempotencyKey string
	ResourceID     string
	StatusCode     int
	ResponseBody   []byte
	CreatedAt      time.Time
}

// IdempotencyStore defines the interface for idempotency key storage.
type IdempotencyStore interface {
	// Get retrieves an idempotency entry by tenant and key.
	// Returns (nil, nil) when no entry exists.
	Get(ctx context.Context, tenantID types.TenantID, key string) (*IdempotencyEntry, error)
	// Set stores or updates an idempotency entry for the given key.
	Set(ctx context.Context, entry *IdempotencyEntry) error
	// SetIfAbsent atomically stores an entry if no entry exists.
	// Returns (true, entry, nil) if created, (false, existing, nil) if already exists.
	SetIfAbsent(ctx context.Context, entry *IdempotencyEntry) (created bool, existing *IdempotencyEntry, err error)
}

// Repositories gives a command handler access to the spending repositories
// bound to the current outbox.Transaction, so a domain mutation and the
// outbox append it produces land in the same database transaction.
type Repositories interface {
	Authorizations() AuthorizationRepository
	CardAccounts() CardAccountRepository
	IdempotencyStore() IdempotencyStore
}

// RepositoriesFactory builds a Repositories bound to a specific Executor
// (either the pool, for reads, or a single outbox.Transaction's Executor,
// for the duration of one command). It lets the application layer obtain
// transactional repositories without depending on the infrastructure
// package that constructs them.
type RepositoriesFactory interface {
	ForExecutor(exec outbox.Executor) Repositories
}
