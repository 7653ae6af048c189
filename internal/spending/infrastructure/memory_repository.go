package infrastructure

import (
	"context"
	"sync"

	"aurum-outbox/internal/outbox"
	"aurum-outbox/internal/spending/domain"

	vo "aurum-outbox/internal/common/valueobjects"
)

// MemoryAuthorizationRepository is an in-memory implementation of AuthorizationRepository.
type MemoryAuthorizationRepository struct {
	mu      sync.RWMutex
	storage map[string]*domain.Authorization // key: tenantID:id
}

// NewMemoryAuthorizationRepository creates a new in-memory authorization repository.
func NewMemoryAuthorizationRepository() *MemoryAuthorizationRepository {
	return &MemoryAuthorizationRepository{
		storage: make(map[string]*domain.Authorization),
	}
}

func (r *MemoryAuthorizationRepository) key(tenantID vo.TenantID, id domain.AuthorizationID) string {
	return tenantID.String() + ":" + id.String()
}

func (r *MemoryAuthorizationRepository) Save(_ context.Context, auth *domain.Authorization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storage[r.key(auth.TenantID(), auth.ID())] = auth
	return nil
}

func (r *MemoryAuthorizationRepository) FindByID(_ context.Context, tenantID vo.TenantID, id domain.AuthorizationID) (*domain.Authorization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	auth, ok := r.storage[r.key(tenantID, id)]
	if !ok {
		return nil, domain.ErrAuthorizationNotFound
	}
	return auth, nil
}

// MemoryCardAccountRepository is an in-memory implementation of CardAccountRepository.
// Note: byTenant index supports multiple card accounts per tenant. FindByTenantID
// returns the first one found (use FindByID for specific lookups).
type MemoryCardAccountRepository struct {
	mu       sync.RWMutex
	storage  map[string]*domain.CardAccount   // key: tenantID:id
	byTenant map[string][]*domain.CardAccount // key: tenantID string -> slice of accounts
}

// NewMemoryCardAccountRepository creates a new in-memory card account repository.
func NewMemoryCardAccountRepository() *MemoryCardAccountRepository {
	return &MemoryCardAccountRepository{
		storage:  make(map[string]*domain.CardAccount),
		byTenant: make(map[string][]*domain.CardAccount),
	}
}

func (r *MemoryCardAccountRepository) key(tenantID vo.TenantID, id domain.CardAccountID) string {
	return tenantID.String() + ":" + id.String()
}

func (r *MemoryCardAccountRepository) Save(_ context.Context, account *domain.CardAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := r.key(account.TenantID(), account.ID())
	tenantKey := account.TenantID().String()

	// Check if this account already exists (update case)
	_, exists := r.storage[key]
	r.storage[key] = account

	if !exists {
		// New account - add to tenant index
		r.byTenant[tenantKey] = append(r.byTenant[tenantKey], account)
	} else {
		// Update existing - find and replace in tenant index
		accounts := r.byTenant[tenantKey]
		for i, a := range accounts {
			if a.ID().String() == account.ID().String() {
				accounts[i] = account
				break
			}
		}
	}
	return nil
}

func (r *MemoryCardAccountRepository) FindByID(_ context.Context, tenantID vo.TenantID, id domain.CardAccountID) (*domain.CardAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	account, ok := r.storage[r.key(tenantID, id)]
	if !ok {
		return nil, domain.ErrCardAccountNotFound
	}
	return account, nil
}

// FindByTenantID returns the first card account for the tenant, or
// ErrCardAccountNotFound if none exist.
// Use FindByID for specific account lookups when multiple accounts exist per tenant.
func (r *MemoryCardAccountRepository) FindByTenantID(_ context.Context, tenantID vo.TenantID) (*domain.CardAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	accounts := r.byTenant[tenantID.String()]
	if len(accounts) == 0 {
		return nil, domain.ErrCardAccountNotFound
	}
	return accounts[0], nil
}

// MemoryIdempotencyStore is an in-memory implementation of IdempotencyStore.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	storage map[string]*domain.IdempotencyEntry // key: tenantID:idempotencyKey
}

// NewMemoryIdempotencyStore creates a new in-memory idempotency store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		storage: make(map[string]*domain.IdempotencyEntry),
	}
}

func (s *MemoryIdempotencyStore) key(tenantID vo.TenantID, idempotencyKey string) string {
	return tenantID.String() + ":" + idempotencyKey
}

func (s *MemoryIdempotencyStore) Get(_ context.Context, tenantID vo.TenantID, key string) (*domain.IdempotencyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storage[s.key(tenantID, key)], nil
}

func (s *MemoryIdempotencyStore) Set(_ context.Context, entry *domain.IdempotencyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storage[s.key(entry.TenantID, entry.IdempotencyKey)] = entry
	return nil
}

// SetIfAbsent atomically stores an entry if no entry exists for the key.
// Returns true and nil if the entry was created.
// Returns false and the existing entry if it already existed.
func (s *MemoryIdempotencyStore) SetIfAbsent(_ context.Context, entry *domain.IdempotencyEntry) (bool, *domain.IdempotencyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := s.key(entry.TenantID, entry.IdempotencyKey)
	if existing, ok := s.storage[k]; ok {
		return false, existing, nil
	}
	s.storage[k] = entry
	return true, nil, nil
}

// Repositories bundles the in-memory repositories behind domain.Repositories.
// Unlike the PostgreSQL implementation, it has no real transactional
// isolation: every repository mutates its own map directly and under its own
// lock, so ForExecutor always hands back the same set of repositories
// regardless of the outbox.Executor passed in. This is adequate for unit
// tests that don't exercise rollback semantics; tests that do should run
// against the PostgreSQL suite instead.
type Repositories struct {
	authRepo       *MemoryAuthorizationRepository
	cardAccountRepo *MemoryCardAccountRepository
	idempotency    *MemoryIdempotencyStore
}

// NewRepositories creates an in-memory domain.Repositories.
func NewRepositories() *Repositories {
	return &Repositories{
		authRepo:        NewMemoryAuthorizationRepository(),
		cardAccountRepo: NewMemoryCardAccountRepository(),
		idempotency:     NewMemoryIdempotencyStore(),
	}
}

func (r *Repositories) Authorizations() domain.AuthorizationRepository { return r.authRepo }
func (r *Repositories) CardAccounts() domain.CardAccountRepository     { return r.cardAccountRepo }
func (r *Repositories) IdempotencyStore() domain.IdempotencyStore      { return r.idempotency }

// RepositoriesFactory implements domain.RepositoriesFactory over a single
// shared in-memory Repositories instance.
type RepositoriesFactory struct {
	repos *Repositories
}

// NewRepositoriesFactory creates a RepositoriesFactory backed by a fresh
// in-memory Repositories instance.
func NewRepositoriesFactory() *RepositoriesFactory {
	return &RepositoriesFactory{repos: NewRepositories()}
}

// Reads returns the shared in-memory Repositories for read-only access.
func (f *RepositoriesFactory) Reads() domain.Repositories { return f.repos }

// ForExecutor ignores exec and returns the shared in-memory Repositories,
// since in-memory repositories do not participate in pgx transactions.
func (f *RepositoriesFactory) ForExecutor(outbox.Executor) domain.Repositories { return f.repos }

// Verify interface implementations.
var (
	_ domain.AuthorizationRepository = (*MemoryAuthorizationRepository)(nil)
	_ domain.CardAccountRepository   = (*MemoryCardAccountRepository)(nil)
	_ domain.IdempotencyStore        = (*MemoryIdempotencyStore)(nil)
	_ domain.Repositories            = (*Repositories)(nil)
	_ domain.RepositoriesFactory     = (*RepositoriesFactory)(nil)
)
