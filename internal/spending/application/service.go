// Package application implements the C4 enqueue coordinator for the
// spending bounded context: each command performs its domain mutation and
// its outbox append inside one outbox.UnitOfWork transaction, so a write is
// either fully visible (including its event) or not visible at all.
package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"aurum-outbox/internal/common/clock"
	"aurum-outbox/internal/common/logging"
	types "aurum-outbox/internal/common/valueobjects"
	"aurum-outbox/internal/outbox"
	"aurum-outbox/internal/spending/domain"
)

// idempotencyConflictError is returned when a concurrent request won the race.
// The transaction should be rolled back and the existing response returned.
type idempotencyConflictError struct {
	existingEntry *domain.IdempotencyEntry
}

func (e *idempotencyConflictError) Error() string {
	return "idempotency conflict: concurrent request completed first"
}

// checkIdempotency checks if a response already exists for the given idempotency key.
// Returns the cached response if found, nil if not found.
func checkIdempotency[T any](ctx context.Context, store domain.IdempotencyStore, tenantID types.TenantID, key string) (*T, error) {
	existing, err := store.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}
	var resp T
	if err := json.Unmarshal(existing.ResponseBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// handleIdempotencyConflict handles the case where a concurrent request won the race.
// Returns (response, nil) if conflict was handled, (nil, original error) otherwise.
func handleIdempotencyConflict[T any](err error) (*T, error) {
	var conflictErr *idempotencyConflictError
	if !errors.As(err, &conflictErr) {
		return nil, err
	}
	var resp T
	if unmarshalErr := json.Unmarshal(conflictErr.existingEntry.ResponseBody, &resp); unmarshalErr != nil {
		return nil, unmarshalErr
	}
	return &resp, nil
}

// storeIdempotency atomically stores an idempotency entry, preventing TOCTOU races.
// Returns idempotencyConflictError if a concurrent request completed first.
func storeIdempotency[T any](
	ctx context.Context,
	store domain.IdempotencyStore,
	tenantID types.TenantID,
	idempotencyKey string,
	resourceID string,
	statusCode int,
	response *T,
	now time.Time,
) error {
	responseBody, _ := json.Marshal(response)
	created, existingEntry, err := store.SetIfAbsent(ctx, &domain.IdempotencyEntry{
		TenantID:       tenantID,
		IdempotencyKey: idempotencyKey,
		ResourceID:     resourceID,
		StatusCode:     statusCode,
		ResponseBody:   responseBody,
		CreatedAt:      now,
	})
	if err != nil {
		return err
	}
	if !created {
		return &idempotencyConflictError{existingEntry: existingEntry}
	}
	return nil
}

// SpendingService implements the application layer for the Spending context.
//
// Key design decisions:
//   - Every state-changing operation opens one outbox.UnitOfWork transaction
//   - Domain events are appended to the outbox store within that same transaction
//   - Idempotency is enforced at the service layer
type SpendingService struct {
	uow     outbox.UnitOfWork
	store   outbox.Store
	factory domain.RepositoriesFactory
	reads   domain.Repositories // bound to the pool, for read-only lookups
	clock   clock.Clock
}

// NewSpendingService creates a new SpendingService. reads must be a
// Repositories bound to the connection pool (not a transaction), used for
// lookups outside the atomic path.
func NewSpendingService(uow outbox.UnitOfWork, store outbox.Store, factory domain.RepositoriesFactory, reads domain.Repositories, clk clock.Clock) *SpendingService {
	return &SpendingService{uow: uow, store: store, factory: factory, reads: reads, clock: clk}
}

// atomic opens a transaction, hands the caller transactional repositories
// and the outbox store to append to, and commits on success or rolls back
// on error or panic. This is the C4 coordinator's core: a domain mutation
// and its outbox append always share this one transaction.
func (s *SpendingService) atomic(ctx context.Context, fn func(repos domain.Repositories, tx outbox.Transaction) error) (err error) {
	tx, err := s.uow.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				err = fmt.Errorf("tx error: %v, rollback error: %v", err, rbErr)
			}
			return
		}
		if cErr := tx.Commit(ctx); cErr != nil {
			err = fmt.Errorf("commit transaction: %w", cErr)
		}
	}()

	repos := s.factory.ForExecutor(tx.Exec())
	if err = fn(repos, tx); err != nil {
		return
	}
	if err = tx.Save(ctx); err != nil {
		err = fmt.Errorf("flush transaction: %w", err)
		return
	}
	return
}

// CreateAuthorizationRequest represents a request to create an authorization.
type CreateAuthorizationRequest struct {
	TenantID       types.TenantID
	IdempotencyKey string
	Amount         types.Money
	MerchantRef    string
	Reference      string
	CorrelationID  types.CorrelationID
}

// CreateAuthorizationResponse represents the response from creating an authorization.
type CreateAuthorizationResponse struct {
	AuthorizationID string `json:"authorization_id"`
	Status          string `json:"status"`
}

// CreateAuthorization creates a new spend authorization.
// This operation:
//   - Checks idempotency key and returns existing response if found
//   - Loads the tenant card account and enforces spending limits
//   - Creates the authorization in Authorized state and appends an outbox record
//   - Stores the idempotency entry atomically to avoid TOCTOU races
//   - Returns the stored response if a concurrent request wins the idempotency race
//   - All within a single transaction
func (s *SpendingService) CreateAuthorization(ctx context.Context, req CreateAuthorizationRequest) (*CreateAuthorizationResponse, error) {
	if cached, err := checkIdempotency[CreateAuthorizationResponse](ctx, s.reads.IdempotencyStore(), req.TenantID, req.IdempotencyKey); err != nil {
		return nil, err
	} else if cached != nil {
		return cached, nil
	}

	var result *CreateAuthorizationResponse

	err := s.atomic(ctx, func(repos domain.Repositories, tx outbox.Transaction) error {
		now := s.clock.Now()

		cardAccount, err := repos.CardAccounts().FindByTenantID(ctx, req.TenantID)
		if err != nil {
			return err
		}

		if err := cardAccount.AuthorizeAmount(req.Amount, now); err != nil {
			return err
		}

		auth, err := domain.NewAuthorization(req.TenantID, cardAccount.ID(), req.Amount, req.MerchantRef, req.Reference, now)
		if err != nil {
			return err
		}

		if err := repos.CardAccounts().Save(ctx, cardAccount); err != nil {
			return err
		}
		if err := repos.Authorizations().Save(ctx, auth); err != nil {
			return err
		}

		record, err := domain.NewSpendAuthorizedRecord(auth, req.CorrelationID, types.CausationID{}, now)
		if err != nil {
			return err
		}
		if err := s.store.Append(ctx, tx.Exec(), record); err != nil {
			return err
		}

		result = &CreateAuthorizationResponse{
			AuthorizationID: auth.ID().String(),
			Status:          string(auth.State()),
		}

		if err := storeIdempotency(ctx, repos.IdempotencyStore(), req.TenantID, req.IdempotencyKey,
			auth.ID().String(), http.StatusCreated, result, now); err != nil {
			return err
		}

		logging.InfoContext(ctx, "authorization created",
			"authorization_id", auth.ID().String(),
			"tenant_id", req.TenantID.String(),
			"amount", req.Amount.String(),
		)
		return nil
	})

	if conflict, conflictErr := handleIdempotencyConflict[CreateAuthorizationResponse](err); conflictErr != nil {
		return nil, conflictErr
	} else if conflict != nil {
		return conflict, nil
	}

	return result, err
}

// CaptureAuthorizationRequest represents a request to capture an authorization.
type CaptureAuthorizationRequest struct {
	TenantID        types.TenantID
	AuthorizationID domain.AuthorizationID
	IdempotencyKey  string
	Amount          types.Money
	CorrelationID   types.CorrelationID
}

// CaptureAuthorizationResponse represents the response from capturing an authorization.
type CaptureAuthorizationResponse struct {
	AuthorizationID string `json:"authorization_id"`
	Status          string `json:"status"`
	CapturedAmount  string `json:"captured_amount"`
}

// CaptureAuthorization captures an existing authorization.
func (s *SpendingService) CaptureAuthorization(ctx context.Context, req CaptureAuthorizationRequest) (*CaptureAuthorizationResponse, error) {
	if cached, err := checkIdempotency[CaptureAuthorizationResponse](ctx, s.reads.IdempotencyStore(), req.TenantID, req.IdempotencyKey); err != nil {
		return nil, err
	} else if cached != nil {
		return cached, nil
	}

	var result *CaptureAuthorizationResponse

	err := s.atomic(ctx, func(repos domain.Repositories, tx outbox.Transaction) error {
		now := s.clock.Now()

		auth, err := repos.Authorizations().FindByID(ctx, req.TenantID, req.AuthorizationID)
		if err != nil {
			return err
		}

		if err := auth.Capture(req.Amount, now); err != nil {
			return err
		}

		if err := repos.Authorizations().Save(ctx, auth); err != nil {
			return err
		}

		record, err := domain.NewSpendCapturedRecord(auth, req.CorrelationID, types.CausationID{}, now)
		if err != nil {
			return err
		}
		if err := s.store.Append(ctx, tx.Exec(), record); err != nil {
			return err
		}

		result = &CaptureAuthorizationResponse{
			AuthorizationID: auth.ID().String(),
			Status:          string(auth.State()),
			CapturedAmount:  auth.CapturedAmount().String(),
		}

		if err := storeIdempotency(ctx, repos.IdempotencyStore(), req.TenantID, req.IdempotencyKey,
			auth.ID().String(), http.StatusOK, result, now); err != nil {
			return err
		}

		logging.InfoContext(ctx, "authorization captured",
			"authorization_id", auth.ID().String(),
			"tenant_id", req.TenantID.String(),
			"captured_amount", req.Amount.String(),
		)
		return nil
	})

	if conflict, conflictErr := handleIdempotencyConflict[CaptureAuthorizationResponse](err); conflictErr != nil {
		return nil, conflictErr
	} else if conflict != nil {
		return conflict, nil
	}

	return result, err
}

// GetAuthorizationRequest represents a request to get an authorization.
type GetAuthorizationRequest struct {
	TenantID        types.TenantID
	AuthorizationID domain.AuthorizationID
}

// GetAuthorizationResponse represents the response from getting an authorization.
type GetAuthorizationResponse struct {
	AuthorizationID  string      `json:"authorization_id"`
	CardAccountID    string      `json:"card_account_id"`
	AuthorizedAmount types.Money `json:"authorized_amount"`
	CapturedAmount   types.Money `json:"captured_amount"`
	MerchantRef      string      `json:"merchant_ref"`
	Reference        string      `json:"reference"`
	Status           string      `json:"status"`
	CreatedAt        string      `json:"created_at"`
	UpdatedAt        string      `json:"updated_at"`
}

// GetAuthorization retrieves an authorization by ID. Read-only; does not
// open a transaction.
func (s *SpendingService) GetAuthorization(ctx context.Context, req GetAuthorizationRequest) (*GetAuthorizationResponse, error) {
	auth, err := s.reads.Authorizations().FindByID(ctx, req.TenantID, req.AuthorizationID)
	if err != nil {
		return nil, err
	}

	return &GetAuthorizationResponse{
		AuthorizationID:  auth.ID().String(),
		CardAccountID:    auth.CardAccountID().String(),
		AuthorizedAmount: auth.AuthorizedAmount(),
		CapturedAmount:   auth.CapturedAmount(),
		MerchantRef:      auth.MerchantRef(),
		Reference:        auth.Reference(),
		Status:           string(auth.State()),
		CreatedAt:        auth.CreatedAt().Format(time.RFC3339),
		UpdatedAt:        auth.UpdatedAt().Format(time.RFC3339),
	}, nil
}

// CreateCardAccountRequest represents a request to create a card account.
type CreateCardAccountRequest struct {
	TenantID      types.TenantID
	SpendingLimit types.Money
}

// CreateCardAccountResponse represents the response from creating a card account.
type CreateCardAccountResponse struct {
	CardAccountID string `json:"card_account_id"`
}

// CreateCardAccount creates a new card account for a tenant. Typically done
// during onboarding; carries no outbox event of its own.
func (s *SpendingService) CreateCardAccount(ctx context.Context, req CreateCardAccountRequest) (*CreateCardAccountResponse, error) {
	var result *CreateCardAccountResponse

	err := s.atomic(ctx, func(repos domain.Repositories, tx outbox.Transaction) error {
		now := s.clock.Now()

		account, err := domain.NewCardAccount(req.TenantID, req.SpendingLimit, now)
		if err != nil {
			return err
		}

		if err := repos.CardAccounts().Save(ctx, account); err != nil {
			return err
		}

		result = &CreateCardAccountResponse{CardAccountID: account.ID().String()}

		logging.InfoContext(ctx, "card account created",
			"card_account_id", account.ID().String(),
			"tenant_id", req.TenantID.String(),
			"spending_limit", req.SpendingLimit.String(),
		)
		return nil
	})

	return result, err
}

// ReverseAuthorizationRequest represents a request to reverse an authorization.
type ReverseAuthorizationRequest struct {
	TenantID        types.TenantID
	AuthorizationID domain.AuthorizationID
	IdempotencyKey  string
	CorrelationID   types.CorrelationID
}

// ReverseAuthorizationResponse represents the response from reversing an authorization.
type ReverseAuthorizationResponse struct {
	AuthorizationID string `json:"authorization_id"`
	Status          string `json:"status"`
}

// ReverseAuthorization reverses an existing authorization, releasing the held amount.
func (s *SpendingService) ReverseAuthorization(ctx context.Context, req ReverseAuthorizationRequest) (*ReverseAuthorizationResponse, error) {
	if cached, err := checkIdempotency[ReverseAuthorizationResponse](ctx, s.reads.IdempotencyStore(), req.TenantID, req.IdempotencyKey); err != nil {
		return nil, err
	} else if cached != nil {
		return cached, nil
	}

	var result *ReverseAuthorizationResponse

	err := s.atomic(ctx, func(repos domain.Repositories, tx outbox.Transaction) error {
		now := s.clock.Now()

		auth, err := repos.Authorizations().FindByID(ctx, req.TenantID, req.AuthorizationID)
		if err != nil {
			return err
		}

		cardAccount, err := repos.CardAccounts().FindByID(ctx, req.TenantID, auth.CardAccountID())
		if err != nil {
			return err
		}

		if err := auth.Reverse(now); err != nil {
			return err
		}

		if err := cardAccount.ReleaseAmount(auth.AuthorizedAmount(), now); err != nil {
			return err
		}

		if err := repos.CardAccounts().Save(ctx, cardAccount); err != nil {
			return err
		}
		if err := repos.Authorizations().Save(ctx, auth); err != nil {
			return err
		}

		record, err := domain.NewSpendReversedRecord(auth, req.CorrelationID, types.CausationID{}, now)
		if err != nil {
			return err
		}
		if err := s.store.Append(ctx, tx.Exec(), record); err != nil {
			return err
		}

		result = &ReverseAuthorizationResponse{
			AuthorizationID: auth.ID().String(),
			Status:          string(auth.State()),
		}

		if err := storeIdempotency(ctx, repos.IdempotencyStore(), req.TenantID, req.IdempotencyKey,
			auth.ID().String(), http.StatusOK, result, now); err != nil {
			return err
		}

		logging.InfoContext(ctx, "authorization reversed",
			"authorization_id", auth.ID().String(),
			"tenant_id", req.TenantID.String(),
			"reversed_amount", auth.AuthorizedAmount().String(),
		)
		return nil
	})

	if conflict, conflictErr := handleIdempotencyConflict[ReverseAuthorizationResponse](err); conflictErr != nil {
		return nil, conflictErr
	} else if conflict != nil {
		return conflict, nil
	}

	return result, err
}

// ExpireAuthorizationRequest represents a request to expire an unused authorization.
type ExpireAuthorizationRequest struct {
	TenantID        types.TenantID
	AuthorizationID domain.AuthorizationID
	IdempotencyKey  string
	CorrelationID   types.CorrelationID
}

// ExpireAuthorizationResponse represents the response from expiring an authorization.
type ExpireAuthorizationResponse struct {
	AuthorizationID string `json:"authorization_id"`
	Status          string `json:"status"`
}

// ExpireAuthorization expires an authorization that was never captured or
// reversed, releasing its held amount back to the card account. Intended
// to be driven by an external scheduler (out of scope here); the command
// surface only needs to guarantee the domain mutation and the
// SpendExpired outbox record land in the same transaction.
func (s *SpendingService) ExpireAuthorization(ctx context.Context, req ExpireAuthorizationRequest) (*ExpireAuthorizationResponse, error) {
	if cached, err := checkIdempotency[ExpireAuthorizationResponse](ctx, s.reads.IdempotencyStore(), req.TenantID, req.IdempotencyKey); err != nil {
		return nil, err
	} else if cached != nil {
		return cached, nil
	}

	var result *ExpireAuthorizationResponse

	err := s.atomic(ctx, func(repos domain.Repositories, tx outbox.Transaction) error {
		now := s.clock.Now()

		auth, err := repos.Authorizations().FindByID(ctx, req.TenantID, req.AuthorizationID)
		if err != nil {
			return err
		}

		cardAccount, err := repos.CardAccounts().FindByID(ctx, req.TenantID, auth.CardAccountID())
		if err != nil {
			return err
		}

		if err := auth.Expire(now); err != nil {
			return err
		}

		if err := cardAccount.ReleaseAmount(auth.AuthorizedAmount(), now); err != nil {
			return err
		}

		if err := repos.CardAccounts().Save(ctx, cardAccount); err != nil {
			return err
		}
		if err := repos.Authorizations().Save(ctx, auth); err != nil {
			return err
		}

		record, err := domain.NewSpendExpiredRecord(auth, req.CorrelationID, types.CausationID{}, now)
		if err != nil {
			return err
		}
		if err := s.store.Append(ctx, tx.Exec(), record); err != nil {
			return err
		}

		result = &ExpireAuthorizationResponse{
			AuthorizationID: auth.ID().String(),
			Status:          string(auth.State()),
		}

		if err := storeIdempotency(ctx, repos.IdempotencyStore(), req.TenantID, req.IdempotencyKey,
			auth.ID().String(), http.StatusOK, result, now); err != nil {
			return err
		}

		logging.InfoContext(ctx, "authorization expired",
			"authorization_id", auth.ID().String(),
			"tenant_id", req.TenantID.String(),
			"released_amount", auth.AuthorizedAmount().String(),
		)
		return nil
	})

	if conflict, conflictErr := handleIdempotencyConflict[ExpireAuthorizationResponse](err); conflictErr != nil {
		return nil, conflictErr
	} else if conflict != nil {
		return conflict, nil
	}

	return result, err
}

// GetCardAccountResponse represents the response from getting a card account.
type GetCardAccountResponse struct {
	CardAccountID  string      `json:"card_account_id"`
	SpendingLimit  types.Money `json:"spending_limit"`
	RollingSpend   types.Money `json:"rolling_spend"`
	AvailableLimit types.Money `json:"available_limit"`
}

// GetCardAccount retrieves a card account by tenant ID. Read-only.
func (s *SpendingService) GetCardAccount(ctx context.Context, tenantID types.TenantID) (*GetCardAccountResponse, error) {
	cardAccount, err := s.reads.CardAccounts().FindByTenantID(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	return &GetCardAccountResponse{
		CardAccountID:  cardAccount.ID().String(),
		SpendingLimit:  cardAccount.SpendingLimit(),
		RollingSpend:   cardAccount.RollingSpend(),
		AvailableLimit: cardAccount.AvailableLimit(),
	}, nil
}
