package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	types "aurum-outbox/internal/common/valueobjects"
	"aurum-outbox/internal/spending/domain"
)

// IdempotencyStore implements domain.IdempotencyStore using PostgreSQL.
type IdempotencyStore struct {
	db Executor
}

// NewIdempotencyStore creates a new IdempotencyStore.
func NewIdempotencyStore(db Executor) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

// Get retrieves an idempotency entry by key.
// Returns (nil, nil) when no entry exists; absence is not treated as an error.
func (s *IdempotencyStore) Get(ctx context.Context, tenantID types.TenantID, key string) (*domain.IdempotencyEntry, error) {
	entry := domain.IdempotencyEntry{TenantID: tenantID, IdempotencyKey: key}

	err := s.db.QueryRow(ctx, `
		SELECT resource_id, status_code, response_body, created_at
		FROM spending.idempotency_keys
		WHERE tenant_id = $1 AND idempotency_key = $2`,
		tenantID.String(), key,
	).Scan(&entry.ResourceID, &entry.StatusCode, &entry.ResponseBody, &entry.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Set stores an idempotency entry.
// It upserts on (tenant_id, idempotency_key) and overwrites the stored response payload.
func (s *IdempotencyStore) Set(ctx context.Context, entry *domain.IdempotencyEntry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO spending.idempotency_keys (
			tenant_id, idempotency_key, resource_id, status_code, response_body, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, idempotency_key) DO UPDATE SET
			resource_id = EXCLUDED.resource_id,
			status_code = EXCLUDED.status_code,
			response_body = EXCLUDED.response_body`,
		entry.TenantID.String(), entry.IdempotencyKey, entry.ResourceID,
		entry.StatusCode, entry.ResponseBody, entry.CreatedAt,
	)
	return err
}

// SetIfAbsent atomically stores an entry if no entry exists.
// It attempts the insert first and, on conflict, falls back to reading the
// row that won the race, so callers always get back the entry that is
// actually stored.
// Returns (true, entry, nil) if inserted, or (false, existing, nil) if already present.
func (s *IdempotencyStore) SetIfAbsent(ctx context.Context, entry *domain.IdempotencyEntry) (bool, *domain.IdempotencyEntry, error) {
	var (
		resourceID   string
		statusCode   int
		responseBody []byte
		createdAt    = entry.CreatedAt
		inserted     bool
	)

	err := s.db.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO spending.idempotency_keys (
				tenant_id, idempotency_key, resource_id, status_code, response_body, created_at
			) VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (tenant_id, idempotency_key) DO NOTHING
			RETURNING resource_id, status_code, response_body, created_at, true AS inserted
		)
		SELECT resource_id, status_code, response_body, created_at, inserted FROM ins
		UNION ALL
		SELECT resource_id, status_code, response_body, created_at, false AS inserted
		FROM spending.idempotency_keys
		WHERE tenant_id = $1 AND idempotency_key = $2
		LIMIT 1`,
		entry.TenantID.String(), entry.IdempotencyKey, entry.ResourceID,
		entry.StatusCode, entry.ResponseBody, entry.CreatedAt,
	).Scan(&resourceID, &statusCode, &responseBody, &createdAt, &inserted)
	if err != nil {
		return false, nil, fmt.Errorf("insert idempotency entry: %w", err)
	}

	return inserted, &domain.IdempotencyEntry{
		TenantID:       entry.TenantID,
		IdempotencyKey: entry.IdempotencyKey,
		ResourceID:     resourceID,
		StatusCode:     statusCode,
		ResponseBody:   responseBody,
		CreatedAt:      createdAt,
	}, nil
}

// Verify interface implementation.
var _ domain.IdempotencyStore = (*IdempotencyStore)(nil)
