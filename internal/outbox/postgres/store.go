// Package postgres implements the outbox engine's C1 unit of work and C2
// record store against PostgreSQL via jackc/pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"

	"aurum-outbox/internal/common/tracing"
	"aurum-outbox/internal/common/valueobjects"
	"aurum-outbox/internal/outbox"
)

const (
	insertRecordSQL = `
		INSERT INTO outbox.records (
			id, tenant_id, type_tag, payload,
			correlation_id, causation_id, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	// claimBatchSQL claims up to $4 unprocessed, unquarantined rows for
	// claimedBy. FOR UPDATE SKIP LOCKED lets multiple relay instances poll
	// concurrently without blocking on each other; the claimed_by /
	// claimed_until columns additionally record who holds a row and until
	// when, so a crashed claimant's rows become eligible again once the
	// claim expires rather than being stuck forever.
	claimBatchSQL = `
		UPDATE outbox.records
		SET claimed_by = $1, claimed_until = $2
		WHERE id IN (
			SELECT id FROM outbox.records
			WHERE processed_at IS NULL
				AND attempts < $3
				AND (claimed_until IS NULL OR claimed_until < now())
			ORDER BY occurred_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, tenant_id, type_tag, payload, correlation_id,
			causation_id, occurred_at, attempts, last_error,
			claimed_by, claimed_until`

	markProcessedSQL = `
		UPDATE outbox.records
		SET processed_at = now(), attempts = attempts + 1, last_error = NULL,
			claimed_by = NULL, claimed_until = NULL
		WHERE id = $1 AND processed_at IS NULL`

	markFailedSQL = `
		UPDATE outbox.records
		SET attempts = attempts + 1, last_error = $2,
			claimed_by = NULL, claimed_until = NULL
		WHERE id = $1`

	markQuarantinedSQL = `
		UPDATE outbox.records
		SET attempts = $2, last_error = $3,
			claimed_by = NULL, claimed_until = NULL
		WHERE id = $1`

	listByTenantSQL = `
		SELECT id, tenant_id, type_tag, payload, correlation_id,
			causation_id, occurred_at, processed_at, attempts, last_error,
			claimed_by, claimed_until
		FROM outbox.records
		WHERE tenant_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2`
)

// Store is the C2 record store backed by PostgreSQL. Append takes an
// explicit Executor so it can share a caller's transaction; the relay-facing
// methods (FetchAndClaim, MarkProcessed, MarkFailed) run directly against
// the pool since they execute outside any domain transaction.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a Store bound to pool for its relay-facing methods.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ outbox.Store = (*Store)(nil)

// Append inserts record using exec, typically the Executor bound to the
// current outbox.Transaction.
func (s *Store) Append(ctx context.Context, exec outbox.Executor, record *outbox.Record) error {
	_, err := exec.Exec(ctx, insertRecordSQL,
		record.ID.String(),
		record.TenantID.String(),
		record.TypeTag,
		record.Payload,
		record.CorrelationID.String(),
		nullableText(record.CausationID.String()),
		record.OccurredAt,
	)
	if err != nil {
		return classifyStoreError(err)
	}
	return nil
}

// FetchAndClaim is called by the relay via the pool, outside any domain
// transaction: it owns its own implicit statement-level transaction via the
// single UPDATE ... RETURNING.
func (s *Store) FetchAndClaim(ctx context.Context, limit int, maxAttempts int, claimedBy string, claimUntil time.Time) (records []*outbox.Record, err error) {
	ctx, end := tracing.Start(ctx, tracer, "outbox.Store.FetchAndClaim",
		attribute.String("claimed_by", claimedBy),
		attribute.Int("limit", limit),
	)
	defer func() { end(err) }()

	rows, err := s.pool.Query(ctx, claimBatchSQL, claimedBy, claimUntil, maxAttempts, limit)
	if err != nil {
		err = classifyStoreError(err)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		r, scanErr := scanRecord(rows)
		if scanErr != nil {
			err = classifyStoreError(scanErr)
			return nil, err
		}
		records = append(records, r)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		err = classifyStoreError(rowsErr)
		return nil, err
	}
	return records, nil
}

// MarkProcessed marks id published, counting the successful attempt and
// clearing last_error. Idempotent: a second call on an already-processed id
// affects zero rows and returns nil.
func (s *Store) MarkProcessed(ctx context.Context, id valueobjects.EventID) error {
	_, err := s.pool.Exec(ctx, markProcessedSQL, id.String())
	if err != nil {
		return classifyStoreError(err)
	}
	return nil
}

// MarkFailed increments id's attempt count and stores lastErr.
func (s *Store) MarkFailed(ctx context.Context, id valueobjects.EventID, lastErr string) error {
	_, err := s.pool.Exec(ctx, markFailedSQL, id.String(), lastErr)
	if err != nil {
		return classifyStoreError(err)
	}
	return nil
}

// MarkQuarantined sets attempts directly to maxAttempts for a failure that
// will never become retryable, instead of the usual one-per-tick increment.
func (s *Store) MarkQuarantined(ctx context.Context, id valueobjects.EventID, maxAttempts int, lastErr string) error {
	_, err := s.pool.Exec(ctx, markQuarantinedSQL, id.String(), maxAttempts, lastErr)
	if err != nil {
		return classifyStoreError(err)
	}
	return nil
}

// ListByTenant returns tenantID's most recent records for operational
// visibility, newest first. Never claims or mutates a row.
func (s *Store) ListByTenant(ctx context.Context, tenantID valueobjects.TenantID, limit int) ([]*outbox.Record, error) {
	rows, err := s.pool.Query(ctx, listByTenantSQL, tenantID.String(), limit)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	defer rows.Close()

	var records []*outbox.Record
	for rows.Next() {
		r, err := scanListRecord(rows)
		if err != nil {
			return nil, classifyStoreError(err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError(err)
	}
	return records, nil
}

// scanListRecord reads one row of listByTenantSQL's result set, which
// additionally carries processed_at over scanRecord's claim-oriented shape.
func scanListRecord(rows pgx.Rows) (*outbox.Record, error) {
	var (
		idStr, tenantStr, typeTag, correlationStr string
		payload                                   []byte
		causationID                               pgtype.Text
		occurredAt                time.Time
		processedAt               pgtype.Timestamptz
		attempts                  int
		lastError                 pgtype.Text
		claimedBy                 pgtype.Text
		claimedUntil              pgtype.Timestamptz
	)
	if err := rows.Scan(
		&idStr, &tenantStr, &typeTag, &payload,
		&correlationStr, &causationID, &occurredAt, &processedAt,
		&attempts, &lastError, &claimedBy, &claimedUntil,
	); err != nil {
		return nil, err
	}

	id, err := valueobjects.ParseEventID(idStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt record id %q: %w", idStr, err)
	}
	tenantID, err := valueobjects.ParseTenantID(tenantStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt tenant id %q: %w", tenantStr, err)
	}
	corrID, err := valueobjects.ParseCorrelationID(correlationStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt correlation id %q: %w", correlationStr, err)
	}
	causID, err := valueobjects.ParseCausationID(causationID.String)
	if err != nil {
		return nil, fmt.Errorf("corrupt causation id %q: %w", causationID.String, err)
	}

	r := &outbox.Record{
		ID:            id,
		TenantID:      tenantID,
		TypeTag:       typeTag,
		Payload:       payload,
		CorrelationID: corrID,
		CausationID:   causID,
		OccurredAt:    occurredAt,
		Attempts:      attempts,
	}
	if processedAt.Valid {
		t := processedAt.Time
		r.ProcessedAt = &t
	}
	if lastError.Valid {
		r.LastError = lastError.String
	}
	if claimedBy.Valid {
		r.ClaimedBy = claimedBy.String
	}
	if claimedUntil.Valid {
		t := claimedUntil.Time
		r.ClaimedUntil = &t
	}
	return r, nil
}

// scanRecord reads one row of claimBatchSQL's result set.
func scanRecord(rows pgx.Rows) (*outbox.Record, error) {
	var (
		idStr, tenantStr, typeTag, correlationStr string
		payload                                   []byte
		causationID                               pgtype.Text
		occurredAt                time.Time
		attempts                  int
		lastError                 pgtype.Text
		claimedBy                 pgtype.Text
		claimedUntil              pgtype.Timestamptz
	)
	if err := rows.Scan(
		&idStr, &tenantStr, &typeTag, &payload,
		&correlationStr, &causationID, &occurredAt,
		&attempts, &lastError, &claimedBy, &claimedUntil,
	); err != nil {
		return nil, err
	}

	id, err := valueobjects.ParseEventID(idStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt record id %q: %w", idStr, err)
	}
	tenantID, err := valueobjects.ParseTenantID(tenantStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt tenant id %q: %w", tenantStr, err)
	}
	corrID, err := valueobjects.ParseCorrelationID(correlationStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt correlation id %q: %w", correlationStr, err)
	}
	causID, err := valueobjects.ParseCausationID(causationID.String)
	if err != nil {
		return nil, fmt.Errorf("corrupt causation id %q: %w", causationID.String, err)
	}

	r := &outbox.Record{
		ID:            id,
		TenantID:      tenantID,
		TypeTag:       typeTag,
		Payload:       payload,
		CorrelationID: corrID,
		CausationID:   causID,
		OccurredAt:    occurredAt,
		Attempts:      attempts,
	}
	if lastError.Valid {
		r.LastError = lastError.String
	}
	if claimedBy.Valid {
		r.ClaimedBy = claimedBy.String
	}
	if claimedUntil.Valid {
		t := claimedUntil.Time
		r.ClaimedUntil = &t
	}
	return r, nil
}

func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// classifyStoreError maps a pgx/pgconn error to the taxonomy the relay
// decides retries on.
func classifyStoreError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "53300", "57014", "08000", "08003", "08006":
			// serialization_failure, deadlock_detected,
			// too_many_connections, query_canceled, connection errors
			return fmt.Errorf("%w: %v", outbox.ErrTransientStore, err)
		default:
			return fmt.Errorf("%w: %v", outbox.ErrFatalStore, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", outbox.ErrTransientStore, err)
	}
	return fmt.Errorf("%w: %v", outbox.ErrFatalStore, err)
}
