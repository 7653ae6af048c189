package outbox

import (
	"context"
	"time"

	"aurum-outbox/internal/common/valueobjects"
)

// Store is the outbox record store (C2). Append runs inside the caller's
// unit of work transaction; FetchAndClaim, MarkProcessed and MarkFailed are
// invoked by the relay worker outside any domain transaction.
type Store interface {
	// Append inserts a new, unprocessed record. Callers must invoke it
	// against the Executor bound to the current UnitOfWork transaction so
	// the insert is atomic with the domain mutation that produced it.
	Append(ctx context.Context, exec Executor, record *Record) error

	// FetchAndClaim selects up to limit unprocessed, unquarantined records
	// ordered by occurred_at, and claims them for claimedBy until
	// claimUntil so other relay instances skip them. Returns fewer than
	// limit records when fewer are eligible.
	FetchAndClaim(ctx context.Context, limit int, maxAttempts int, claimedBy string, claimUntil time.Time) ([]*Record, error)

	// MarkProcessed marks a single record published, incrementing its
	// attempts and clearing its last error. Idempotent: marking an
	// already-processed record again is a no-op.
	MarkProcessed(ctx context.Context, id valueobjects.EventID) error

	// MarkFailed increments attempts and records lastErr for a single
	// record. Each record's failure is saved independently so one record's
	// failure never loses another's progress in the same batch.
	MarkFailed(ctx context.Context, id valueobjects.EventID, lastErr string) error

	// MarkQuarantined sets attempts to maxAttempts and records lastErr in a
	// single step, skipping the usual one-per-tick increment. Used for
	// failures that are never worth retrying — an unknown type tag or a
	// malformed payload can't become decodable on a later attempt — so the
	// record is quarantined on the first attempt instead of after
	// maxAttempts separate failed ticks.
	MarkQuarantined(ctx context.Context, id valueobjects.EventID, maxAttempts int, lastErr string) error

	// ListByTenant returns a tenant's most recent records, newest first, for
	// operational visibility. Read-only: never claims or mutates a row.
	ListByTenant(ctx context.Context, tenantID valueobjects.TenantID, limit int) ([]*Record, error)
}
