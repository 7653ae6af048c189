package outbox

import (
	"time"

	"aurum-outbox/internal/common/valueobjects"
)

// Record is a single outbox entry: a domain event captured durably in the
// same transaction as the domain mutation that produced it, awaiting
// publication to a broker.
//
// Invariants:
//   - ID is unique and assigned at construction (NewRecord), never by storage.
//   - ProcessedAt is nil until the relay worker successfully publishes it.
//   - Attempts only increases; it is incremented once per relay attempt,
//     success or failure.
//   - A record with Attempts >= the configured max attempts is quarantined:
//     the relay skips it without further publish attempts.
type Record struct {
	ID            valueobjects.EventID
	TenantID      valueobjects.TenantID
	TypeTag       string
	Payload       []byte
	CorrelationID valueobjects.CorrelationID
	CausationID   valueobjects.CausationID
	OccurredAt    time.Time

	Attempts     int
	LastError    string
	ProcessedAt  *time.Time
	ClaimedBy    string
	ClaimedUntil *time.Time
}

// NewRecord creates a Record ready to append inside a domain transaction.
// occurredAt should be supplied by the caller's clock, not time.Now, so
// callers remain testable with a fixed clock.
func NewRecord(
	tenantID valueobjects.TenantID,
	typeTag string,
	payload []byte,
	correlationID valueobjects.CorrelationID,
	causationID valueobjects.CausationID,
	occurredAt time.Time,
) *Record {
	return &Record{
		ID:            valueobjects.NewEventID(),
		TenantID:      tenantID,
		TypeTag:       typeTag,
		Payload:       payload,
		CorrelationID: correlationID,
		CausationID:   causationID,
		OccurredAt:    occurredAt,
	}
}

// IsProcessed reports whether the record has already been published.
func (r *Record) IsProcessed() bool {
	return r.ProcessedAt != nil
}

// IsQuarantined reports whether the record has exhausted its attempts and
// the relay should stop trying to publish it.
func (r *Record) IsQuarantined(maxAttempts int) bool {
	return !r.IsProcessed() && r.Attempts >= maxAttempts
}
