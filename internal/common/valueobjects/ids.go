// Package valueobjects holds small immutable types shared across bounded
// contexts: tenant/correlation identifiers and money. Struct wrappers around
// strings prevent accidental type confusion at compile time (a TenantID can
// never be passed where a CorrelationID is expected).
package valueobjects

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrEmptyID is returned when parsing an empty string as an ID.
var ErrEmptyID = errors.New("id cannot be empty")

// ErrInvalidUUID is returned when parsing an invalid UUID format.
var ErrInvalidUUID = errors.New("invalid uuid format")

// TenantID identifies a tenant for multi-tenancy isolation.
type TenantID struct {
	value string
}

// ParseTenantID creates a TenantID from a string, validating it is non-empty.
func ParseTenantID(s string) (TenantID, error) {
	if s == "" {
		return TenantID{}, fmt.Errorf("tenant_id: %w", ErrEmptyID)
	}
	return TenantID{value: s}, nil
}

// MustParseTenantID panics on invalid input. Use only in tests.
func MustParseTenantID(s string) TenantID {
	t, err := ParseTenantID(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TenantID) String() string { return t.value }
func (t TenantID) IsEmpty() bool  { return t.value == "" }

// CorrelationID tracks a request across service and transaction boundaries.
// It is threaded from the command API through the outbox record so the
// relay's published messages can be correlated back to the request that
// produced them.
type CorrelationID struct {
	value string
}

// ParseCorrelationID creates a CorrelationID from a string, validating it is non-empty.
func ParseCorrelationID(s string) (CorrelationID, error) {
	if s == "" {
		return CorrelationID{}, fmt.Errorf("correlation_id: %w", ErrEmptyID)
	}
	return CorrelationID{value: s}, nil
}

// NewCorrelationID generates a new unique CorrelationID.
func NewCorrelationID() CorrelationID {
	return CorrelationID{value: uuid.NewString()}
}

func (c CorrelationID) String() string { return c.value }
func (c CorrelationID) IsEmpty() bool  { return c.value == "" }

// CausationID links an event to the event that caused it.
type CausationID struct {
	value string
}

// ParseCausationID creates a CausationID from a string, validating UUID format.
func ParseCausationID(s string) (CausationID, error) {
	if s == "" {
		return CausationID{}, nil
	}
	if _, err := uuid.Parse(s); err != nil {
		return CausationID{}, fmt.Errorf("causation_id: %w", ErrInvalidUUID)
	}
	return CausationID{value: s}, nil
}

func (c CausationID) String() string { return c.value }
func (c CausationID) IsEmpty() bool  { return c.value == "" }

// EventID uniquely identifies a domain event. It doubles as the outbox
// record's primary key and the broker-level message id, which is what lets
// consumers deduplicate a redelivered message.
type EventID struct {
	value string
}

// ParseEventID creates an EventID from a string, validating UUID format.
func ParseEventID(s string) (EventID, error) {
	if s == "" {
		return EventID{}, fmt.Errorf("event_id: %w", ErrEmptyID)
	}
	if _, err := uuid.Parse(s); err != nil {
		return EventID{}, fmt.Errorf("event_id: %w", ErrInvalidUUID)
	}
	return EventID{value: s}, nil
}

// NewEventID generates a new unique EventID.
func NewEventID() EventID {
	return EventID{value: uuid.NewString()}
}

func (e EventID) String() string { return e.value }
func (e EventID) IsEmpty() bool  { return e.value == "" }
