package domain

import (
	"encoding/json"
	"time"

	types "aurum-outbox/internal/common/valueobjects"
	"aurum-outbox/internal/outbox"
)

// Event type tags for the spending context. These are the type tags the C3
// registry keys decoders by, and the event type header the relay attaches
// to every published message.
const (
	EventTypeSpendAuthorized = "spend.authorized"
	EventTypeSpendCaptured   = "spend.captured"
	EventTypeSpendReversed   = "spend.reversed"
	EventTypeSpendExpired    = "spend.expired"
)

// SpendAuthorizedEvent is emitted when a spend is authorized.
type SpendAuthorizedEvent struct {
	AuthorizationID string      `json:"authorization_id"`
	TenantID        string      `json:"tenant_id"`
	CardAccountID   string      `json:"card_account_id"`
	Amount          types.Money `json:"amount"`
	MerchantRef     string      `json:"merchant_ref"`
	Reference       string      `json:"reference"`
	OccurredAt      time.Time   `json:"occurred_at"`
}

// SpendCapturedEvent is emitted when a spend is captured.
type SpendCapturedEvent struct {
	AuthorizationID string      `json:"authorization_id"`
	TenantID        string      `json:"tenant_id"`
	CardAccountID   string      `json:"card_account_id"`
	CapturedAmount  types.Money `json:"captured_amount"`
	OccurredAt      time.Time   `json:"occurred_at"`
}

// SpendReversedEvent is emitted when a spend is reversed.
type SpendReversedEvent struct {
	AuthorizationID string      `json:"authorization_id"`
	TenantID        string      `json:"tenant_id"`
	CardAccountID   string      `json:"card_account_id"`
	Amount          types.Money `json:"amount"`
	OccurredAt      time.Time   `json:"occurred_at"`
}

// SpendExpiredEvent is emitted when an authorization expires unused.
type SpendExpiredEvent struct {
	AuthorizationID string      `json:"authorization_id"`
	TenantID        string      `json:"tenant_id"`
	CardAccountID   string      `json:"card_account_id"`
	Amount          types.Money `json:"amount"`
	OccurredAt      time.Time   `json:"occurred_at"`
}

// NewSpendAuthorizedRecord builds the outbox record for a SpendAuthorized
// event, ready to append in the same transaction as the Authorization save
// that produced it. now should come from the caller's clock.
func NewSpendAuthorizedRecord(auth *Authorization, correlationID types.CorrelationID, causationID types.CausationID, now time.Time) (*outbox.Record, error) {
	event := SpendAuthorizedEvent{
		AuthorizationID: auth.ID().String(),
		TenantID:        auth.TenantID().String(),
		CardAccountID:   auth.CardAccountID().String(),
		Amount:          auth.AuthorizedAmount(),
		MerchantRef:     auth.MerchantRef(),
		Reference:       auth.Reference(),
		OccurredAt:      now,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return outbox.NewRecord(auth.TenantID(), EventTypeSpendAuthorized, payload, correlationID, causationID, now), nil
}

// NewSpendCapturedRecord builds the outbox record for a SpendCaptured event.
func NewSpendCapturedRecord(auth *Authorization, correlationID types.CorrelationID, causationID types.CausationID, now time.Time) (*outbox.Record, error) {
	event := SpendCapturedEvent{
		AuthorizationID: auth.ID().String(),
		TenantID:        auth.TenantID().String(),
		CardAccountID:   auth.CardAccountID().String(),
		CapturedAmount:  auth.CapturedAmount(),
		OccurredAt:      now,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return outbox.NewRecord(auth.TenantID(), EventTypeSpendCaptured, payload, correlationID, causationID, now), nil
}

// NewSpendReversedRecord builds the outbox record for a SpendReversed event.
func NewSpendReversedRecord(auth *Authorization, correlationID types.CorrelationID, causationID types.CausationID, now time.Time) (*outbox.Record, error) {
	event := SpendReversedEvent{
		AuthorizationID: auth.ID().String(),
		TenantID:        auth.TenantID().String(),
		CardAccountID:   auth.CardAccountID().String(),
		Amount:          auth.AuthorizedAmount(),
		OccurredAt:      now,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return outbox.NewRecord(auth.TenantID(), EventTypeSpendReversed, payload, correlationID, causationID, now), nil
}

// NewSpendExpiredRecord builds the outbox record for a SpendExpired event.
func NewSpendExpiredRecord(auth *Authorization, correlationID types.CorrelationID, causationID types.CausationID, now time.Time) (*outbox.Record, error) {
	event := SpendExpiredEvent{
		AuthorizationID: auth.ID().String(),
		TenantID:        auth.TenantID().String(),
		CardAccountID:   auth.CardAccountID().String(),
		Amount:          auth.AuthorizedAmount(),
		OccurredAt:      now,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return outbox.NewRecord(auth.TenantID(), EventTypeSpendExpired, payload, correlationID, causationID, now), nil
}
