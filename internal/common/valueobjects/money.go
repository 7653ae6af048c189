package valueobjects

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency is a validated ISO 4217 currency code.
type Currency string

// Supported currency codes.
const (
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
	CurrencyGBP Currency = "GBP"
)

// ErrInvalidCurrency is returned when parsing an unsupported currency code.
var ErrInvalidCurrency = errors.New("invalid or unsupported currency code")

// ErrNonPositiveAmount is returned when a positive amount is required but not provided.
var ErrNonPositiveAmount = errors.New("amount must be positive")

// ErrCurrencyMismatch is returned when an operation mixes two different currencies.
var ErrCurrencyMismatch = errors.New("currency mismatch")

var validCurrencies = map[Currency]bool{
	CurrencyEUR: true,
	CurrencyUSD: true,
	CurrencyGBP: true,
}

// ParseCurrency validates and parses a currency code string.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(s)
	if !validCurrencies[c] {
		return "", fmt.Errorf("%w: %s", ErrInvalidCurrency, s)
	}
	return c, nil
}

func (c Currency) String() string { return string(c) }

// Money is a monetary amount in a given currency, backed by decimal.Decimal
// for exact arithmetic (no floating point drift on financial amounts).
type Money struct {
	Amount   decimal.Decimal `json:"value"`
	Currency Currency        `json:"currency"`
}

// New creates a Money value with a pre-validated currency.
func New(amount decimal.Decimal, currency Currency) Money {
	return Money{Amount: amount, Currency: currency}
}

// NewFromString parses both the decimal amount and the currency code.
func NewFromString(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	c, err := ParseCurrency(currency)
	if err != nil {
		return Money{}, err
	}
	return New(d, c), nil
}

// NewPositiveFromString is like NewFromString but rejects non-positive amounts.
// Use for authorization amounts and other inputs that must be strictly positive.
func NewPositiveFromString(amount, currency string) (Money, error) {
	m, err := NewFromString(amount, currency)
	if err != nil {
		return Money{}, err
	}
	if !m.Amount.IsPositive() {
		return Money{}, ErrNonPositiveAmount
	}
	return m, nil
}

// Zero returns a zero-valued Money in the given currency.
func Zero(currency Currency) Money {
	return New(decimal.Zero, currency)
}

// Add adds two Money values of the same currency.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, ErrCurrencyMismatch
	}
	return New(m.Amount.Add(other.Amount), m.Currency), nil
}

// Subtract subtracts other from m, both of the same currency.
func (m Money) Subtract(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, ErrCurrencyMismatch
	}
	return New(m.Amount.Sub(other.Amount), m.Currency), nil
}

// IsPositive returns true if the amount is strictly greater than zero.
func (m Money) IsPositive() bool { return m.Amount.IsPositive() }

// IsZero returns true if the amount equals zero.
func (m Money) IsZero() bool { return m.Amount.IsZero() }

// GreaterThan returns true if m > other (same currency only).
func (m Money) GreaterThan(other Money) bool {
	return m.Currency == other.Currency && m.Amount.GreaterThan(other.Amount)
}

// LessThanOrEqual returns true if m <= other (same currency only).
func (m Money) LessThanOrEqual(other Money) bool {
	return m.Currency == other.Currency && m.Amount.LessThanOrEqual(other.Amount)
}

// Equal returns true if both amount and currency match.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// String renders a human-readable "1234.56 EUR" representation.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(2), m.Currency)
}
