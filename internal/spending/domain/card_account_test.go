package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	types "aurum-outbox/internal/common/valueobjects"
)

type CardAccountSuite struct {
	suite.Suite
	tenantID types.TenantID
	now      time.Time
}

func TestCardAccountSuite(t *testing.T) {
	suite.Run(t, new(CardAccountSuite))
}

func (s *CardAccountSuite) SetupTest() {
	s.tenantID = types.MustParseTenantID("tenant-1")
	s.now = time.Now().UTC()
}

func (s *CardAccountSuite) newAccount(limitAmount int64) *CardAccount {
	limit := types.New(decimalOf(limitAmount), types.CurrencyEUR)
	account, err := NewCardAccount(s.tenantID, limit, s.now)
	s.Require().NoError(err)
	return account
}

func (s *CardAccountSuite) TestConstruction() {
	s.Run("rejects empty tenant ID", func() {
		limit := types.New(decimalOf(500), types.CurrencyEUR)
		_, err := NewCardAccount(types.TenantID{}, limit, s.now)
		s.ErrorIs(err, ErrEmptyTenantID)
	})

	s.Run("starts with zero rolling spend at version 1", func() {
		account := s.newAccount(500)
		s.True(account.RollingSpend().IsZero())
		s.Equal(1, account.Version())
	})
}

// Spending Limit Enforcement
func (s *CardAccountSuite) TestSpendingLimitEnforcement() {
	s.Run("authorization within limit is allowed", func() {
		account := s.newAccount(500)

		err := account.AuthorizeAmount(types.New(decimalOf(100), types.CurrencyEUR), s.now)

		s.NoError(err)
	})

	s.Run("authorization exceeding limit is rejected", func() {
		account := s.newAccount(500)

		err := account.AuthorizeAmount(types.New(decimalOf(600), types.CurrencyEUR), s.now)

		s.ErrorIs(err, ErrSpendingLimitExceeded)
	})

	s.Run("authorization exactly at the remaining limit is allowed", func() {
		account := s.newAccount(500)

		err := account.AuthorizeAmount(types.New(decimalOf(500), types.CurrencyEUR), s.now)

		s.NoError(err)
	})

	s.Run("limit considers existing authorizations", func() {
		account := s.newAccount(500)
		s.Require().NoError(account.AuthorizeAmount(types.New(decimalOf(450), types.CurrencyEUR), s.now))

		err := account.AuthorizeAmount(types.New(decimalOf(100), types.CurrencyEUR), s.now)

		s.ErrorIs(err, ErrSpendingLimitExceeded)
	})

	s.Run("rejects currency mismatch", func() {
		account := s.newAccount(500)

		err := account.AuthorizeAmount(types.New(decimalOf(100), types.CurrencyUSD), s.now)

		s.ErrorIs(err, ErrCurrencyMismatch)
	})
}

// Rolling Spend Counters
func (s *CardAccountSuite) TestRollingSpendCounters() {
	s.Run("authorization increases rolling spend", func() {
		account := s.newAccount(500)
		amount := types.New(decimalOf(100), types.CurrencyEUR)

		s.Require().NoError(account.AuthorizeAmount(amount, s.now))

		s.True(account.RollingSpend().Equal(amount))
		s.Equal(2, account.Version())
	})

	s.Run("reversal decreases rolling spend", func() {
		account := s.newAccount(500)
		amount := types.New(decimalOf(100), types.CurrencyEUR)
		s.Require().NoError(account.AuthorizeAmount(amount, s.now))

		err := account.ReleaseAmount(amount, s.now.Add(time.Minute))

		s.Require().NoError(err)
		s.True(account.RollingSpend().IsZero())
	})

	s.Run("available limit reflects rolling spend", func() {
		account := s.newAccount(500)
		s.Require().NoError(account.AuthorizeAmount(types.New(decimalOf(300), types.CurrencyEUR), s.now))

		expected := types.New(decimalOf(200), types.CurrencyEUR)
		s.True(account.AvailableLimit().Equal(expected))
	})
}
