package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/suite"

	"aurum-outbox/internal/outbox"
)

// RetrySuite exercises withRetry directly, the policy C1.save depends on
// (spec §4.1's transient-fault retry policy). A fake operation lets this
// suite force the exact transient/permanent classifications classifyStoreError
// would produce from a real pgconn.PgError, without needing a live database.
type RetrySuite struct {
	suite.Suite
}

func TestRetrySuite(t *testing.T) {
	suite.Run(t, new(RetrySuite))
}

// transientErr mirrors what classifyStoreError returns for a serialization
// failure (pgcode 40001).
func transientErr() error {
	return classifyStoreError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})
}

func (s *RetrySuite) TestSucceedsWithoutRetryOnFirstAttempt() {
	calls := 0
	err := withRetry(context.Background(), 3, func() error {
		calls++
		return nil
	})

	s.NoError(err)
	s.Equal(1, calls)
}

func (s *RetrySuite) TestRetriesTransientFailureUntilSuccess() {
	calls := 0
	err := withRetry(context.Background(), 3, func() error {
		calls++
		if calls < 3 {
			return transientErr()
		}
		return nil
	})

	s.NoError(err)
	s.Equal(3, calls)
}

func (s *RetrySuite) TestStopsAfterMaxAttemptsTransientFailures() {
	calls := 0
	err := withRetry(context.Background(), 3, func() error {
		calls++
		return transientErr()
	})

	s.Error(err)
	s.ErrorIs(err, outbox.ErrTransientStore)
	s.Equal(3, calls)
}

func (s *RetrySuite) TestPermanentFailureShortCircuits() {
	calls := 0
	permanent := classifyStoreError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})
	err := withRetry(context.Background(), 5, func() error {
		calls++
		return permanent
	})

	s.Error(err)
	s.ErrorIs(err, outbox.ErrFatalStore)
	s.Equal(1, calls, "a fatal error must not consume any retry attempts")
}

func (s *RetrySuite) TestCanceledContextStopsRetrying() {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := withRetry(ctx, 5, func() error {
		calls++
		if calls == 1 {
			cancel()
		}
		return transientErr()
	})

	s.Error(err)
	s.True(errors.Is(err, context.Canceled) || errors.Is(err, outbox.ErrTransientStore))
}

func (s *RetrySuite) TestZeroOrNegativeMaxAttemptsStillTriesOnce() {
	calls := 0
	err := withRetry(context.Background(), 0, func() error {
		calls++
		return nil
	})

	s.NoError(err)
	s.Equal(1, calls)
}
