package postgres

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"

	"aurum-outbox/internal/outbox"
)

// withRetry retries fn while it returns an error wrapping
// outbox.ErrTransientStore, up to maxAttempts total attempts, backing off
// exponentially between tries via cenkalti/backoff's default curve. It
// returns immediately on success, on a non-transient error (wrapped as
// backoff.Permanent so Retry stops without spending remaining attempts), or
// if ctx is canceled during a backoff sleep.
//
// maxAttempts<=1 runs fn exactly once with no retry wrapper at all: passing
// 0 retries to backoff.WithMaxRetries means "retry forever" in that library,
// not "retry zero times", so that case is handled directly instead.
func withRetry(ctx context.Context, maxAttempts int, fn func() error) error {
	retries := maxAttempts - 1
	if retries <= 0 {
		return unwrapPermanent(fn())
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(retries)),
		ctx,
	)

	err := backoff.Retry(func() error {
		opErr := fn()
		if opErr == nil {
			return nil
		}
		if !errors.Is(opErr, outbox.ErrTransientStore) {
			return backoff.Permanent(opErr)
		}
		return opErr
	}, policy)

	return unwrapPermanent(err)
}

func unwrapPermanent(err error) error {
	var permErr *backoff.PermanentError
	if errors.As(err, &permErr) {
		return permErr.Unwrap()
	}
	return err
}
