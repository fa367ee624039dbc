package service

import (
	"context"
	"time"

	"github.com/Nexar-Turismo/nexarturismo-sub002/internal/domain"
	"github.com/Nexar-Turismo/nexarturismo-sub002/pkg/payment"
	"github.com/cenkalti/backoff/v4"
)

// providerRetryDelay is the wait before the single retry of an unavailable provider call.
var providerRetryDelay = 300 * time.Millisecond

// retryProvider runs fn and, if it fails with a retryable provider error, runs
// it exactly once more after a short backoff. Rejections are returned at once.
func retryProvider(ctx context.Context, fn func() error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(providerRetryDelay), 1), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err != nil && !payment.IsUnavailable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

// mapProviderError converts a gateway error into the application taxonomy.
func mapProviderError(msg string, err error) error {
	switch {
	case payment.IsUnavailable(err):
		return domain.ErrProviderUnavailable(msg, err)
	case payment.IsRejected(err):
		return domain.ErrProviderRejected(msg, err)
	}
	return domain.ErrInternal(msg, err)
}
