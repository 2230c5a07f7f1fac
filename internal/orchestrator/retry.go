package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fuselabs/fuseforge/pkg/domain"
)

// callWithRetry runs fn under a per-attempt timeout, retrying transient
// service errors with exponential backoff until the budget runs out.
// Permanent errors short-circuit immediately.
func (o *Orchestrator) callWithRetry(ctx context.Context, target string, timeout time.Duration, fn func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	if o.cfg.RetryInitialWait > 0 {
		bo.InitialInterval = o.cfg.RetryInitialWait
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, o.cfg.RetryMaxAttempts), ctx)

	start := time.Now()
	defer func() {
		o.metrics.ExternalCallSecs.WithLabelValues(target).Observe(time.Since(start).Seconds())
	}()

	return backoff.Retry(func() error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}

		// A blown per-attempt deadline counts as a transient network
		// timeout unless the parent context itself is gone.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = domain.NewServiceError(domain.ErrCodeNetworkTimeout, target+" call exceeded its deadline")
		}

		if domain.IsRetryable(err) {
			o.logger.WarnContext(ctx, "transient failure, will retry",
				"target", target, "err", err)
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}
