// Package retry runs operations with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/logger"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/metrics"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/config"
)

// jitter is the randomization factor applied to every backoff interval (±25%).
const jitter = 0.25

// Retrier retries operations according to a RetryConfig and reports every
// retry to the log and the retries counter.
type Retrier struct {
	cfg     *config.RetryConfig
	log     *logger.Logger
	metrics *metrics.Metrics
}

// New creates a Retrier. log and m may be nil.
func New(cfg *config.RetryConfig, log *logger.Logger, m *metrics.Metrics) *Retrier {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Retrier{cfg: cfg, log: log, metrics: m}
}

// Do runs fn until it succeeds, returns an error isRetryable rejects, the
// attempts are exhausted or ctx is done. A nil isRetryable retries every error.
func (r *Retrier) Do(ctx context.Context, operation string, isRetryable func(error) bool, fn func() error) error {
	if r.cfg == nil {
		// No retry config, execute once
		return fn()
	}

	attempt := 0
	op := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(err)
		}
		if isRetryable != nil && !isRetryable(err) {
			return backoff.Permanent(&nonRetryableError{attempt: attempt, err: err})
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if r.metrics != nil {
			r.metrics.RetryInc(operation)
		}
		r.log.Warnw("retrying operation",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", r.cfg.MaxAttempts,
			"backoff", wait,
			"error", err,
		)
	}

	start := time.Now()
	err := backoff.RetryNotify(op, r.backOff(ctx), notify)
	if err == nil {
		return nil
	}

	var nre *nonRetryableError
	switch {
	case errors.As(err, &nre):
		return err
	case ctx.Err() != nil:
		return fmt.Errorf("%s: context done after %d attempts: %w", operation, attempt, err)
	default:
		return fmt.Errorf("%s: all %d attempts failed after %v: %w",
			operation, attempt, time.Since(start).Round(time.Millisecond), err)
	}
}

// backOff builds the exponential policy for one Do call.
func (r *Retrier) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialBackoff.Duration
	b.MaxInterval = r.cfg.MaxBackoff.Duration
	b.Multiplier = r.cfg.BackoffMultiplier
	b.RandomizationFactor = jitter
	b.MaxElapsedTime = 0
	b.Reset()

	retries := uint64(0)
	if r.cfg.MaxAttempts > 1 {
		retries = uint64(r.cfg.MaxAttempts - 1)
	}

	return backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)
}

// Do is a convenience wrapper running fn with a Retrier that neither logs nor counts.
func Do(ctx context.Context, cfg *config.RetryConfig, operation string, isRetryable func(error) bool, fn func() error) error {
	return New(cfg, nil, nil).Do(ctx, operation, isRetryable, fn)
}

type nonRetryableError struct {
	attempt int
	err     error
}

func (e *nonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable error on attempt %d: %v", e.attempt, e.err)
}

func (e *nonRetryableError) Unwrap() error {
	return e.err
}
