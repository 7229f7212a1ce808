// Package retry implements the bounded fixed-interval retry policy used by
// the node agent's startup phases.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy retries an operation at a constant interval up to MaxAttempts total
// tries (the first attempt counts). Exhaustion returns the last error.
type Policy struct {
	Delay       time.Duration
	MaxAttempts uint64
}

var errZeroAttempts = errors.New("retry: policy allows zero attempts")

// Do runs op until it succeeds, the policy is exhausted, or ctx is done.
func (p Policy) Do(ctx context.Context, op func() error) error {
	if p.MaxAttempts == 0 {
		return errZeroAttempts
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), p.MaxAttempts-1),
		ctx,
	)
	return backoff.Retry(op, b)
}
