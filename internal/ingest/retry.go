package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"cohortingest/internal/blob"
	"cohortingest/internal/observability"
)

// RetryPolicy bounds the attempts made for one storage transfer.
type RetryPolicy struct {
	MaxAttempts     int           `yaml:"max_attempts" json:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval" json:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval" json:"max_interval"`
}

// DefaultRetryPolicy makes three attempts starting 200ms apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialInterval: 200 * time.Millisecond, MaxInterval: 5 * time.Second}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	return b
}

// retry runs fn until it succeeds, returns a permanent error or the policy
// runs out of attempts. It returns the number of attempts made.
func retry[T any](ctx context.Context, p RetryPolicy, metrics observability.MetricsRecorder, op string, fn func() (T, error)) (T, int, error) {
	p = p.withDefaults()
	attempts := 0
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := fn()
		if err != nil && errors.Is(err, blob.ErrNotFound) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithNotify(func(error, time.Duration) { metrics.Retry(op) }),
	)
	return res, attempts, err
}
