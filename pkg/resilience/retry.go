package resilience

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy defines retry behavior for transient recognizer failures.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff}
}

// Do runs fn until it succeeds, fails permanently, or the attempts are
// exhausted. The wait between attempts doubles each round and aborts
// early when ctx is done.
func (r RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if IsPermanent(err) || attempt == r.MaxRetries {
			return err
		}
		select {
		case <-time.After(r.Backoff << attempt):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// PermanentError marks a failure that retrying cannot fix, such as a
// rejected request or bad credentials.
type PermanentError struct {
	Err error
}

func (e PermanentError) Error() string { return e.Err.Error() }
func (e PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return PermanentError{Err: err}
}

// IsPermanent reports whether err carries the permanent marker.
func IsPermanent(err error) bool {
	var pe PermanentError
	return errors.As(err, &pe)
}
