// Package retry runs a single unit of work with bounded attempts and
// exponential backoff, retrying only failures classified as transient.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	boff "github.com/Andrej220/go-utils/backoff"
	"github.com/kru5ty7/browser-agent-project/pkg/logger"
)

const (
	DefaultAttempts   = 3
	DefaultInitial    = 1 * time.Second
	DefaultMax        = 30 * time.Second
	DefaultMultiplier = 2.0
)

// TransientError marks a failure as retryable (network flakiness,
// throttling, 5xx responses). Any other error is terminal.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// Retryable reports true; it lets callers classify errors via errors.As
// without importing this package's concrete type.
func (e *TransientError) Retryable() bool { return true }

// Transient wraps err as a TransientError. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Transientf is Transient(fmt.Errorf(format, args...)).
func Transientf(format string, args ...any) error {
	return Transient(fmt.Errorf(format, args...))
}

// IsRetryable reports whether err, or anything it wraps, is marked retryable.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}

// Policy describes how many times and how often work is retried.
// Zero values are treated as "use defaults".
type Policy struct {
	// MaxAttempts is the maximum number of tries, including the first.
	MaxAttempts int

	// Initial is the delay after the first failed attempt.
	Initial time.Duration

	// Max caps every delay.
	Max time.Duration

	// Multiplier grows the delay between consecutive attempts.
	Multiplier float64

	// Jitter switches to randomized backoff between Initial and Max.
	Jitter bool
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultAttempts,
		Initial:     DefaultInitial,
		Max:         DefaultMax,
		Multiplier:  DefaultMultiplier,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultAttempts
	}
	if p.Initial <= 0 {
		p.Initial = DefaultInitial
	}
	if p.Max <= 0 {
		p.Max = DefaultMax
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	return p
}

// Delay returns the deterministic backoff applied after the given failed
// attempt (1-based): Initial * Multiplier^(attempt-1), capped at Max.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt-1))
	if d >= float64(p.Max) || math.IsInf(d, 0) {
		return p.Max
	}
	return time.Duration(d)
}

// Func is one attempt. attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// Do calls fn until it succeeds, returns a terminal error, the attempt
// budget is spent, or ctx is done. It returns the number of attempts made
// and the final error; retries performed equal attempts-1.
func (p Policy) Do(ctx context.Context, fn Func) (int, error) {
	p = p.withDefaults()

	var next func(attempt int) time.Duration
	if p.Jitter {
		bo := boff.New(p.Initial, p.Max, time.Now().UnixNano())
		next = func(int) time.Duration { return bo.Next() }
	} else {
		next = p.Delay
	}

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err == nil {
				return attempt - 1, ctxErr
			}
			return attempt - 1, fmt.Errorf("%w (last error: %v)", ctxErr, err)
		}

		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if !IsRetryable(err) || attempt == p.MaxAttempts {
			return attempt, err
		}

		delay := next(attempt)
		logger.Log.Warn().
			Err(err).
			Int("attempt", attempt).
			Str("sleep", delay.String()).
			Msg("attempt failed; backing off")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return attempt, fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		}
	}
	return p.MaxAttempts, err
}
