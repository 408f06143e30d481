// Package retry wraps remote calls with a bounded, fixed-delay retry policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const (
	// DefaultMaxAttempts is the attempt budget of a single Call
	DefaultMaxAttempts = 10
	// DefaultDelay is the pause between two transient failures
	DefaultDelay = 3 * time.Second
)

// Kind classifies a failed attempt.
type Kind int

const (
	// KindUnclassified errors end the call without further attempts
	KindUnclassified Kind = iota
	// KindTransient errors are retried after the fixed delay
	KindTransient
	// KindNonRetriable errors are handed back to the caller immediately
	KindNonRetriable
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindNonRetriable:
		return "non_retriable"
	default:
		return "unclassified"
	}
}

// Status is the terminal state of a Call.
type Status int

const (
	// StatusSucceeded means an attempt returned without error
	StatusSucceeded Status = iota
	// StatusGaveUp means the budget ran out, the error was unclassified or the context ended
	StatusGaveUp
	// StatusRejected means the operation failed with a non-retriable error
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusRejected:
		return "rejected"
	default:
		return "gave_up"
	}
}

// Outcome is the result of a Call. Value is only meaningful when Status is StatusSucceeded.
type Outcome[T any] struct {
	Value    T
	Status   Status
	Err      error
	Attempts int
}

// Ok reports whether the call succeeded.
func (o Outcome[T]) Ok() bool {
	return o.Status == StatusSucceeded
}

// Classifier maps an operation error to a retry Kind.
type Classifier func(error) Kind

// Observer is notified once per Call with its terminal status.
type Observer func(operation string, status Status, attempts int)

// Caller holds the retry policy. It keeps no state between calls.
type Caller struct {
	maxAttempts int
	delay       time.Duration
	classify    Classifier
	observe     Observer
	logger      *zap.Logger
}

type Option func(*Caller)

// WithMaxAttempts overrides the attempt budget.
func WithMaxAttempts(n int) Option {
	return func(c *Caller) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithDelay overrides the pause between transient failures.
func WithDelay(d time.Duration) Option {
	return func(c *Caller) {
		if d >= 0 {
			c.delay = d
		}
	}
}

// WithClassifier sets how errors are classified.
func WithClassifier(classify Classifier) Option {
	return func(c *Caller) {
		if classify != nil {
			c.classify = classify
		}
	}
}

// WithObserver registers a hook receiving the terminal status of every call.
func WithObserver(observe Observer) Option {
	return func(c *Caller) {
		c.observe = observe
	}
}

// New creates a Caller. Without a classifier every error is unclassified.
func New(logger *zap.Logger, opts ...Option) *Caller {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Caller{
		maxAttempts: DefaultMaxAttempts,
		delay:       DefaultDelay,
		classify:    func(error) Kind { return KindUnclassified },
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// classifiedError carries the kind that ended the retry loop early.
type classifiedError struct {
	kind Kind
	err  error
}

func (e *classifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.kind, e.err)
}

func (e *classifiedError) Unwrap() error {
	return e.err
}

// Call runs fn until it succeeds, fails with a non-transient error or the attempt budget is spent.
func Call[T any](ctx context.Context, c *Caller, operation string, fn func(context.Context) (T, error)) Outcome[T] {
	attempts := 0

	value, err := backoff.Retry(ctx, func() (T, error) {
		attempts++

		v, opErr := fn(ctx)
		if opErr == nil {
			return v, nil
		}

		switch kind := c.classify(opErr); kind {
		case KindTransient:
			return v, opErr
		default:
			return v, backoff.Permanent(&classifiedError{kind: kind, err: opErr})
		}
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.delay)),
		backoff.WithMaxTries(uint(c.maxAttempts)), //nolint:gosec // maxAttempts is always positive
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(opErr error, next time.Duration) {
			c.logger.Warn("Remote call failed, retrying",
				zap.String("operation", operation),
				zap.String("error_kind", KindTransient.String()),
				zap.Int("attempts_left", c.maxAttempts-attempts),
				zap.Duration("retry_in", next),
				zap.Error(opErr))
		}),
	)

	outcome := Outcome[T]{Attempts: attempts}

	var classified *classifiedError
	switch {
	case err == nil:
		outcome.Value = value
		outcome.Status = StatusSucceeded
	case errors.As(err, &classified) && classified.kind == KindNonRetriable:
		outcome.Status = StatusRejected
		outcome.Err = classified.err
	case errors.As(err, &classified):
		c.logger.Error("Remote call failed with unclassified error",
			zap.String("operation", operation),
			zap.Int("attempts", attempts),
			zap.Error(classified.err))
		outcome.Status = StatusGaveUp
		outcome.Err = classified.err
	default:
		c.logger.Warn("Remote call gave up",
			zap.String("operation", operation),
			zap.Int("attempts", attempts),
			zap.Error(err))
		outcome.Status = StatusGaveUp
		outcome.Err = err
	}

	if c.observe != nil {
		c.observe(operation, outcome.Status, attempts)
	}

	return outcome
}
