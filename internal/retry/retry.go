// Package retry wraps a grid.Store so that every call is retried until it is
// acknowledged. Grid operations are overwrites, so re-issuing a failed call
// converges on the same final state as a single successful one.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dyluth/genegrid/internal/metrics"
	"github.com/dyluth/genegrid/pkg/grid"
	goretry "github.com/sethvargo/go-retry"
)

// ErrRetriesExhausted is returned when a bounded policy gives up. The last
// underlying error is wrapped alongside it.
var ErrRetriesExhausted = errors.New("grid retries exhausted")

// Strategy selects the delay between attempts.
type Strategy string

const (
	StrategyConstant    Strategy = "constant"
	StrategyExponential Strategy = "exponential"
)

// DefaultDelay is the constant wait between attempts.
const DefaultDelay = 30 * time.Second

// Policy describes how failed grid calls are retried.
// MaxAttempts of 0 means retry forever.
type Policy struct {
	Strategy    Strategy      `yaml:"strategy"`
	Delay       time.Duration `yaml:"delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// DefaultPolicy retries forever with a constant 30s delay.
func DefaultPolicy() Policy {
	return Policy{
		Strategy: StrategyConstant,
		Delay:    DefaultDelay,
	}
}

// Validate checks the policy is usable.
func (p Policy) Validate() error {
	switch p.Strategy {
	case "", StrategyConstant, StrategyExponential:
	default:
		return fmt.Errorf("invalid retry strategy: %s (must be 'constant' or 'exponential')", p.Strategy)
	}
	if p.Delay <= 0 {
		return fmt.Errorf("retry delay must be > 0, got %s", p.Delay)
	}
	if p.MaxDelay < 0 {
		return fmt.Errorf("retry max_delay must be >= 0, got %s", p.MaxDelay)
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("retry max_attempts must be >= 0 (0 = unlimited), got %d", p.MaxAttempts)
	}
	return nil
}

// backoff builds a fresh go-retry backoff. Backoffs are stateful, so each call
// gets its own.
func (p Policy) backoff() goretry.Backoff {
	var b goretry.Backoff
	if p.Strategy == StrategyExponential {
		b = goretry.NewExponential(p.Delay)
		if p.MaxDelay > 0 {
			b = goretry.WithCappedDuration(p.MaxDelay, b)
		}
	} else {
		b = goretry.NewConstant(p.Delay)
	}

	if p.MaxAttempts > 0 {
		// go-retry counts retries after the first attempt.
		b = goretry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
	}
	return b
}

// Store is a grid.Store that retries every call according to its policy.
type Store struct {
	next   grid.Store
	policy Policy
	logger *slog.Logger
}

// conditionalStore also exposes the underlying conditional write.
type conditionalStore struct {
	*Store
	cw grid.ConditionalWriter
}

// Wrap returns a retrying view of store. The result implements
// grid.ConditionalWriter exactly when store does. An invalid policy falls back
// to DefaultPolicy.
func Wrap(store grid.Store, policy Policy, logger *slog.Logger) grid.Store {
	if policy.Validate() != nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		next:   store,
		policy: policy,
		logger: logger,
	}
	if cw, ok := store.(grid.ConditionalWriter); ok {
		return &conditionalStore{Store: s, cw: cw}
	}
	return s
}

// Read retries store.Read.
func (s *Store) Read(ctx context.Context, r grid.Range) (grid.Matrix, error) {
	var out grid.Matrix
	err := s.do(ctx, "read", r, func(ctx context.Context) error {
		m, err := s.next.Read(ctx, r)
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// Write retries store.Write.
func (s *Store) Write(ctx context.Context, r grid.Range, m grid.Matrix) (int, error) {
	var updated int
	err := s.do(ctx, "write", r, func(ctx context.Context) error {
		n, err := s.next.Write(ctx, r, m)
		if err != nil {
			return err
		}
		updated = n
		return nil
	})
	return updated, err
}

// Clear retries store.Clear.
func (s *Store) Clear(ctx context.Context, r grid.Range) error {
	return s.do(ctx, "clear", r, func(ctx context.Context) error {
		return s.next.Clear(ctx, r)
	})
}

// WriteIfEmpty retries the conditional write. A retry after a lost
// acknowledgement can report false for a write that did land; callers compare
// the cell contents to tell the two apart.
func (s *conditionalStore) WriteIfEmpty(ctx context.Context, r grid.Range, m grid.Matrix) (bool, error) {
	var written bool
	err := s.do(ctx, "write_if_empty", r, func(ctx context.Context) error {
		ok, err := s.cw.WriteIfEmpty(ctx, r, m)
		if err != nil {
			return err
		}
		written = ok
		return nil
	})
	return written, err
}

// Unwrap returns the underlying store.
func (s *Store) Unwrap() grid.Store {
	return s.next
}

func (s *Store) do(ctx context.Context, op string, r grid.Range, call func(context.Context) error) error {
	start := time.Now()
	defer func() {
		metrics.GridLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	attempt := 0
	var lastErr error
	err := goretry.Do(ctx, s.policy.backoff(), func(ctx context.Context) error {
		attempt++
		metrics.GridCallsTotal.WithLabelValues(op).Inc()
		if attempt > 1 {
			metrics.GridRetriesTotal.WithLabelValues(op).Inc()
		}

		err := call(ctx)
		if err == nil {
			lastErr = nil
			return nil
		}
		metrics.GridErrorsTotal.WithLabelValues(op).Inc()

		if errors.Is(err, grid.ErrInvalidRange) || ctx.Err() != nil {
			return err
		}

		lastErr = err
		s.logger.Warn("grid call failed, retrying",
			"op", op,
			"range", r.String(),
			"attempt", attempt,
			"error", err)
		return goretry.RetryableError(err)
	})
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if lastErr != nil && !errors.Is(err, grid.ErrInvalidRange) {
		s.logger.Error("grid call abandoned", "op", op, "range", r.String(), "attempts", attempt, "error", lastErr)
		return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, lastErr)
	}
	return err
}
