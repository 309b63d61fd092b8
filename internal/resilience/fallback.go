package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned (wrapped) when every member of a [FallbackGroup]
// failed or was skipped by its open breaker.
var ErrAllFailed = errors.New("resilience: every fallback failed")

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary value and zero or more fallbacks of the
// same type, each behind its own [CircuitBreaker]. Members are tried in
// registration order.
//
// Members must be registered before the group is shared; [Do] is then safe
// for concurrent use.
type FallbackGroup[T any] struct {
	members []member[T]
	cfg     CircuitBreakerConfig
}

// NewFallbackGroup creates a group whose first member is primary. cfg is the
// template for every member's breaker; its Name is replaced by the member
// name.
func NewFallbackGroup[T any](name string, primary T, cfg CircuitBreakerConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.Add(name, primary)
	return fg
}

// Add appends a fallback tried after all earlier members.
func (fg *FallbackGroup[T]) Add(name string, v T) {
	cfg := fg.cfg
	cfg.Name = name
	fg.members = append(fg.members, member[T]{
		name:    name,
		value:   v,
		breaker: NewCircuitBreaker(cfg),
	})
}

// Names returns the member names in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.members))
	for i, m := range fg.members {
		names[i] = m.name
	}
	return names
}

// Breaker returns the breaker guarding the named member, or nil.
func (fg *FallbackGroup[T]) Breaker(name string) *CircuitBreaker {
	for _, m := range fg.members {
		if m.name == name {
			return m.breaker
		}
	}
	return nil
}

// Do calls fn with each member in order until one succeeds and returns its
// result together with the serving member's name. Members whose breaker is
// open are skipped. When ctx ends between attempts Do stops and returns the
// ctx error. If nothing succeeds the error wraps [ErrAllFailed] and every
// member's error.
//
// Do is a function rather than a method because Go methods cannot declare
// their own type parameters.
func Do[T, R any](ctx context.Context, fg *FallbackGroup[T], fn func(ctx context.Context, v T) (R, error)) (R, string, error) {
	var (
		zero R
		errs []error
	)
	for i := range fg.members {
		m := &fg.members[i]
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}

		var result R
		err := m.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(ctx, m.value)
			return innerErr
		})
		if err == nil {
			return result, m.name, nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping fallback member (circuit open)", "member", m.name)
		} else {
			slog.Warn("fallback member failed, trying next", "member", m.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
