package locator

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Prober answers whether a locator currently has a visible target, waiting at
// most timeout for one to appear.
type Prober interface {
	IsVisible(ctx context.Context, l Locator, timeout time.Duration) (bool, error)
}

// Set is an ordered list of candidate locators for one logical UI role.
type Set struct {
	Role       string
	Candidates []Locator
}

// Result is the outcome of a resolution: either Found with the winning
// locator as the handle to act on, or NotFound.
type Result struct {
	Locator Locator
	Found   bool
}

// NotFound is the empty result.
func NotFound() Result { return Result{} }

// Found wraps a winning locator.
func Found(l Locator) Result { return Result{Locator: l, Found: true} }

// Attempt is one step of an ordered fallback chain. It reports a value and
// whether the step succeeded.
type Attempt[T any] func(ctx context.Context) (T, bool)

// FirstOf runs attempts in order and returns the first success. Later attempts
// are never evaluated once one succeeds, and nothing is retried.
func FirstOf[T any](ctx context.Context, attempts ...Attempt[T]) (T, bool) {
	var zero T
	for _, attempt := range attempts {
		if ctx.Err() != nil {
			return zero, false
		}
		if v, ok := attempt(ctx); ok {
			return v, true
		}
	}
	return zero, false
}

// Resolver resolves candidate sets against a live page.
type Resolver struct {
	logger  *zap.Logger
	timeout time.Duration
}

// NewResolver creates a resolver that gives each candidate up to timeout to
// become visible.
func NewResolver(logger *zap.Logger, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Resolver{logger: logger.Named("resolver"), timeout: timeout}
}

// Resolve returns the first candidate of set that becomes visible within the
// resolver's per-candidate timeout.
func (r *Resolver) Resolve(ctx context.Context, p Prober, set Set) Result {
	return r.ResolveWithin(ctx, p, set, r.timeout)
}

// ResolveWithin is Resolve with an explicit per-candidate timeout. A probe
// error counts as "not visible" for that candidate.
func (r *Resolver) ResolveWithin(ctx context.Context, p Prober, set Set, timeout time.Duration) Result {
	attempts := make([]Attempt[Locator], 0, len(set.Candidates))
	for _, c := range set.Candidates {
		c := c
		attempts = append(attempts, func(ctx context.Context) (Locator, bool) {
			visible, err := p.IsVisible(ctx, c, timeout)
			if err != nil {
				r.logger.Debug("Candidate probe failed.",
					zap.String("role", set.Role), zap.String("locator", c.String()), zap.Error(err))
				return nil, false
			}
			return c, visible
		})
	}

	l, ok := FirstOf(ctx, attempts...)
	if !ok {
		r.logger.Debug("No candidate resolved.", zap.String("role", set.Role), zap.Int("candidates", len(set.Candidates)))
		return NotFound()
	}
	r.logger.Debug("Resolved UI role.", zap.String("role", set.Role), zap.String("locator", l.String()))
	return Found(l)
}
