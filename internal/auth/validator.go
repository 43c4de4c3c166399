// Package auth establishes and verifies the authenticated browser session:
// indicator-based validation, heuristic token capture, and the form login.
package auth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/harvest-cli/internal/locator"
)

// DefaultIndicatorTimeout bounds each indicator probe.
const DefaultIndicatorTimeout = 1500 * time.Millisecond

// DefaultIndicators lists elements only rendered for a signed-in user.
// username, when known, is matched as visible text as well.
func DefaultIndicators(username string) []locator.Locator {
	indicators := []locator.Locator{
		locator.Text{Text: "Submit Script"},
		locator.Text{Text: "Submit Solution"},
		locator.Text{Text: "Data Extraction"},
		locator.CSS{Selector: ".dashboard-container"},
		locator.CSS{Selector: "#user-profile"},
	}
	if username != "" {
		indicators = append(indicators, locator.Text{Text: username})
	}
	return indicators
}

// Validator decides whether the current page belongs to a signed-in session.
type Validator struct {
	logger     *zap.Logger
	resolver   *locator.Resolver
	indicators locator.Set
}

// NewValidator builds a validator over indicators, each probed for at most timeout.
func NewValidator(logger *zap.Logger, timeout time.Duration, indicators []locator.Locator) *Validator {
	if timeout <= 0 {
		timeout = DefaultIndicatorTimeout
	}
	logger = logger.Named("validator")
	return &Validator{
		logger:     logger,
		resolver:   locator.NewResolver(logger, timeout),
		indicators: locator.Set{Role: "logged-in indicator", Candidates: indicators},
	}
}

// IsAuthenticated reports whether any indicator is visible. Probe failures
// count as "not authenticated"; it never errors and does not touch the page.
func (v *Validator) IsAuthenticated(ctx context.Context, p locator.Prober) bool {
	res := v.resolver.Resolve(ctx, p, v.indicators)
	if !res.Found {
		v.logger.Debug("No logged-in indicator visible.")
		return false
	}
	v.logger.Info("Session is authenticated.", zap.String("indicator", res.Locator.String()))
	return true
}
