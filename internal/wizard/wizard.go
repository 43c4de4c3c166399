// Package wizard clicks through the labelled steps that lead from the
// landing page to the data view.
package wizard

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/harvest-cli/internal/config"
	"github.com/xkilldash9x/harvest-cli/internal/locator"
)

// Page is what the navigator needs from the browsing collaborator.
type Page interface {
	locator.Prober
	Click(ctx context.Context, l locator.Locator) error
	WaitForQuiescence(ctx context.Context, timeout time.Duration) error
}

// Step is one labelled control of the wizard.
type Step struct {
	Label      string
	Candidates []locator.Locator
}

var clickableTags = []string{"button", "a", "[role=button]", "[role=tab]", "label", "li"}

// StepFor builds the candidate list for a control labelled label.
func StepFor(label string) Step {
	return Step{
		Label: label,
		Candidates: []locator.Locator{
			locator.Text{Text: label, Tags: clickableTags},
			locator.Role{Role: "button", Name: label},
			locator.Text{Text: label},
		},
	}
}

// Report lists which steps were clicked and which were skipped.
type Report struct {
	Clicked []string
	Skipped []string
}

// Navigator walks the configured steps in order.
type Navigator struct {
	logger     *zap.Logger
	steps      []Step
	attempts   int
	timeout    time.Duration
	quiescence time.Duration
	resolver   *locator.Resolver
}

func NewNavigator(logger *zap.Logger, cfg config.WizardConfig, quiescence time.Duration) *Navigator {
	logger = logger.Named("wizard")
	steps := make([]Step, 0, len(cfg.Steps))
	for _, label := range cfg.Steps {
		steps = append(steps, StepFor(label))
	}
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return &Navigator{
		logger:     logger,
		steps:      steps,
		attempts:   attempts,
		timeout:    cfg.Timeout,
		quiescence: quiescence,
		resolver:   locator.NewResolver(logger, cfg.Timeout),
	}
}

// Run clicks every step it can find. A step that never shows up is logged
// and skipped; only cancellation stops the walk early.
func (n *Navigator) Run(ctx context.Context, page Page) (Report, error) {
	var report Report
	for _, step := range n.steps {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if n.click(ctx, page, step) {
			report.Clicked = append(report.Clicked, step.Label)
			continue
		}
		n.logger.Warn("Wizard step not found, skipping.", zap.String("step", step.Label), zap.Int("attempts", n.attempts))
		report.Skipped = append(report.Skipped, step.Label)
	}
	n.logger.Info("Wizard finished.", zap.Strings("clicked", report.Clicked), zap.Strings("skipped", report.Skipped))
	return report, ctx.Err()
}

// click gives the step up to n.attempts tries, each allowing candidates
// longer to appear than the last.
func (n *Navigator) click(ctx context.Context, page Page, step Step) bool {
	set := locator.Set{Role: step.Label, Candidates: step.Candidates}
	for attempt := 1; attempt <= n.attempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		if attempt > 1 {
			if err := page.WaitForQuiescence(ctx, n.quiescence); err != nil {
				n.logger.Debug("Page did not settle before retry.", zap.String("step", step.Label), zap.Error(err))
			}
		}

		res := n.resolver.ResolveWithin(ctx, page, set, n.timeout*time.Duration(attempt))
		if !res.Found {
			n.logger.Debug("Wizard step not visible yet.", zap.String("step", step.Label), zap.Int("attempt", attempt))
			continue
		}
		if err := page.Click(ctx, res.Locator); err != nil {
			n.logger.Warn("Wizard click failed.",
				zap.String("step", step.Label), zap.String("locator", res.Locator.String()), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if err := page.WaitForQuiescence(ctx, n.quiescence); err != nil {
			n.logger.Debug("Page did not settle after click.", zap.String("step", step.Label), zap.Error(err))
		}
		n.logger.Info("Wizard step clicked.", zap.String("step", step.Label), zap.String("locator", res.Locator.String()))
		return true
	}
	return false
}
