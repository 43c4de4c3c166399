// File: internal/orchestrator/orchestrator.go
// Description: Runs one harvest end to end: session reuse or login, wizard,
// paginated extraction, sinks and the final session save. It owns the page
// and the browser and releases both on every exit path.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/harvest-cli/api/schemas"
	"github.com/xkilldash9x/harvest-cli/internal/auth"
	"github.com/xkilldash9x/harvest-cli/internal/browser"
	"github.com/xkilldash9x/harvest-cli/internal/config"
	"github.com/xkilldash9x/harvest-cli/internal/extract"
	"github.com/xkilldash9x/harvest-cli/internal/session"
	"github.com/xkilldash9x/harvest-cli/internal/wizard"
)

// ErrNotAuthenticated is returned when neither the stored session nor the
// login form produced an authenticated page.
var ErrNotAuthenticated = errors.New("not authenticated")

const releaseTimeout = 10 * time.Second

// Sink receives the rows of a finished extraction.
type Sink interface {
	Save(ctx context.Context, runID string, rows []schemas.Row) error
}

// Summary describes a finished run.
type Summary struct {
	RunID string
	// Reused is set when the stored session was accepted without a form login.
	Reused     bool
	Session    *session.Bundle
	Wizard     wizard.Report
	Extraction extract.Result
}

// Orchestrator manages the lifecycle of a harvest run.
type Orchestrator struct {
	cfg       *config.Config
	logger    *zap.Logger
	launcher  browser.Launcher
	sessions  *session.Store
	sequencer *auth.Sequencer
	harvester *auth.TokenHarvester
	navigator *wizard.Navigator
	engine    *extract.Engine
	sinks     []Sink
}

// New wires the run components together. navigator may be nil to skip the
// wizard; every other dependency is required.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	launcher browser.Launcher,
	sessions *session.Store,
	sequencer *auth.Sequencer,
	harvester *auth.TokenHarvester,
	navigator *wizard.Navigator,
	engine *extract.Engine,
	sinks ...Sink,
) (*Orchestrator, error) {
	if cfg == nil ||
		logger == nil ||
		launcher == nil ||
		sessions == nil ||
		sequencer == nil ||
		harvester == nil ||
		engine == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	return &Orchestrator{
		cfg:       cfg,
		logger:    logger.Named("orchestrator"),
		launcher:  launcher,
		sessions:  sessions,
		sequencer: sequencer,
		harvester: harvester,
		navigator: navigator,
		engine:    engine,
		sinks:     sinks,
	}, nil
}

// Validate establishes an authenticated session, by reuse or login, and
// persists it. Nothing is extracted.
func (o *Orchestrator) Validate(ctx context.Context, creds auth.Credentials) (*Summary, error) {
	summary := &Summary{RunID: uuid.NewString()}
	page, previous, err := o.openPage(ctx, summary.RunID)
	if err != nil {
		return summary, err
	}
	defer o.release(ctx, page)

	if _, err := o.authenticate(ctx, page, creds, previous, summary); err != nil {
		return summary, err
	}
	return summary, nil
}

// Run performs a full harvest.
func (o *Orchestrator) Run(ctx context.Context, creds auth.Credentials) (*Summary, error) {
	summary := &Summary{RunID: uuid.NewString()}
	page, previous, err := o.openPage(ctx, summary.RunID)
	if err != nil {
		return summary, err
	}
	defer o.release(ctx, page)

	out, err := o.authenticate(ctx, page, creds, previous, summary)
	if err != nil {
		return summary, err
	}

	if o.navigator != nil && o.cfg.Wizard.Enabled {
		report, err := o.navigator.Run(ctx, page)
		summary.Wizard = report
		if err != nil {
			return summary, fmt.Errorf("wizard interrupted: %w", err)
		}
	}

	summary.Extraction = o.engine.Run(ctx, page)
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	sinkErr := o.save(ctx, summary.RunID, summary.Extraction.Rows)

	// Extraction is a data-bearing navigation; refresh lastVerified.
	if b := o.refreshSession(ctx, page, creds, out.Bundle); b != nil {
		summary.Session = b
	}

	if sinkErr != nil {
		return summary, sinkErr
	}
	o.logger.Info("Run finished.",
		zap.String("run_id", summary.RunID),
		zap.Int("rows", len(summary.Extraction.Rows)),
		zap.String("stop", string(summary.Extraction.Stop)),
		zap.Bool("synthetic", summary.Extraction.Synthetic),
	)
	return summary, nil
}

// openPage loads the stored session and opens a page seeded with it. A stale
// bundle still seeds the page; the validator gets the final word.
func (o *Orchestrator) openPage(ctx context.Context, runID string) (browser.Page, *session.Bundle, error) {
	o.logger.Info("Starting run.", zap.String("run_id", runID), zap.String("url", o.cfg.Target.URL))

	previous, err := o.sessions.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load session: %w", err)
	}

	var state *schemas.StorageState
	switch {
	case previous == nil:
		o.logger.Info("No stored session, a form login will be needed.")
	case o.cfg.Session.ForceLogin:
		o.logger.Info("Forced login requested, ignoring the stored session.")
	default:
		state = &previous.StorageState
		if o.sessions.IsUsable(previous, false) {
			o.logger.Info("Stored session is within its age limit.", zap.String("last_verified", previous.LastVerified))
		} else {
			o.logger.Info("Stored session is stale, seeding it anyway for validation.", zap.String("last_verified", previous.LastVerified))
		}
	}

	page, err := o.launcher.NewPage(ctx, state)
	if err != nil {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if shutdownErr := o.launcher.Shutdown(cleanupCtx); shutdownErr != nil {
			o.logger.Warn("Browser shutdown failed.", zap.Error(shutdownErr))
		}
		return nil, nil, fmt.Errorf("failed to open page: %w", err)
	}
	if o.cfg.Session.ForceLogin {
		previous = nil
	}
	return page, previous, nil
}

// release closes the page, then the browser. It runs even when ctx is done.
func (o *Orchestrator) release(ctx context.Context, page browser.Page) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := page.Close(cleanupCtx); err != nil {
		o.logger.Warn("Page close failed.", zap.Error(err))
	}
	if err := o.launcher.Shutdown(cleanupCtx); err != nil {
		o.logger.Warn("Browser shutdown failed.", zap.Error(err))
	}
	o.logger.Debug("Browser resources released.")
}

// authenticate reinjects stored tokens and runs the login sequence. previous
// is nil when there is nothing to reuse.
func (o *Orchestrator) authenticate(ctx context.Context, page browser.Page, creds auth.Credentials, previous *session.Bundle, summary *Summary) (auth.Outcome, error) {
	if previous != nil {
		o.reinjectTokens(ctx, page, previous.Tokens)
	}

	out := o.sequencer.Run(ctx, page, auth.Request{
		URL:         o.cfg.Target.URL,
		Credentials: creds,
		Previous:    previous,
		Reuse:       previous != nil,
	})
	if !out.Authenticated {
		o.logger.Error("Authentication failed.", zap.String("reason", out.Reason), zap.Bool("fatal", out.Fatal))
		if err := ctx.Err(); err != nil {
			return out, err
		}
		return out, fmt.Errorf("%w: %s", ErrNotAuthenticated, out.Reason)
	}

	summary.Reused = out.Reused
	summary.Session = out.Bundle
	return out, nil
}

// reinjectTokens restores local and session storage tokens for the target
// origin before the app's scripts run. Failures only cost the reuse attempt.
func (o *Orchestrator) reinjectTokens(ctx context.Context, page browser.Page, tokens map[string]string) {
	origin, err := originOf(o.cfg.Target.URL)
	if err != nil {
		o.logger.Warn("Cannot derive origin for token reinjection.", zap.Error(err))
		return
	}
	script, err := auth.ReinjectionScript(origin, tokens)
	if err != nil {
		o.logger.Warn("Failed to build token reinjection script.", zap.Error(err))
		return
	}
	if script == "" {
		return
	}
	if err := page.AddInitScript(ctx, script); err != nil {
		o.logger.Warn("Failed to register token reinjection script.", zap.Error(err))
		return
	}
	o.logger.Debug("Token reinjection registered.", zap.String("origin", origin))
}

func originOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q has no origin", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

// save hands the rows to every sink concurrently.
func (o *Orchestrator) save(ctx context.Context, runID string, rows []schemas.Row) error {
	if len(o.sinks) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, sink := range o.sinks {
		sink := sink
		g.Go(func() error {
			return sink.Save(gctx, runID, rows)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to save rows: %w", err)
	}
	return nil
}

// refreshSession captures the post-extraction state and persists it over
// previous. It returns nil when nothing was written.
func (o *Orchestrator) refreshSession(ctx context.Context, page browser.Page, creds auth.Credentials, previous *session.Bundle) *session.Bundle {
	state, err := page.StorageState(ctx)
	if err != nil {
		o.logger.Warn("Could not capture storage state for the final save.", zap.Error(err))
		return nil
	}
	tokens, err := o.harvester.Harvest(ctx, page)
	if err != nil {
		o.logger.Warn("Token harvest failed during the final save.", zap.Error(err))
	}
	b, err := o.sessions.Persist(ctx, state, tokens, creds.Username, previous)
	if err != nil {
		o.logger.Warn("Final session save failed.", zap.Error(err))
		return nil
	}
	return b
}
