package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/harvest-cli/api/schemas"
	"github.com/xkilldash9x/harvest-cli/internal/browser"
	"github.com/xkilldash9x/harvest-cli/internal/config"
	"github.com/xkilldash9x/harvest-cli/internal/locator"
	"github.com/xkilldash9x/harvest-cli/internal/poll"
	"github.com/xkilldash9x/harvest-cli/internal/session"
)

// errExhausted marks a required form action for which neither the primary
// candidates nor any fallback worked.
var errExhausted = errors.New("no candidate or fallback could be used")

// Selectors are the primary candidate lists for the login form.
type Selectors struct {
	Email    []locator.Locator
	Password []locator.Locator
	Submit   []locator.Locator
}

// DefaultSelectors covers the common shapes of email/password forms.
func DefaultSelectors() Selectors {
	return Selectors{
		Email: []locator.Locator{
			locator.CSS{Selector: "input[name='email']"},
			locator.CSS{Selector: "input[type='email']"},
			locator.CSS{Selector: "input[placeholder*='Email' i]"},
			locator.CSS{Selector: "input[name='username']"},
			locator.CSS{Selector: "#email"},
		},
		Password: []locator.Locator{
			locator.CSS{Selector: "input[name='password']"},
			locator.CSS{Selector: "input[type='password']"},
			locator.CSS{Selector: "#password"},
		},
		Submit: []locator.Locator{
			locator.CSS{Selector: "button[type='submit']"},
			locator.Text{Text: "Login", Tags: []string{"button", "a", "input"}},
			locator.Text{Text: "Sign In", Tags: []string{"button", "a", "input"}},
			locator.Text{Text: "Log In", Tags: []string{"button", "a", "input"}},
			locator.CSS{Selector: "input[type='submit']"},
			locator.CSS{Selector: ".login-button"},
			locator.CSS{Selector: "#login-button"},
		},
	}
}

// Degraded-mode fallbacks, tried in order once the primary lists are exhausted.
var (
	emailFallbacks    = []locator.Locator{locator.Nth{Selector: "input", Index: 0}}
	passwordFallbacks = []locator.Locator{
		locator.Nth{Selector: "input[type='password']", Index: 0},
		locator.Nth{Selector: "input", Index: 1},
	}
	submitFallbacks = []locator.Locator{locator.Nth{Selector: "button", Index: 0}}
)

// Persister saves a refreshed session. *session.Store implements it.
type Persister interface {
	Persist(ctx context.Context, state *schemas.StorageState, tokens map[string]string, usernameHint string, previous *session.Bundle) (*session.Bundle, error)
}

// Request describes one login sequence.
type Request struct {
	URL         string
	Credentials Credentials
	// Previous is the loaded bundle, if any. Its createdAt carries over when
	// the session is reused; its tokens carry over either way.
	Previous *session.Bundle
	// Reuse asks the sequencer to check the existing session before touching the form.
	Reuse bool
}

// Outcome is the result of a sequence. The sequencer never returns an error:
// a failed login is reported here with a reason.
type Outcome struct {
	Authenticated bool
	// Reused is set when the validator accepted the existing session.
	Reused bool
	Bundle *session.Bundle
	Tokens map[string]string
	Reason string
	// Fatal is set when a required form action could not be performed at all.
	Fatal bool
}

// Sequencer drives the login form.
type Sequencer struct {
	logger     *zap.Logger
	cfg        config.LoginConfig
	quiescence time.Duration
	resolver   *locator.Resolver
	validator  *Validator
	harvester  *TokenHarvester
	store      Persister
	selectors  Selectors
}

func NewSequencer(
	logger *zap.Logger,
	cfg config.LoginConfig,
	quiescence time.Duration,
	validator *Validator,
	harvester *TokenHarvester,
	store Persister,
	selectors Selectors,
) *Sequencer {
	logger = logger.Named("login")
	return &Sequencer{
		logger:     logger,
		cfg:        cfg,
		quiescence: quiescence,
		resolver:   locator.NewResolver(logger, cfg.SelectorTimeout),
		validator:  validator,
		harvester:  harvester,
		store:      store,
		selectors:  selectors,
	}
}

// Run executes the sequence against page.
func (s *Sequencer) Run(ctx context.Context, page browser.Page, req Request) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Login sequence panicked.", zap.Any("panic", r))
			out = Outcome{Reason: fmt.Sprintf("login sequence aborted: %v", r)}
		}
	}()

	if err := page.Navigate(ctx, req.URL); err != nil {
		s.logger.Warn("Navigation to entry URL failed.", zap.String("url", req.URL), zap.Error(err))
		return Outcome{Reason: fmt.Sprintf("navigation failed: %v", err)}
	}
	if err := page.WaitForQuiescence(ctx, s.quiescence); err != nil {
		s.logger.Debug("Entry page did not go quiet, continuing.", zap.Error(err))
	}

	if req.Reuse {
		if s.validator.IsAuthenticated(ctx, page) {
			s.logger.Info("Stored session accepted, skipping form login.")
			return s.finish(ctx, page, req, req.Previous, true)
		}
		s.logger.Info("Stored session rejected, performing form login.")
	}

	if !req.Credentials.Complete() {
		return Outcome{Reason: ErrNoCredentials.Error(), Fatal: true}
	}

	steps := []struct {
		role      string
		primary   []locator.Locator
		fallbacks []locator.Locator
		act       func(locator.Locator) error
	}{
		{"email field", s.selectors.Email, emailFallbacks, func(l locator.Locator) error {
			return page.Fill(ctx, l, req.Credentials.Username)
		}},
		{"password field", s.selectors.Password, passwordFallbacks, func(l locator.Locator) error {
			return page.Fill(ctx, l, req.Credentials.Password)
		}},
		{"submit control", s.selectors.Submit, submitFallbacks, func(l locator.Locator) error {
			return page.Click(ctx, l)
		}},
	}
	for _, step := range steps {
		if err := s.perform(ctx, page, step.role, step.primary, step.fallbacks, step.act); err != nil {
			s.logger.Error("Required login action failed.", zap.String("role", step.role), zap.Error(err))
			return Outcome{Reason: fmt.Sprintf("%s: %v", step.role, err), Fatal: errors.Is(err, errExhausted)}
		}
	}

	err := poll.Retry(ctx, s.cfg.PollAttempts, s.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		return s.validator.IsAuthenticated(ctx, page), nil
	})
	if err != nil {
		s.logger.Warn("Login was not confirmed.", zap.Int("attempts", s.cfg.PollAttempts), zap.Error(err))
		return Outcome{Reason: fmt.Sprintf("login not confirmed after %d checks", s.cfg.PollAttempts)}
	}

	s.logger.Info("Form login succeeded.")
	return s.finish(ctx, page, req, tokensOnly(req.Previous), false)
}

// tokensOnly strips previous down to its tokens. A form login starts a new
// session, so nothing but the tokens carries over into the new bundle.
func tokensOnly(previous *session.Bundle) *session.Bundle {
	if previous == nil {
		return nil
	}
	return &session.Bundle{Tokens: previous.Tokens}
}

// perform resolves role among primary and acts on the winner. If that fails
// the fallbacks are tried in order, each only when visible.
func (s *Sequencer) perform(ctx context.Context, page browser.Page, role string, primary, fallbacks []locator.Locator, act func(locator.Locator) error) error {
	try := func(l locator.Locator, strategy string) bool {
		if err := act(l); err != nil {
			s.logger.Warn("Action on resolved element failed.",
				zap.String("role", role), zap.String("strategy", strategy), zap.String("locator", l.String()), zap.Error(err))
			return false
		}
		s.logger.Debug("Action succeeded.", zap.String("role", role), zap.String("strategy", strategy), zap.String("locator", l.String()))
		return true
	}

	attempts := []locator.Attempt[struct{}]{
		func(ctx context.Context) (struct{}, bool) {
			res := s.resolver.Resolve(ctx, page, locator.Set{Role: role, Candidates: primary})
			if !res.Found {
				return struct{}{}, false
			}
			return struct{}{}, try(res.Locator, "primary")
		},
	}
	for _, fb := range fallbacks {
		fb := fb
		attempts = append(attempts, func(ctx context.Context) (struct{}, bool) {
			visible, err := page.IsVisible(ctx, fb, s.cfg.SelectorTimeout)
			if err != nil || !visible {
				s.logger.Debug("Fallback not available.", zap.String("role", role), zap.String("locator", fb.String()))
				return struct{}{}, false
			}
			s.logger.Warn("Using degraded fallback.", zap.String("role", role), zap.String("locator", fb.String()))
			return struct{}{}, try(fb, "fallback")
		})
	}

	if _, ok := locator.FirstOf(ctx, attempts...); ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return errExhausted
}

// finish captures tokens and storage and persists the session over carry.
func (s *Sequencer) finish(ctx context.Context, page browser.Page, req Request, carry *session.Bundle, reused bool) Outcome {
	snap, err := s.harvester.AwaitStorageSettled(ctx, page, s.cfg.SettleTimeout, s.cfg.SettleInterval)
	if err != nil {
		s.logger.Debug("Storage did not settle.", zap.Error(err))
	}

	tokens := snap.Tokens()
	if harvested, err := s.harvester.Harvest(ctx, page); err != nil {
		s.logger.Warn("Token harvest failed; keeping the settled snapshot.", zap.Error(err))
	} else {
		for k, v := range harvested {
			tokens[k] = v
		}
	}

	state, err := page.StorageState(ctx)
	if err != nil {
		s.logger.Warn("Could not capture storage state; persisting an empty one.", zap.Error(err))
		state = nil
	}

	out := Outcome{Authenticated: true, Reused: reused, Tokens: tokens}
	bundle, err := s.store.Persist(ctx, state, tokens, req.Credentials.Username, carry)
	if err != nil {
		s.logger.Error("Failed to persist session.", zap.Error(err))
		out.Bundle = req.Previous
		return out
	}
	out.Bundle = bundle
	return out
}
