// internal/browser/page.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvest-cli/api/schemas"
	"github.com/xkilldash9x/harvest-cli/internal/browser/stealth"
	"github.com/xkilldash9x/harvest-cli/internal/config"
	"github.com/xkilldash9x/harvest-cli/internal/locator"
	"github.com/xkilldash9x/harvest-cli/internal/poll"
)

const (
	// refAttr tags the element a locator resolved to so CDP actions can target it by query.
	refAttr = "data-harvest-ref"

	interactionTimeout = 10 * time.Second
	probeInterval      = 100 * time.Millisecond
	quietPeriod        = 500 * time.Millisecond
)

// Session is a single tab in its own browser context. It implements Page.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    *config.Config

	persona schemas.Persona
	network *idleTracker

	// seeded holds the origins the context was created with. Captures only
	// see the live origin, the rest are carried forward from here.
	seeded []schemas.OriginState

	refs    atomic.Uint64
	onClose func()

	mu       sync.Mutex
	isClosed bool
}

var _ Page = (*Session)(nil)

// newSession wraps an already created tab context.
func newSession(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, persona schemas.Persona, logger *zap.Logger, onClose func()) *Session {
	id := uuid.New().String()
	return &Session{
		id:      id,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With(zap.String("session_id", id)),
		cfg:     cfg,
		persona: persona,
		onClose: onClose,
	}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// initialize connects the tab, applies the persona, and seeds state before
// the first navigation.
func (s *Session) initialize(ctx context.Context, state *schemas.StorageState) error {
	// Allocates the target in the new browser context.
	if err := chromedp.Run(s.ctx); err != nil {
		return fmt.Errorf("failed to create browser target: %w", err)
	}

	s.network = newIdleTracker(s.logger)
	s.network.listen(s.ctx)

	tasks := chromedp.Tasks{network.Enable()}
	if s.cfg.Browser.Stealth {
		tasks = append(tasks, stealth.Apply(s.persona, s.logger)...)
	}
	if len(s.cfg.Network.Headers) > 0 {
		headers := make(network.Headers, len(s.cfg.Network.Headers))
		for k, v := range s.cfg.Network.Headers {
			headers[k] = v
		}
		tasks = append(tasks, network.SetExtraHTTPHeaders(headers))
	}

	if !state.IsEmpty() {
		seeded := state.Clone()
		s.seeded = seeded.Origins
		tasks = append(tasks, s.seedState(seeded))
	}

	if err := s.run(ctx, tasks); err != nil {
		return fmt.Errorf("failed to run session initialization tasks: %w", err)
	}
	return nil
}

// seedState installs cookies and schedules local storage priming.
func (s *Session) seedState(state *schemas.StorageState) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if len(state.Cookies) > 0 {
			if err := storage.SetCookies(toCookieParams(state.Cookies)).
				WithBrowserContextID(s.browserContextID()).
				Do(s.browserExecutor(ctx)); err != nil {
				return fmt.Errorf("failed to restore cookies: %w", err)
			}
		}
		for _, origin := range state.Origins {
			if len(origin.LocalStorage) == 0 {
				continue
			}
			script, err := primeScript(origin)
			if err != nil {
				return fmt.Errorf("failed to build storage script for %s: %w", origin.Origin, err)
			}
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("failed to register storage script for %s: %w", origin.Origin, err)
			}
		}
		s.logger.Debug("Seeded browser context.",
			zap.Int("cookies", len(state.Cookies)), zap.Int("origins", len(state.Origins)))
		return nil
	})
}

func (s *Session) browserContextID() cdp.BrowserContextID {
	if c := chromedp.FromContext(s.ctx); c != nil {
		return c.BrowserContextID
	}
	return ""
}

// browserExecutor routes browser-level commands (Storage.*) to the browser
// connection instead of the tab.
func (s *Session) browserExecutor(ctx context.Context) context.Context {
	if c := chromedp.FromContext(s.ctx); c != nil && c.Browser != nil {
		return cdp.WithExecutor(ctx, c.Browser)
	}
	return ctx
}

// run executes actions on the tab, bounded by both the session and ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (s *Session) runWithTimeout(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.run(opCtx, actions...)
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating.", zap.String("url", url))
	if err := s.runWithTimeout(ctx, s.cfg.Network.NavigationTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}

	if err := s.WaitForQuiescence(ctx, s.cfg.Network.QuiescenceTimeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Debug("Page did not go quiet after navigation, continuing.", zap.Error(err))
	}

	if wait := s.cfg.Network.PostLoadWait; wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Session) WaitForQuiescence(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.run(waitCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("document not ready: %w", err)
	}
	return s.network.WaitIdle(waitCtx, quietPeriod)
}

// IsVisible polls for a visible element until timeout. Running out of time is
// a negative answer, not an error.
func (s *Session) IsVisible(ctx context.Context, l locator.Locator, timeout time.Duration) (bool, error) {
	script := fmt.Sprintf("(() => !!(%s))()", locator.Select(l))
	err := poll.Until(ctx, probeInterval, timeout, func(ctx context.Context) (bool, error) {
		var found bool
		if err := s.run(ctx, chromedp.Evaluate(script, &found)); err != nil {
			if ctx.Err() != nil {
				return false, nil
			}
			return false, err
		}
		return found, nil
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, poll.ErrTimeout):
		return false, nil
	default:
		return false, err
	}
}

// IsDisabled honors the disabled property and aria-disabled only. A styling
// class such as .disabled does not stop a control that still works.
func (s *Session) IsDisabled(ctx context.Context, l locator.Locator) (bool, error) {
	script := fmt.Sprintf(`(() => {
	const el = %s;
	if (!el) return false;
	return !!el.disabled || el.getAttribute('aria-disabled') === 'true';
})()`, locator.Select(l))

	var disabled bool
	if err := s.runWithTimeout(ctx, interactionTimeout, chromedp.Evaluate(script, &disabled)); err != nil {
		return false, fmt.Errorf("disabled check for %s failed: %w", l, err)
	}
	return disabled, nil
}

// mark tags the element l resolves to and returns a query selector for it.
func (s *Session) mark(ctx context.Context, l locator.Locator) (string, error) {
	ref := strconv.FormatUint(s.refs.Add(1), 10)
	script := fmt.Sprintf(`(() => {
	const el = %s;
	if (!el) return false;
	el.setAttribute(%q, %q);
	return true;
})()`, locator.Select(l), refAttr, ref)

	var ok bool
	if err := s.runWithTimeout(ctx, interactionTimeout, chromedp.Evaluate(script, &ok)); err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", l, err)
	}
	if !ok {
		return "", fmt.Errorf("no visible element for %s", l)
	}
	return fmt.Sprintf(`[%s="%s"]`, refAttr, ref), nil
}

func (s *Session) Click(ctx context.Context, l locator.Locator) error {
	sel, err := s.mark(ctx, l)
	if err != nil {
		return err
	}
	if err := s.runWithTimeout(ctx, interactionTimeout,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible),
	); err != nil {
		return fmt.Errorf("click on %s failed: %w", l, err)
	}
	return nil
}

func (s *Session) Fill(ctx context.Context, l locator.Locator, value string) error {
	sel, err := s.mark(ctx, l)
	if err != nil {
		return err
	}
	if err := s.runWithTimeout(ctx, interactionTimeout,
		chromedp.ScrollIntoView(sel, chromedp.ByQuery),
		chromedp.Clear(sel, chromedp.ByQuery),
		chromedp.SendKeys(sel, value, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("fill on %s failed: %w", l, err)
	}
	return nil
}

func (s *Session) ScrollBy(ctx context.Context, dy int) error {
	return s.Evaluate(ctx, fmt.Sprintf("window.scrollBy(0, %d)", dy), nil)
}

func (s *Session) Evaluate(ctx context.Context, script string, res interface{}) error {
	return s.runWithTimeout(ctx, interactionTimeout, chromedp.Evaluate(script, res))
}

// markHiddenJS refreshes the hidden tags from computed styles and returns how
// many elements it tagged.
var markHiddenJS = fmt.Sprintf(`(() => {
	const attr = %q;
	document.querySelectorAll('[' + attr + ']').forEach(el => el.removeAttribute(attr));
	if (!document.body) return 0;
	let n = 0;
	for (const el of document.body.querySelectorAll('*')) {
		const st = window.getComputedStyle(el);
		if (st.display === 'none' || st.visibility === 'hidden') {
			el.setAttribute(attr, '');
			n++;
		}
	}
	return n;
})()`, schemas.HiddenAttr)

// HTML snapshots the document with every computed-hidden element tagged with
// schemas.HiddenAttr.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var (
		html   string
		hidden int
	)
	if err := s.runWithTimeout(ctx, interactionTimeout,
		chromedp.Evaluate(markHiddenJS, &hidden),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("failed to snapshot document: %w", err)
	}
	s.logger.Debug("Document snapshot taken.", zap.Int("hidden", hidden), zap.Int("bytes", len(html)))
	return html, nil
}

func (s *Session) AddInitScript(ctx context.Context, source string) error {
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(source).Do(ctx)
		return err
	}))
}

// StorageState captures the context's cookies and the live origin's local
// storage, merged over the origins the context was seeded with.
func (s *Session) StorageState(ctx context.Context) (*schemas.StorageState, error) {
	state := &schemas.StorageState{
		Cookies: []schemas.Cookie{},
		Origins: []schemas.OriginState{},
	}
	for _, o := range s.seeded {
		state.MergeOrigin(o)
	}

	var live schemas.OriginState
	err := s.runWithTimeout(ctx, interactionTimeout,
		chromedp.ActionFunc(func(ctx context.Context) error {
			cookies, err := storage.GetCookies().
				WithBrowserContextID(s.browserContextID()).
				Do(s.browserExecutor(ctx))
			if err != nil {
				return fmt.Errorf("failed to read cookies: %w", err)
			}
			state.Cookies = fromNetworkCookies(cookies)
			return nil
		}),
		chromedp.Evaluate(captureOriginJS, &live),
	)
	if err != nil {
		return nil, err
	}

	// Opaque origins (about:blank, data:) have no storage worth keeping.
	if live.Origin != "" && live.Origin != "null" {
		if live.LocalStorage == nil {
			live.LocalStorage = []schemas.NameValue{}
		}
		state.MergeOrigin(live)
	}
	return state, nil
}

// Close closes the tab and disposes its browser context. It is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed {
		return nil
	}
	s.isClosed = true

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), 5*time.Second)
	defer cancel()
	if err := chromedp.Run(closeCtx, page.Close()); err != nil && ctx.Err() == nil {
		s.logger.Debug("Tab close returned an error.", zap.Error(err))
	}

	// Canceling the tab context disposes the browser context with it.
	s.cancel()
	if s.onClose != nil {
		s.onClose()
	}
	s.logger.Debug("Session closed.")
	return nil
}
