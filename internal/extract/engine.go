package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/harvest-cli/api/schemas"
	"github.com/xkilldash9x/harvest-cli/internal/config"
	"github.com/xkilldash9x/harvest-cli/internal/locator"
)

// Page is the slice of the browsing collaborator the engine drives.
type Page interface {
	locator.Prober
	IsDisabled(ctx context.Context, l locator.Locator) (bool, error)
	Click(ctx context.Context, l locator.Locator) error
	ScrollBy(ctx context.Context, dy int) error
	WaitForQuiescence(ctx context.Context, timeout time.Duration) error
	HTML(ctx context.Context) (string, error)
}

// Controls lists the candidate locators for the "more data" affordances.
type Controls struct {
	Next     []locator.Locator
	LoadMore []locator.Locator
}

// DefaultControls covers common pagination and load-more markup.
func DefaultControls() Controls {
	return Controls{
		Next: []locator.Locator{
			locator.CSS{Selector: "a[rel='next']"},
			locator.CSS{Selector: "[aria-label='Next page']"},
			locator.CSS{Selector: "[aria-label='Next']"},
			locator.CSS{Selector: ".pagination .next"},
			locator.Text{Text: "Next", Tags: []string{"button", "a"}},
			locator.Role{Role: "button", Name: "next"},
		},
		LoadMore: []locator.Locator{
			locator.Text{Text: "Load more", Tags: []string{"button", "a"}},
			locator.Text{Text: "Show more", Tags: []string{"button", "a"}},
			locator.CSS{Selector: ".load-more"},
			locator.CSS{Selector: "[data-action='load-more']"},
		},
	}
}

// StopReason says why the loop ended.
type StopReason string

const (
	StopTotalReached StopReason = "total-reached"
	StopCeiling      StopReason = "attempt-ceiling"
	StopExhausted    StopReason = "exhausted"
	StopError        StopReason = "extraction-error"
	StopCanceled     StopReason = "canceled"
)

// Result is what one run of the engine produced. Rows is never empty.
type Result struct {
	Rows          []schemas.Row
	TotalExpected int
	TotalKnown    bool
	Attempts      int
	Stop          StopReason
	// Synthetic is set when Rows were generated rather than harvested.
	Synthetic bool
}

// state is the per-run extraction state: rows keyed by identity in
// first-seen order.
type state struct {
	seen       map[string]struct{}
	rows       []schemas.Row
	total      int
	totalKnown bool
	attempts   int
}

func newState() *state {
	return &state{seen: make(map[string]struct{})}
}

// add merges rows and returns how many were new.
func (s *state) add(rows []schemas.Row) int {
	added := 0
	for _, r := range rows {
		key := IdentityKey(r)
		if _, dup := s.seen[key]; dup {
			continue
		}
		s.seen[key] = struct{}{}
		s.rows = append(s.rows, r)
		added++
	}
	return added
}

// observeTotal records the first detected total.
func (s *state) observeTotal(n int, ok bool) {
	if ok && !s.totalKnown {
		s.total, s.totalKnown = n, true
	}
}

func (s *state) complete() bool {
	return s.totalKnown && len(s.rows) >= s.total
}

// Engine runs the paginated extraction loop over one view.
type Engine struct {
	logger   *zap.Logger
	cfg      config.ExtractConfig
	controls Controls
	resolver *locator.Resolver
}

func NewEngine(logger *zap.Logger, cfg config.ExtractConfig, controls Controls) *Engine {
	logger = logger.Named("extract")
	return &Engine{
		logger:   logger,
		cfg:      cfg,
		controls: controls,
		resolver: locator.NewResolver(logger, cfg.ControlTimeout),
	}
}

// Run extracts the current view, then keeps advancing until the expected
// total is reached, the attempt ceiling is hit, or no strategy makes progress.
func (e *Engine) Run(ctx context.Context, page Page) Result {
	st := newState()

	pass, view, err := e.extractCurrent(ctx, page)
	if err != nil {
		e.logger.Error("Initial extraction failed, returning synthetic rows.", zap.Error(err))
		return Result{Rows: errorRows(err), Stop: StopError, Synthetic: true}
	}
	lastView := view
	if pass.Found() {
		st.add(pass.Rows)
	}
	st.observeTotal(view.DetectTotal())
	e.logger.Info("Extracted current view.",
		zap.String("source", string(pass.Source)), zap.Int("rows", len(st.rows)), zap.Int("total_expected", st.total))

	stop := StopExhausted
	for {
		if st.complete() {
			stop = StopTotalReached
			break
		}
		if st.attempts >= e.cfg.MaxAttempts {
			e.logger.Warn("Attempt ceiling reached, stopping.", zap.Int("attempts", st.attempts), zap.Int("rows", len(st.rows)))
			stop = StopCeiling
			break
		}
		if ctx.Err() != nil {
			stop = StopCanceled
			break
		}
		st.attempts++

		added, v, err := e.advance(ctx, page, st)
		if v != nil {
			lastView = v
		}
		if err != nil {
			e.logger.Error("Extraction failed while advancing, keeping collected rows.", zap.Error(err))
			stop = StopError
			break
		}
		if added == 0 {
			stop = StopExhausted
			break
		}
	}

	res := Result{
		Rows:          st.rows,
		TotalExpected: st.total,
		TotalKnown:    st.totalKnown,
		Attempts:      st.attempts,
		Stop:          stop,
	}
	if st.totalKnown && len(res.Rows) > st.total {
		e.logger.Debug("Trimming surplus rows.", zap.Int("collected", len(res.Rows)), zap.Int("total", st.total))
		res.Rows = res.Rows[:st.total]
	}
	if len(res.Rows) == 0 {
		res.Synthetic = true
		if stop == StopError {
			res.Rows = errorRows(errors.New("no rows collected before the failure"))
		} else {
			res.Rows = []schemas.Row{lastView.Placeholder()}
		}
	}
	if stop == StopExhausted && st.totalKnown && len(st.rows) < st.total {
		e.logger.Warn("No control made progress before the indicated total was reached.",
			zap.Int("rows", len(st.rows)), zap.Int("total", st.total))
	}
	e.logger.Info("Extraction finished.",
		zap.String("stop", string(stop)), zap.Int("rows", len(res.Rows)), zap.Int("attempts", st.attempts))
	return res
}

// advance tries next, load more, then scroll, and stops at the first
// strategy that produced new rows.
func (e *Engine) advance(ctx context.Context, page Page, st *state) (int, *View, error) {
	var (
		lastView *View
		failure  error
	)
	collect := func(ctx context.Context, strategy string) int {
		pass, view, err := e.extractCurrent(ctx, page)
		if err != nil {
			failure = err
			return 0
		}
		lastView = view
		st.observeTotal(view.DetectTotal())
		if !pass.Found() {
			e.logger.Debug("Strategy exposed no rows.", zap.String("strategy", strategy))
			return 0
		}
		added := st.add(pass.Rows)
		e.logger.Debug("Strategy result.", zap.String("strategy", strategy), zap.Int("new_rows", added), zap.Int("collected", len(st.rows)))
		return added
	}

	clickThen := func(strategy string, candidates []locator.Locator, checkDisabled bool) locator.Attempt[int] {
		return func(ctx context.Context) (int, bool) {
			if failure != nil {
				return 0, false
			}
			res := e.resolver.Resolve(ctx, page, locator.Set{Role: strategy, Candidates: candidates})
			if !res.Found {
				return 0, false
			}
			if checkDisabled {
				disabled, err := page.IsDisabled(ctx, res.Locator)
				if err != nil {
					e.logger.Debug("Could not read control state.", zap.String("strategy", strategy), zap.String("locator", res.Locator.String()), zap.Error(err))
				}
				if disabled {
					e.logger.Debug("Control is disabled, skipping.", zap.String("strategy", strategy), zap.String("locator", res.Locator.String()))
					return 0, false
				}
			}
			if err := page.Click(ctx, res.Locator); err != nil {
				e.logger.Warn("Control click failed.", zap.String("strategy", strategy), zap.String("locator", res.Locator.String()), zap.Error(err))
				return 0, false
			}
			e.settle(ctx, page, strategy)
			added := collect(ctx, strategy)
			return added, added > 0
		}
	}

	scroll := func(ctx context.Context) (int, bool) {
		if failure != nil {
			return 0, false
		}
		for i := 0; i < e.cfg.ScrollSteps; i++ {
			if err := page.ScrollBy(ctx, e.cfg.ScrollPixels); err != nil {
				e.logger.Warn("Scroll failed.", zap.Int("step", i+1), zap.Error(err))
				return 0, false
			}
			e.settle(ctx, page, "scroll")
		}
		added := collect(ctx, "scroll")
		return added, added > 0
	}

	added, _ := locator.FirstOf(ctx,
		clickThen("next", e.controls.Next, true),
		clickThen("load-more", e.controls.LoadMore, false),
		scroll,
	)
	return added, lastView, failure
}

func (e *Engine) settle(ctx context.Context, page Page, strategy string) {
	if err := page.WaitForQuiescence(ctx, e.cfg.SettleTimeout); err != nil {
		e.logger.Debug("Page did not settle.", zap.String("strategy", strategy), zap.Error(err))
	}
}

func (e *Engine) extractCurrent(ctx context.Context, page Page) (Pass, *View, error) {
	markup, err := page.HTML(ctx)
	if err != nil {
		return Pass{}, nil, fmt.Errorf("failed to snapshot page: %w", err)
	}
	view, err := ParseView(markup)
	if err != nil {
		return Pass{}, nil, err
	}
	return view.Extract(), view, nil
}

// errorRows are the clearly marked rows returned when extraction failed
// before anything was collected.
func errorRows(cause error) []schemas.Row {
	note := "This is synthetic data because actual product data could not be extracted"
	return []schemas.Row{
		schemas.NewRow(
			"Name", "Example Product 1",
			"Description", "This is a placeholder product",
			"Category", "Test",
			"Price", "$99.99",
			"SKU", "TEST-001",
			"Error", cause.Error(),
			schemas.FieldSynthetic, schemas.SyntheticError,
			schemas.FieldNote, note,
		),
		schemas.NewRow(
			"Name", "Example Product 2",
			"Description", "Another placeholder product",
			"Category", "Test",
			"Price", "$199.99",
			"SKU", "TEST-002",
			"Error", cause.Error(),
			schemas.FieldSynthetic, schemas.SyntheticError,
			schemas.FieldNote, note,
		),
	}
}
