// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvest-cli/api/schemas"
	"github.com/xkilldash9x/harvest-cli/internal/config"
)

// Manager owns the browser process. Every page it opens lives in a fresh,
// isolated browser context of that one process.
type Manager struct {
	logger  *zap.Logger
	cfg     *config.Config
	persona schemas.Persona

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	// wg tracks open pages for a graceful shutdown.
	wg sync.WaitGroup
}

var _ Launcher = (*Manager)(nil)

// NewManager launches the browser process.
func NewManager(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*Manager, error) {
	persona := schemas.DefaultPersona
	if cfg.Browser.ViewportWidth > 0 && cfg.Browser.ViewportHeight > 0 {
		persona.Width = cfg.Browser.ViewportWidth
		persona.Height = cfg.Browser.ViewportHeight
	}

	m := &Manager{
		logger:  logger.Named("browser_manager"),
		cfg:     cfg,
		persona: persona,
	}
	if err := m.launchBrowser(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return m, nil
}

func (m *Manager) launchBrowser(ctx context.Context) error {
	m.logger.Info("Initializing browser allocator...", zap.Bool("headless", m.cfg.Browser.Headless))

	m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(ctx, buildAllocatorOptions(m.cfg.Browser, m.persona)...)
	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocCtx)

	// The first Run on the root context starts the process. It must not be a
	// timeout context or the browser would die with it.
	if err := chromedp.Run(m.browserCtx); err != nil {
		m.browserCancel()
		m.allocCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.logger.Info("Browser launched successfully and is responsive.")
	return nil
}

// buildAllocatorOptions assembles the launch flags: the chromedp defaults
// minus the automation banner, plus the stealth and container flags.
func buildAllocatorOptions(cfg config.BrowserConfig, persona schemas.Persona) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", cfg.IgnoreTLSErrors),
		// Hides navigator.webdriver at the Blink level.
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", cfg.Headless),
		chromedp.UserAgent(persona.UserAgent),
	)
	if persona.Width > 0 && persona.Height > 0 {
		opts = append(opts, chromedp.WindowSize(int(persona.Width), int(persona.Height)))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	for _, arg := range cfg.Args {
		name, value := splitFlag(arg)
		opts = append(opts, chromedp.Flag(name, value))
	}

	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	return opts
}

// splitFlag turns "--name=value" or "--name" into a chromedp flag pair.
func splitFlag(arg string) (string, interface{}) {
	parts := strings.SplitN(arg, "=", 2)
	name := strings.TrimLeft(parts[0], "-")
	if len(parts) == 2 {
		return name, parts[1]
	}
	return name, true
}

// NewPage opens a tab in a new browser context, seeded with state when it
// is non-empty. The caller owns the page and must Close it.
func (m *Manager) NewPage(ctx context.Context, state *schemas.StorageState) (Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(m.browserCtx, chromedp.WithNewBrowserContext())

	m.wg.Add(1)
	var once sync.Once
	done := func() { once.Do(m.wg.Done) }

	s := newSession(tabCtx, tabCancel, m.cfg, m.persona, m.logger, done)
	if err := s.initialize(ctx, state); err != nil {
		tabCancel()
		done()
		return nil, fmt.Errorf("failed to initialize page: %w", err)
	}

	m.logger.Debug("Opened page.", zap.String("session_id", s.ID()), zap.Bool("seeded", !state.IsEmpty()))
	return s, nil
}

// Shutdown waits for open pages to close, or for ctx to expire, and then
// terminates the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Browser manager shutdown initiated. Waiting for open pages to close...")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Debug("All pages closed.")
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}

	if m.browserCancel != nil {
		m.browserCancel()
	}
	if m.allocCancel != nil {
		m.allocCancel()
		<-m.allocCtx.Done()
	}
	m.logger.Info("Browser process stopped.")
	return nil
}
