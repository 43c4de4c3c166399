// internal/browser/interface.go
package browser

import (
	"context"
	"time"

	"github.com/xkilldash9x/harvest-cli/api/schemas"
	"github.com/xkilldash9x/harvest-cli/internal/locator"
)

// Page is one open tab inside an isolated browsing context. Everything the
// login, wizard and extraction code does to the target application goes
// through this interface.
type Page interface {
	locator.Prober

	// Navigate loads url and waits for the page to settle.
	Navigate(ctx context.Context, url string) error
	// WaitForQuiescence waits for DOM readiness and a quiet network, bounded by timeout.
	WaitForQuiescence(ctx context.Context, timeout time.Duration) error

	// IsDisabled reports whether the element behind l is disabled. A missing
	// element is reported as not disabled.
	IsDisabled(ctx context.Context, l locator.Locator) (bool, error)
	Fill(ctx context.Context, l locator.Locator, value string) error
	Click(ctx context.Context, l locator.Locator) error
	ScrollBy(ctx context.Context, dy int) error

	// Evaluate runs script in the page and decodes its result into res (which may be nil).
	Evaluate(ctx context.Context, script string, res interface{}) error
	// HTML returns the current serialized document.
	HTML(ctx context.Context) (string, error)

	// StorageState snapshots the context's cookies and local storage.
	StorageState(ctx context.Context) (*schemas.StorageState, error)
	// AddInitScript registers source to run before any page script on every navigation.
	AddInitScript(ctx context.Context, source string) error

	Close(ctx context.Context) error
}

// Launcher opens pages in fresh browsing contexts, optionally pre-populated
// with a stored session.
type Launcher interface {
	NewPage(ctx context.Context, state *schemas.StorageState) (Page, error)
	Shutdown(ctx context.Context) error
}
