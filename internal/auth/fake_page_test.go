package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xkilldash9x/harvest-cli/api/schemas"
	"github.com/xkilldash9x/harvest-cli/internal/locator"
)

// fakePage is an in-memory login form. Elements are addressed by the
// locator's String() form.
type fakePage struct {
	mu sync.Mutex

	visible  map[string]bool
	fillErrs map[string]error
	probeErr error
	navErr   error

	fills      map[string]string
	clicks     []string
	navigated  []string
	evaluated  int
	snapshot   Snapshot
	state      *schemas.StorageState
	stateErr   error
	onClick    func(f *fakePage, l locator.Locator)
	snapshotFn func(call int) (Snapshot, error)
}

func newFakePage(visible ...locator.Locator) *fakePage {
	f := &fakePage{
		visible:  map[string]bool{},
		fillErrs: map[string]error{},
		fills:    map[string]string{},
	}
	f.show(visible...)
	return f
}

func (f *fakePage) show(ls ...locator.Locator) {
	for _, l := range ls {
		f.visible[l.String()] = true
	}
}

func (f *fakePage) hide(ls ...locator.Locator) {
	for _, l := range ls {
		delete(f.visible, l.String())
	}
}

func (f *fakePage) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, url)
	return f.navErr
}

func (f *fakePage) WaitForQuiescence(ctx context.Context, timeout time.Duration) error { return nil }

func (f *fakePage) IsVisible(ctx context.Context, l locator.Locator, timeout time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.probeErr != nil {
		return false, f.probeErr
	}
	return f.visible[l.String()], nil
}

func (f *fakePage) IsDisabled(ctx context.Context, l locator.Locator) (bool, error) { return false, nil }

func (f *fakePage) Fill(ctx context.Context, l locator.Locator, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fillErrs[l.String()]; err != nil {
		return err
	}
	if !f.visible[l.String()] {
		return errors.New("element not found")
	}
	f.fills[l.String()] = value
	return nil
}

func (f *fakePage) Click(ctx context.Context, l locator.Locator) error {
	f.mu.Lock()
	f.clicks = append(f.clicks, l.String())
	cb := f.onClick
	f.mu.Unlock()
	if cb != nil {
		cb(f, l)
	}
	return nil
}

func (f *fakePage) ScrollBy(ctx context.Context, dy int) error { return nil }

func (f *fakePage) Evaluate(ctx context.Context, script string, res interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evaluated++
	if script != probeScript {
		return errors.New("unexpected script")
	}
	snap, err := f.snapshot, error(nil)
	if f.snapshotFn != nil {
		snap, err = f.snapshotFn(f.evaluated)
	}
	if err != nil {
		return err
	}
	*res.(*Snapshot) = snap
	return nil
}

func (f *fakePage) HTML(ctx context.Context) (string, error) { return "<html></html>", nil }

func (f *fakePage) StorageState(ctx context.Context) (*schemas.StorageState, error) {
	return f.state, f.stateErr
}

func (f *fakePage) AddInitScript(ctx context.Context, source string) error { return nil }
func (f *fakePage) Close(ctx context.Context) error                       { return nil }
