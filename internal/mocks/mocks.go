// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/harvest-cli/api/schemas"
	"github.com/xkilldash9x/harvest-cli/internal/browser"
	"github.com/xkilldash9x/harvest-cli/internal/locator"
)

// -- Page Mock --

// MockPage mocks browser.Page.
type MockPage struct {
	mock.Mock
}

var _ browser.Page = (*MockPage)(nil)

func (m *MockPage) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockPage) WaitForQuiescence(ctx context.Context, timeout time.Duration) error {
	return m.Called(ctx, timeout).Error(0)
}

func (m *MockPage) IsVisible(ctx context.Context, l locator.Locator, timeout time.Duration) (bool, error) {
	args := m.Called(ctx, l, timeout)
	return args.Bool(0), args.Error(1)
}

func (m *MockPage) IsDisabled(ctx context.Context, l locator.Locator) (bool, error) {
	args := m.Called(ctx, l)
	return args.Bool(0), args.Error(1)
}

func (m *MockPage) Fill(ctx context.Context, l locator.Locator, value string) error {
	return m.Called(ctx, l, value).Error(0)
}

func (m *MockPage) Click(ctx context.Context, l locator.Locator) error {
	return m.Called(ctx, l).Error(0)
}

func (m *MockPage) ScrollBy(ctx context.Context, dy int) error {
	return m.Called(ctx, dy).Error(0)
}

// Evaluate returns Error(0). When a second return value is configured it is
// passed to a func(res interface{}) so tests can populate res.
func (m *MockPage) Evaluate(ctx context.Context, script string, res interface{}) error {
	args := m.Called(ctx, script, res)
	if len(args) > 1 {
		if fill, ok := args.Get(1).(func(interface{})); ok && fill != nil {
			fill(res)
		}
	}
	return args.Error(0)
}

func (m *MockPage) HTML(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPage) StorageState(ctx context.Context) (*schemas.StorageState, error) {
	args := m.Called(ctx)
	if s, ok := args.Get(0).(*schemas.StorageState); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPage) AddInitScript(ctx context.Context, source string) error {
	return m.Called(ctx, source).Error(0)
}

func (m *MockPage) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- Launcher Mock --

// MockLauncher mocks browser.Launcher.
type MockLauncher struct {
	mock.Mock
}

var _ browser.Launcher = (*MockLauncher)(nil)

func (m *MockLauncher) NewPage(ctx context.Context, state *schemas.StorageState) (browser.Page, error) {
	args := m.Called(ctx, state)
	if p, ok := args.Get(0).(browser.Page); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockLauncher) Shutdown(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
