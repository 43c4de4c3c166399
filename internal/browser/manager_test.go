// internal/browser/manager_test.go
package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/harvest-cli/api/schemas"
	"github.com/xkilldash9x/harvest-cli/internal/config"
	"github.com/xkilldash9x/harvest-cli/internal/locator"
)

func TestSplitFlag(t *testing.T) {
	name, value := splitFlag("--proxy-server=http://127.0.0.1:8080")
	assert.Equal(t, "proxy-server", name)
	assert.Equal(t, "http://127.0.0.1:8080", value)

	name, value = splitFlag("--mute-audio")
	assert.Equal(t, "mute-audio", name)
	assert.Equal(t, true, value)

	name, _ = splitFlag("lang=de")
	assert.Equal(t, "lang", name)
}

func TestBuildAllocatorOptions(t *testing.T) {
	cfg := config.NewDefaultConfig().Browser
	base := len(buildAllocatorOptions(cfg, schemas.Persona{}))

	cfg.Args = []string{"--mute-audio", "--lang=de"}
	cfg.ExecPath = "/opt/chrome/chrome"
	withExtras := buildAllocatorOptions(cfg, schemas.DefaultPersona)
	// Two args, exec path, and window size.
	assert.Equal(t, base+4, len(withExtras))
}

// -- Integration --

const loginPage = `<!doctype html>
<html><body>
<form id="login" onsubmit="event.preventDefault();
	document.cookie = 'sid=abc123; path=/';
	localStorage.setItem('auth_token', 'token-' + document.getElementById('email').value);
	document.getElementById('status').style.display = 'block';">
  <input id="email" type="email">
  <input id="password" type="password">
  <button type="submit" id="go">Sign In</button>
  <button type="button" disabled class="next">Next</button>
  <a href="#more" class="more disabled">More</a>
  <a href="#prev" class="prev" aria-disabled="true">Prev</a>
</form>
<div id="status" style="display:none">Welcome</div>
</body></html>`

func requireChrome(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("no Chrome or Chromium binary found")
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	requireChrome(t)

	cfg := config.NewDefaultConfig()
	cfg.Network.PostLoadWait = 50 * time.Millisecond
	cfg.Network.QuiescenceTimeout = 3 * time.Second

	m, err := NewManager(context.Background(), zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func TestManager_SessionRoundTrip(t *testing.T) {
	m := newTestManager(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, loginPage)
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// First context: log in and capture.
	first, err := m.NewPage(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, first.Navigate(ctx, server.URL))

	visible, err := first.IsVisible(ctx, locator.CSS{Selector: "#email"}, time.Second)
	require.NoError(t, err)
	assert.True(t, visible)

	hidden, err := first.IsVisible(ctx, locator.CSS{Selector: "#status"}, 200*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, hidden, "display:none elements are not visible")

	disabled, err := first.IsDisabled(ctx, locator.Class{Name: "next"})
	require.NoError(t, err)
	assert.True(t, disabled)

	disabled, err = first.IsDisabled(ctx, locator.Class{Name: "prev"})
	require.NoError(t, err)
	assert.True(t, disabled, "aria-disabled counts")

	disabled, err = first.IsDisabled(ctx, locator.Class{Name: "more"})
	require.NoError(t, err)
	assert.False(t, disabled, "a .disabled styling class alone does not")

	require.NoError(t, first.Fill(ctx, locator.CSS{Selector: "#email"}, "user@example.com"))
	require.NoError(t, first.Fill(ctx, locator.Nth{Selector: "input", Index: 1}, "hunter2"))
	require.NoError(t, first.Click(ctx, locator.Text{Text: "Sign In", Tags: []string{"button"}}))

	visible, err = first.IsVisible(ctx, locator.Text{Text: "Welcome"}, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, visible)

	state, err := first.StorageState(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Close(ctx))
	require.NoError(t, first.Close(ctx), "close is idempotent")

	require.NotEmpty(t, state.Cookies)
	assert.Equal(t, "sid", state.Cookies[0].Name)
	require.Len(t, state.Origins, 1)
	assert.Equal(t, server.URL, state.Origins[0].Origin)
	assert.Contains(t, state.Origins[0].LocalStorage, schemas.NameValue{Name: "auth_token", Value: "token-user@example.com"})

	// Second context: seeded from the capture.
	second, err := m.NewPage(ctx, state)
	require.NoError(t, err)
	defer second.Close(ctx)
	require.NoError(t, second.Navigate(ctx, server.URL))

	var token, cookies string
	require.NoError(t, second.Evaluate(ctx, `localStorage.getItem('auth_token')`, &token))
	require.NoError(t, second.Evaluate(ctx, `document.cookie`, &cookies))
	assert.Equal(t, "token-user@example.com", token)
	assert.Contains(t, cookies, "sid=abc123")

	// A fresh unseeded context shares nothing.
	third, err := m.NewPage(ctx, nil)
	require.NoError(t, err)
	defer third.Close(ctx)
	require.NoError(t, third.Navigate(ctx, server.URL))
	require.NoError(t, third.Evaluate(ctx, `document.cookie`, &cookies))
	assert.Empty(t, cookies)

	html, err := third.HTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, `id="login"`)
}

const catalogPage = `<!doctype html>
<html><head><style>.archived { display: none } .ghost { visibility: hidden }</style></head>
<body>
<table class="archived"><tr><td>old</td></tr></table>
<p class="ghost">Showing 1 of 99 products</p>
<table id="live"><tr><td>Widget</td></tr></table>
</body></html>`

func TestSession_HTMLTagsHiddenElements(t *testing.T) {
	m := newTestManager(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, catalogPage)
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	p, err := m.NewPage(ctx, nil)
	require.NoError(t, err)
	defer p.Close(ctx)
	require.NoError(t, p.Navigate(ctx, server.URL))

	html, err := p.HTML(ctx)
	require.NoError(t, err)
	assert.Regexp(t, `<table class="archived" `+schemas.HiddenAttr, html)
	assert.Regexp(t, `<p class="ghost" `+schemas.HiddenAttr, html)
	assert.Contains(t, html, `<table id="live">`, "visible elements stay untagged")

	// Tags follow the live styles on every snapshot.
	require.NoError(t, p.Evaluate(ctx, `document.querySelector('.archived').classList.remove('archived')`, nil))
	html, err = p.HTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, `<table class=""><tbody>`)
}
