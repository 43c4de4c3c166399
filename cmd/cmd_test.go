// File: cmd/cmd_test.go
package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFlagOverride(t *testing.T) {
	resetForTest(t)
	cfgFile = writeFile(t, "config.yaml", `
target:
  url: https://config.example.com/
  username: config-user
session:
  file: /config/session.json
  max_age_minutes: 60
extract:
  output: /config/products.json
`)
	t.Setenv("APP_PASSWORD", "from-env")

	root := newRootCmd()
	captured := captureConfig(t, root, "run")
	_, err := executeCommand(t, root, "run",
		"--config", cfgFile,
		"--url", "https://flag.example.com/login",
		"--force-login",
		"--max-age", "30",
		"-o", "-",
	)
	require.NoError(t, err)
	cfg := *captured
	require.NotNil(t, cfg)

	assert.Equal(t, "https://flag.example.com/login", cfg.Target.URL, "flag beats config file")
	assert.Equal(t, "config-user", cfg.Target.Username, "config file beats defaults")
	assert.Equal(t, "from-env", cfg.Target.Password, "APP_PASSWORD alias")
	assert.Equal(t, "/config/session.json", cfg.Session.File)
	assert.Equal(t, 30, cfg.Session.MaxAgeMinutes)
	assert.True(t, cfg.Session.ForceLogin)
	assert.Equal(t, "-", cfg.Extract.Output)
}

func TestConfigDefaults(t *testing.T) {
	resetForTest(t)
	t.Setenv("APP_EMAIL", "env-user@example.com")
	t.Setenv("HARVEST_TARGET_URL", "https://env.example.com/")

	root := newRootCmd()
	captured := captureConfig(t, root, "validate")
	_, err := executeCommand(t, root, "validate")
	require.NoError(t, err)
	cfg := *captured

	assert.Equal(t, "https://env.example.com/", cfg.Target.URL)
	assert.Equal(t, "env-user@example.com", cfg.Target.Username)
	assert.Equal(t, "session.json", cfg.Session.File)
	assert.Equal(t, 480, cfg.Session.MaxAgeMinutes)
	assert.True(t, cfg.Browser.Headless)
	assert.False(t, cfg.Session.ForceLogin)
	assert.Equal(t, "products.json", cfg.Extract.Output)
}

func TestInvalidConfig(t *testing.T) {
	resetForTest(t)
	root := newRootCmd()
	captureConfig(t, root, "run")

	_, err := executeCommand(t, root, "run", "--url", "not-a-url")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target.url")

	_, err = executeCommand(t, newRootCmd(), "run", "--max-age=-5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_age_minutes")
}

func TestRunRequiresURL(t *testing.T) {
	resetForTest(t)
	_, err := executeCommand(t, newRootCmd(), "run", "--session-file", writeFile(t, "s.json", "{}"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "target URL is required")
}

func TestInspect(t *testing.T) {
	resetForTest(t)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "42",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	verified := time.Now().Add(-5 * time.Minute).UTC().Format(time.RFC3339)
	path := writeFile(t, "session.json", `{
  "version": 1,
  "createdAt": "`+verified+`",
  "lastVerified": "`+verified+`",
  "username": "user@example.com",
  "maxAgeMinutes": 480,
  "storageState": {"cookies": [{"name": "sid", "value": "abc", "domain": "app.example.com", "path": "/"}], "origins": []},
  "tokens": {"local:auth_token": "`+expired+`", "session:theme_session": "plain-session-value"}
}`)

	out, err := executeCommand(t, newRootCmd(), "inspect", "--session-file", path)
	require.NoError(t, err)

	assert.Contains(t, out, "user@example.com")
	assert.Contains(t, out, "Usable")
	assert.Contains(t, out, "local:auth_token")
	assert.Contains(t, out, "(expired)")
	assert.Contains(t, out, "session:theme_session")
	assert.NotContains(t, out, "plain-session-value", "token values are masked")
	assert.True(t, strings.Index(out, "local:auth_token") < strings.Index(out, "session:theme_session"))
}

func TestInspect_MissingSession(t *testing.T) {
	resetForTest(t)
	_, err := executeCommand(t, newRootCmd(), "inspect", "--session-file", "/nonexistent/session.json")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no readable session")
}
