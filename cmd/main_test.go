// File: cmd/main_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/harvest-cli/internal/config"
	"github.com/xkilldash9x/harvest-cli/internal/observability"
)

// resetForTest isolates a test from package state and from any config.yaml
// or HARVEST_* variables in the environment.
func resetForTest(t *testing.T) {
	t.Helper()
	cfgFile = ""
	t.Chdir(t.TempDir())
	for _, key := range []string{"HARVEST_TARGET_URL", "HARVEST_TARGET_USERNAME", "HARVEST_TARGET_PASSWORD", "APP_EMAIL", "APP_PASSWORD", "HARVEST_DATABASE_URL"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	t.Setenv("HARVEST_LOGGER_LEVEL", "error")

	observability.ResetForTest()
	observability.InitializeLogger(config.LoggerConfig{Level: "error", Format: "console", ServiceName: "test"})
	t.Cleanup(observability.ResetForTest)
}

// executeCommand runs a fresh command tree with args.
func executeCommand(t *testing.T, root *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

// findCommand returns the subcommand called name.
func findCommand(t *testing.T, root *cobra.Command, name string) *cobra.Command {
	t.Helper()
	for _, c := range root.Commands() {
		if c.Name() == name {
			return c
		}
	}
	t.Fatalf("command %q not found", name)
	return nil
}

// captureConfig replaces the RunE of name with one that records the config.
func captureConfig(t *testing.T, root *cobra.Command, name string) **config.Config {
	t.Helper()
	var captured *config.Config
	findCommand(t, root, name).RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := configFrom(cmd)
		captured = cfg
		return err
	}
	return &captured
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
