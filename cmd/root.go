// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvest-cli/internal/config"
	"github.com/xkilldash9x/harvest-cli/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

var cfgFile string

// flagKeys maps command flags to the config keys they override. A flag only
// binds on commands that define it.
var flagKeys = map[string]string{
	"url":          "target.url",
	"email":        "target.username",
	"password":     "target.password",
	"keyring":      "target.use_keyring",
	"session-file": "session.file",
	"headless":     "browser.headless",
	"force-login":  "session.force_login",
	"max-age":      "session.max_age_minutes",
	"output":       "extract.output",
}

var rootCmd = newRootCmd()

// newRootCmd builds the command tree. The config built in PersistentPreRunE
// is handed to subcommands through the command context.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "harvest",
		Short:         "Harvest logs into a web application and extracts its paginated product data.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "harvest"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "harvest"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Starting harvest", zap.String("version", Version), zap.String("command", cmd.Name()))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	cmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the root command with ctx. Failures are logged here; the
// caller only decides the exit code.
func Execute(ctx context.Context) error {
	defer observability.Sync()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			observability.GetLogger().Error("Command execution failed", zap.Error(err))
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return err
	}
	return nil
}

// initializeConfig reads the config file and environment into v, then binds
// the flags cmd defines.
func initializeConfig(cmd *cobra.Command, v *viper.Viper) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// configFrom returns the config stored by PersistentPreRunE.
func configFrom(cmd *cobra.Command) (*config.Config, error) {
	cfg, ok := cmd.Context().Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// addSessionFlags registers the flags shared by run and validate.
func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().String("url", "", "Entry URL of the target application (overrides target.url)")
	cmd.Flags().String("email", "", "Login email or username (overrides target.username, APP_EMAIL)")
	cmd.Flags().String("password", "", "Login password (overrides target.password, APP_PASSWORD)")
	cmd.Flags().Bool("keyring", false, "Look the password up in the OS keyring when none is given")
	cmd.Flags().String("session-file", "", "Path of the session file (overrides session.file)")
	cmd.Flags().Bool("headless", true, "Run the browser without a window")
	cmd.Flags().Bool("force-login", false, "Ignore the stored session and log in through the form")
	cmd.Flags().Int("max-age", config.DefaultMaxAgeMinutes, "Minutes a stored session stays reusable")
}
