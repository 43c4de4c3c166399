package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvest-cli/internal/auth"
	"github.com/xkilldash9x/harvest-cli/internal/observability"
)

// newValidateCmd creates the `validate` command. It exits non-zero when no
// authenticated session could be established.
func newValidateCmd() *cobra.Command {
	var remember bool

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Checks the stored session and logs in again when it was rejected",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			creds, err := resolveCredentials(ctx, cfg, logger)
			if err != nil {
				return err
			}

			components, err := initializeRunComponents(ctx, cfg, logger, false)
			if err != nil {
				return fmt.Errorf("failed to initialize run components: %w", err)
			}
			defer components.Shutdown()

			summary, err := components.Orchestrator.Validate(ctx, creds)
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Session invalid:", err)
				return err
			}
			printRunSummary(cmd.OutOrStdout(), summary, components.Sessions.Path(), "")

			if remember && creds.Complete() {
				if err := auth.StorePassword(cfg.Target.KeyringService, creds.Username, creds.Password); err != nil {
					logger.Warn("Could not save the password in the keyring.", zap.Error(err))
				} else {
					logger.Info("Password saved in the keyring.", zap.String("service", cfg.Target.KeyringService), zap.String("username", creds.Username))
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Session valid.")
			return nil
		},
	}

	addSessionFlags(validateCmd)
	validateCmd.Flags().BoolVar(&remember, "remember", false, "Save the password in the OS keyring after a successful login")
	return validateCmd
}
