package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvest-cli/internal/auth"
	"github.com/xkilldash9x/harvest-cli/internal/browser"
	"github.com/xkilldash9x/harvest-cli/internal/config"
	"github.com/xkilldash9x/harvest-cli/internal/extract"
	"github.com/xkilldash9x/harvest-cli/internal/observability"
	"github.com/xkilldash9x/harvest-cli/internal/orchestrator"
	"github.com/xkilldash9x/harvest-cli/internal/output"
	"github.com/xkilldash9x/harvest-cli/internal/session"
	"github.com/xkilldash9x/harvest-cli/internal/store"
	"github.com/xkilldash9x/harvest-cli/internal/wizard"
)

// newRunCmd creates the `run` command.
func newRunCmd() *cobra.Command {
	var skipWizard bool

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Authenticates, walks the wizard and extracts every product row",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if skipWizard {
				cfg.Wizard.Enabled = false
			}

			creds, err := resolveCredentials(ctx, cfg, logger)
			if err != nil {
				return err
			}

			components, err := initializeRunComponents(ctx, cfg, logger, true)
			if err != nil {
				return fmt.Errorf("failed to initialize run components: %w", err)
			}
			defer components.Shutdown()

			summary, err := components.Orchestrator.Run(ctx, creds)
			if summary != nil && summary.Session != nil {
				// Keep stdout clean when the rows themselves go there.
				w := cmd.OutOrStdout()
				if components.Output.Path() == "" {
					w = cmd.ErrOrStderr()
				}
				printRunSummary(w, summary, components.Sessions.Path(), components.Output.Path())
			}
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Run aborted by signal.")
				}
				return err
			}
			return nil
		},
	}

	addSessionFlags(runCmd)
	runCmd.Flags().StringP("output", "o", "products.json", "Output file for the extracted rows ('-' for stdout)")
	runCmd.Flags().BoolVar(&skipWizard, "skip-wizard", false, "Do not click through the wizard before extracting")
	return runCmd
}

// resolveCredentials fails only when the keyring itself is broken. Missing
// credentials are fine as long as the stored session is still accepted.
func resolveCredentials(ctx context.Context, cfg *config.Config, logger *zap.Logger) (auth.Credentials, error) {
	if cfg.Target.URL == "" {
		return auth.Credentials{}, errors.New("target URL is required (--url or HARVEST_TARGET_URL)")
	}
	creds, err := auth.Resolve(ctx, cfg.Target)
	if errors.Is(err, auth.ErrNoCredentials) {
		logger.Warn("No complete credentials configured; relying on the stored session.", zap.String("username", creds.Username))
		return creds, nil
	}
	return creds, err
}

// runComponents holds the initialized services of one invocation.
type runComponents struct {
	Orchestrator *orchestrator.Orchestrator
	Sessions     *session.Store
	Output       *output.Writer
	DBPool       *pgxpool.Pool
}

// Shutdown closes what the orchestrator does not own.
func (rc *runComponents) Shutdown() {
	if rc.DBPool != nil {
		rc.DBPool.Close()
	}
}

// initializeRunComponents handles dependency injection. The browser is
// launched last so that an earlier failure leaves nothing running.
func initializeRunComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, withSinks bool) (*runComponents, error) {
	components := &runComponents{}
	fs := afero.NewOsFs()

	// 1. Session store
	sessions, err := session.NewStore(fs, cfg.Session.File, cfg.Session.MaxAgeMinutes, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}
	components.Sessions = sessions

	// 2. Sinks
	var sinks []orchestrator.Sink
	if withSinks {
		writer, err := output.New(fs, cfg.Extract.Output, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize output writer: %w", err)
		}
		components.Output = writer
		sinks = append(sinks, writer)

		if cfg.Database.URL != "" {
			rowStore, err := connectStore(ctx, cfg.Database, logger, components)
			if err != nil {
				components.Shutdown()
				return nil, err
			}
			sinks = append(sinks, rowStore)
		}
	}

	// 3. Auth, wizard and extraction
	harvester := auth.NewTokenHarvester(logger)
	validator := auth.NewValidator(logger, cfg.Login.IndicatorTimeout, auth.DefaultIndicators(cfg.Target.Username))
	sequencer := auth.NewSequencer(logger, cfg.Login, cfg.Network.QuiescenceTimeout, validator, harvester, sessions, auth.DefaultSelectors())
	navigator := wizard.NewNavigator(logger, cfg.Wizard, cfg.Network.QuiescenceTimeout)
	engine := extract.NewEngine(logger, cfg.Extract, extract.DefaultControls())

	// 4. Browser
	launcher, err := browser.NewManager(ctx, logger, cfg)
	if err != nil {
		components.Shutdown()
		return nil, fmt.Errorf("failed to initialize browser manager: %w", err)
	}

	// 5. Orchestrator
	orch, err := orchestrator.New(cfg, logger, launcher, sessions, sequencer, harvester, navigator, engine, sinks...)
	if err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = launcher.Shutdown(shutdownCtx)
		components.Shutdown()
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	components.Orchestrator = orch
	return components, nil
}

func connectStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger, components *runComponents) (*store.Store, error) {
	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	components.DBPool = pool

	rowStore, err := store.New(ctx, pool, cfg.Table, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database store: %w", err)
	}
	if err := rowStore.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return rowStore, nil
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// printRunSummary renders the outcome of a run or a validation.
func printRunSummary(w io.Writer, s *orchestrator.Summary, sessionPath, outputPath string) {
	t := newTable(w)
	t.SetTitle("Run " + s.RunID)
	t.AppendRow(table.Row{"Session file", sessionPath})
	t.AppendRow(table.Row{"Session reused", yesNo(s.Reused)})
	if s.Session != nil {
		t.AppendRow(table.Row{"Last verified", s.Session.LastVerified})
		t.AppendRow(table.Row{"Tokens", len(s.Session.Tokens)})
	}

	if s.Extraction.Stop != "" {
		t.AppendSeparator()
		t.AppendRow(table.Row{"Rows", len(s.Extraction.Rows)})
		expected := "unknown"
		if s.Extraction.TotalKnown {
			expected = fmt.Sprint(s.Extraction.TotalExpected)
		}
		t.AppendRow(table.Row{"Expected total", expected})
		t.AppendRow(table.Row{"Attempts", s.Extraction.Attempts})
		t.AppendRow(table.Row{"Stop reason", string(s.Extraction.Stop)})
		t.AppendRow(table.Row{"Synthetic", yesNo(s.Extraction.Synthetic)})
		if outputPath == "" {
			outputPath = "stdout"
		}
		t.AppendRow(table.Row{"Output", outputPath})
	}
	if len(s.Wizard.Clicked)+len(s.Wizard.Skipped) > 0 {
		t.AppendSeparator()
		t.AppendRow(table.Row{"Wizard clicked", fmt.Sprint(s.Wizard.Clicked)})
		t.AppendRow(table.Row{"Wizard skipped", fmt.Sprint(s.Wizard.Skipped)})
	}
	t.Render()
}
