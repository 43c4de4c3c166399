package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/harvest-cli/internal/auth"
	"github.com/xkilldash9x/harvest-cli/internal/observability"
	"github.com/xkilldash9x/harvest-cli/internal/session"
)

// newInspectCmd creates the `inspect` command. It reads the session file
// only; no browser is started.
func newInspectCmd() *cobra.Command {
	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Shows the stored session metadata and its tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			sessions, err := session.NewStore(afero.NewOsFs(), cfg.Session.File, cfg.Session.MaxAgeMinutes, observability.GetLogger())
			if err != nil {
				return err
			}
			return inspectSession(cmd, sessions, time.Now())
		},
	}
	inspectCmd.Flags().String("session-file", "", "Path of the session file (overrides session.file)")
	inspectCmd.Flags().Int("max-age", 0, "Minutes a stored session stays reusable")
	return inspectCmd
}

func inspectSession(cmd *cobra.Command, sessions *session.Store, now time.Time) error {
	b, err := sessions.Load(cmd.Context())
	if err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("no readable session at %s", sessions.Path())
	}

	w := cmd.OutOrStdout()
	printBundle(w, sessions, b)
	printTokens(w, auth.InspectTokens(b.Tokens), now)
	return nil
}

func printBundle(w io.Writer, sessions *session.Store, b *session.Bundle) {
	t := newTable(w)
	t.SetTitle("Session " + sessions.Path())
	t.AppendRow(table.Row{"Version", b.Version})
	t.AppendRow(table.Row{"Username", b.Username})
	t.AppendRow(table.Row{"Created", b.CreatedAt})
	t.AppendRow(table.Row{"Last verified", b.LastVerified})
	age := "unknown"
	if d, ok := sessions.Age(b); ok {
		age = d.Round(time.Second).String()
	}
	t.AppendRow(table.Row{"Age", age})
	t.AppendRow(table.Row{"Max age", fmt.Sprintf("%dm", b.MaxAgeMinutes)})
	t.AppendRow(table.Row{"Usable", yesNo(sessions.IsUsable(b, false))})
	t.AppendRow(table.Row{"Cookies", len(b.StorageState.Cookies)})
	t.AppendRow(table.Row{"Origins", len(b.StorageState.Origins)})
	t.Render()
}

func printTokens(w io.Writer, infos []auth.TokenInfo, now time.Time) {
	if len(infos) == 0 {
		fmt.Fprintln(w, "No tokens stored.")
		return
	}
	t := newTable(w)
	t.SetTitle("Tokens")
	t.AppendHeader(table.Row{"Name", "JWT", "Expires", "Value"})
	for _, info := range infos {
		expires := "-"
		if info.ExpiresAt != nil {
			expires = info.ExpiresAt.Format(time.RFC3339)
			if info.Expired(now) {
				expires += " (expired)"
			}
		}
		t.AppendRow(table.Row{info.Name, yesNo(info.JWT), expires, info.Preview})
	}
	t.Render()
}
