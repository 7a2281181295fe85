package commands

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pagelock/riskd/internal/audit"
	"github.com/pagelock/riskd/internal/policy"
)

func newLogsCmd() *cobra.Command {
	var session, kind, level, disposition, since string
	var limit int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query the violation log",
		Example: `  riskd logs
  riskd logs --session sess-42
  riskd logs --kind DEVTOOLS_OPEN
  riskd logs --disposition level_up
  riskd logs --since 1h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

			dbPath := "riskd.db"
			if p, err := policy.Load(cfgFile); err == nil && p.Audit.DBPath != "" {
				dbPath = p.Audit.DBPath
			}

			store, err := audit.NewStore(dbPath, logger, 0)
			if err != nil {
				return fmt.Errorf("opening violation log: %w", err)
			}
			defer store.Close() //nolint:errcheck // best-effort cleanup

			var sinceTime string
			if since != "" {
				dur, err := time.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid duration %q: %w", since, err)
				}
				sinceTime = time.Now().Add(-dur).UTC().Format(time.RFC3339)
			}

			entries, err := store.Query(audit.QueryOpts{
				SessionID:   session,
				Kind:        kind,
				Level:       level,
				Disposition: disposition,
				Since:       sinceTime,
				Limit:       limit,
			})
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				fmt.Println("No violation entries found.")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "TIME\tSESSION\tKIND\tSEV\tSCORE\tLEVEL\tDISPOSITION\n") //nolint:errcheck // CLI output
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n", //nolint:errcheck // CLI output
					e.Timestamp, e.SessionID, e.Kind, e.Severity, e.Score,
					colorLevel(e.Level), e.Disposition)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "filter by session ID")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by event kind")
	cmd.Flags().StringVar(&level, "level", "", "filter by level (NONE, L1_WARN..L4_BLOCK)")
	cmd.Flags().StringVar(&disposition, "disposition", "", "filter by disposition (scored, bypass_discard, level_up, level_down, block_reset)")
	cmd.Flags().StringVar(&since, "since", "", "only entries newer than this duration (e.g. 1h, 30m)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to show")
	return cmd
}

func colorLevel(level string) string {
	switch level {
	case "L4_BLOCK":
		return color.RedString(level)
	case "L3_SUSPEND":
		return color.MagentaString(level)
	case "L2_DEGRADE":
		return color.YellowString(level)
	case "L1_WARN":
		return color.CyanString(level)
	default:
		return level
	}
}
