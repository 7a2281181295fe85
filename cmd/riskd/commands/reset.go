package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pagelock/riskd/sdk"
)

func newResetCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "reset <session-id>",
		Short: "Clear a blocked session after review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := sdk.NewClient(serverURL)

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			res, err := client.ResetBlock(ctx, args[0])
			if err != nil {
				return fmt.Errorf("resetting session: %w", err)
			}
			color.Green("✓ %s reset to %s (score %d)", res.SessionID, res.Level, res.Score)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8660", "riskd server URL")
	return cmd
}
