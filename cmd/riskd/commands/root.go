package commands

import (
	"github.com/spf13/cobra"
)

var cfgFile string

func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "riskd",
		Short: "Real-time content protection risk scoring",
		Long:  "riskd scores violation signals per session, escalates through warn/degrade/suspend/block, and keeps a forensic violation log. Single binary.",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "riskd.yaml", "policy file path")

	root.AddCommand(
		newServeCmd(),
		newPolicyCmd(),
		newLogsCmd(),
		newSessionsCmd(),
		newResetCmd(),
		newVersionCmd(),
	)

	return root
}
