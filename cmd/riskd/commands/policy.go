package commands

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pagelock/riskd/internal/policy"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and manage the scoring policy",
	}
	cmd.AddCommand(newPolicyShowCmd(), newPolicyValidateCmd(), newPolicyInitCmd())
	return cmd
}

func newPolicyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := policy.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("loading policy: %w", err)
			}
			out, err := yaml.Marshal(p)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func newPolicyValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the policy file for errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := policy.Load(cfgFile)
			if err != nil {
				color.Red("✗ %v", err)
				return fmt.Errorf("policy invalid")
			}
			if err := p.Validate(); err != nil {
				color.Red("✗ %v", err)
				return fmt.Errorf("policy invalid")
			}
			color.Green("✓ %s is valid", cfgFile)
			fmt.Printf("  thresholds: %d/%d/%d/%d, decay %d pt/s, max %d\n",
				p.Escalation.WarnAt, p.Escalation.DegradeAt, p.Escalation.SuspendAt,
				p.Escalation.BlockAt, p.Scoring.DecayRate, p.Scoring.MaxScore)
			return nil
		},
	}
}

func newPolicyInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default policy file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(cfgFile); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgFile)
			}
			if err := policy.Defaults().Save(cfgFile); err != nil {
				return err
			}
			color.Green("✓ wrote %s", cfgFile)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
