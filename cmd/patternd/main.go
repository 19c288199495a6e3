// Package main implements the patternd CLI: rank patterns for a task,
// inspect and update trust, and run the long-lived service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath overrides ~/.config/patternd/config.yaml.
	configPath string

	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "patternd",
		Short: "Rank coding patterns and assemble context packs",
		Long: `patternd ranks a snapshot of coding patterns against the signals of a task,
tracks per-pattern trust from reported outcomes, and assembles size-bounded
pattern packs for downstream agents.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/patternd/config.yaml)")

	root.AddCommand(newRankCmd())
	root.AddCommand(newTrustCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "patternd %s (%s)\n", version, commit)
		},
	})
	return root
}
