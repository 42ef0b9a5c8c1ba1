// Command orchestrator runs the incident response orchestration service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath     string
	configRequired bool
	rootCmd        = &cobra.Command{
		Use:   "orchestrator",
		Short: "Incident response orchestration core",
		Long: `orchestrator tracks operational incidents through their lifecycle,
guides responders through runbooks and keeps a tamper-evident audit trail.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&configRequired, "config-required", false, "fail if the config file does not exist")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
