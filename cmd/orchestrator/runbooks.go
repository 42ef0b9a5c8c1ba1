package main

import (
	"fmt"

	"github.com/bissquit/incident-orchestrator/internal/runbooks"
	"github.com/spf13/cobra"
)

var runbooksCmd = &cobra.Command{
	Use:   "runbooks",
	Short: "Runbook template tools",
}

var runbooksValidateCmd = &cobra.Command{
	Use:   "validate <dir>",
	Short: "Validate runbook YAML templates without loading them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := runbooks.LoadDir(args[0])
		if err != nil {
			return err
		}
		for _, rb := range list {
			fmt.Fprintf(cmd.OutOrStdout(), "ok  %s  %s (%d steps)\n", rb.ID, rb.Name, len(rb.Steps))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d runbooks valid\n", len(list))
		return nil
	},
}

func init() {
	runbooksCmd.AddCommand(runbooksValidateCmd)
	rootCmd.AddCommand(runbooksCmd)
}
