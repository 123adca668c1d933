package main

import (
	"os"

	"github.com/spf13/cobra"
)

var serverAddr string

var rootCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Multi-agent task orchestration core",
	Long: `Dispatch coordinates a team of agents over decomposed workflows.

It plans a request into a dependency graph of subtasks, routes each
subtask to the least-loaded capable agent, arbitrates authority vetoes,
and aggregates partial results into a workflow outcome.

Run 'dispatch serve' to start the orchestrator, then submit work with
'dispatch submit' and inspect it with 'dispatch status'.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://127.0.0.1:8432", "Address of the dispatch server")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(vetoesCmd)
	rootCmd.AddCommand(versionCmd)
}
