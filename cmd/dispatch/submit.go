package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var submitAllowOverride bool

var submitCmd = &cobra.Command{
	Use:   "submit <request...>",
	Short: "Submit a request for decomposition and execution",
	Long: `Submit a free-form request to the dispatch server.

The server plans the request into a subtask graph, validates it, and
starts execution. Prints the workflow ID for use with 'dispatch status'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().BoolVar(&submitAllowOverride, "allow-override", false, "Permit soft-veto overrides for this workflow")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	request := strings.Join(args, " ")

	var resp struct {
		WorkflowID string `json:"workflow_id"`
	}
	if err := newAPIClient().post("/workflows", map[string]any{
		"request":        request,
		"allow_override": submitAllowOverride,
	}, &resp); err != nil {
		return err
	}

	fmt.Printf("%s workflow %s accepted\n", color.GreenString("✓"), resp.WorkflowID)
	fmt.Printf("  track it with: dispatch status %s\n", resp.WorkflowID)
	return nil
}
