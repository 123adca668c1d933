package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/icdev-ai/dispatch/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status [workflow-id]",
	Short: "Show workflow state",
	Long: `Display workflow state from the dispatch server.

With no argument, lists all workflows. With a workflow ID, shows the
workflow and every subtask with its status, agent, and error if any.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := newAPIClient()

	if len(args) == 0 {
		var workflows []*models.Workflow
		if err := client.get("/workflows", &workflows); err != nil {
			return err
		}
		if len(workflows) == 0 {
			fmt.Println("No workflows. Submit one with 'dispatch submit <request>'.")
			return nil
		}
		for _, wf := range workflows {
			fmt.Printf("%s  %s  %s\n", wf.ID, statusColor(string(wf.Status)), truncate(wf.Request, 60))
		}
		return nil
	}

	id := args[0]
	var wf models.Workflow
	if err := client.get("/workflows/"+id, &wf); err != nil {
		return err
	}
	var subtasks []*models.Subtask
	if err := client.get("/workflows/"+id+"/subtasks", &subtasks); err != nil {
		return err
	}

	fmt.Printf("Workflow %s  %s\n", wf.ID, statusColor(string(wf.Status)))
	fmt.Printf("Request: %s\n\n", wf.Request)

	for _, st := range subtasks {
		line := fmt.Sprintf("  %s  %-10s  %s", st.ID, statusColor(string(st.Status)), st.Capability)
		if st.AssignedAgent != "" {
			line += fmt.Sprintf("  agent=%s", st.AssignedAgent)
		}
		if st.RetryCount > 0 {
			line += fmt.Sprintf("  retries=%d", st.RetryCount)
		}
		fmt.Println(line)
		if st.Error != nil {
			fmt.Printf("      %s %s: %s\n", color.RedString("✗"), st.Error.Kind, st.Error.Message)
		}
	}
	return nil
}

func statusColor(status string) string {
	switch status {
	case "completed", "succeeded":
		return color.GreenString(status)
	case "failed", "vetoed":
		return color.RedString(status)
	case "running", "dispatched":
		return color.CyanString(status)
	default:
		return color.YellowString(status)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
