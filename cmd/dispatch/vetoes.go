package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/icdev-ai/dispatch/pkg/models"
)

var vetoesSubtaskID string

var vetoesCmd = &cobra.Command{
	Use:   "vetoes",
	Short: "Show the veto audit trail",
	RunE:  runVetoes,
}

func init() {
	vetoesCmd.Flags().StringVar(&vetoesSubtaskID, "subtask", "", "Filter records to one subtask")
}

func runVetoes(cmd *cobra.Command, args []string) error {
	path := "/vetoes"
	if vetoesSubtaskID != "" {
		path += "?subtask_id=" + vetoesSubtaskID
	}

	var records []*models.VetoRecord
	if err := newAPIClient().get(path, &records); err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No veto records.")
		return nil
	}

	for _, rec := range records {
		severity := color.YellowString(string(rec.Severity))
		if rec.Severity == models.VetoSeverityHard {
			severity = color.RedString(string(rec.Severity))
		}
		fmt.Printf("  %s  %-8s  %-17s  domain=%-12s  agent=%s\n",
			rec.CreatedAt.Format("2006-01-02 15:04:05"), severity, rec.Decision, rec.Domain, rec.AgentID)
		fmt.Printf("      subtask=%s  %s\n", rec.SubtaskID, rec.Rationale)
	}
	return nil
}
