package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/icdev-ai/dispatch/pkg/models"
)

var (
	registerCapabilities []string
	registerRole         string
	registerLevel        int
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect and manage registered agents",
	RunE:  runListAgents,
}

var agentsRegisterCmd = &cobra.Command{
	Use:   "register <agent-id>",
	Short: "Register an agent with the router",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegisterAgent,
}

var agentsExpireCmd = &cobra.Command{
	Use:   "expire <agent-id>",
	Short: "Force an agent's heartbeat stale",
	Args:  cobra.ExactArgs(1),
	RunE:  runExpireAgent,
}

func init() {
	agentsRegisterCmd.Flags().StringSliceVar(&registerCapabilities, "capabilities", nil, "Capability tags the agent advertises (required)")
	agentsRegisterCmd.Flags().StringVar(&registerRole, "role", "", "Authority role of the agent")
	agentsRegisterCmd.Flags().IntVar(&registerLevel, "level", 0, "Authority level of the agent")
	agentsRegisterCmd.MarkFlagRequired("capabilities")

	agentsCmd.AddCommand(agentsRegisterCmd)
	agentsCmd.AddCommand(agentsExpireCmd)
}

func runListAgents(cmd *cobra.Command, args []string) error {
	var agents []*models.Agent
	if err := newAPIClient().get("/agents", &agents); err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Println("No agents registered.")
		return nil
	}

	for _, a := range agents {
		age := time.Since(a.LastHeartbeat).Round(time.Second)
		fmt.Printf("  %-20s  role=%-16s  level=%d  in-flight=%d  heartbeat=%s ago  %v\n",
			a.ID, a.Role, a.AuthorityLevel, a.InFlight, age, a.Capabilities)
	}
	return nil
}

func runRegisterAgent(cmd *cobra.Command, args []string) error {
	if err := newAPIClient().post("/agents", map[string]any{
		"id":              args[0],
		"capabilities":    registerCapabilities,
		"role":            registerRole,
		"authority_level": registerLevel,
	}, nil); err != nil {
		return err
	}
	fmt.Printf("%s agent %s registered\n", color.GreenString("✓"), args[0])
	return nil
}

func runExpireAgent(cmd *cobra.Command, args []string) error {
	if err := newAPIClient().post("/agents/"+args[0]+"/expire", nil, nil); err != nil {
		return err
	}
	fmt.Printf("%s agent %s expired\n", color.YellowString("⚠"), args[0])
	return nil
}
