package orchestrator

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/icdev-ai/dispatch/pkg/models"
)

// Invoker executes a subtask on a specific agent. It is the only
// boundary between the scheduler and worker execution; implementations
// must honor ctx cancellation.
type Invoker interface {
	Invoke(ctx context.Context, agent *models.Agent, req *models.InvocationRequest) (*models.InvocationResult, error)
}

// ClaudeInvoker executes subtasks by prompting Claude with the subtask
// input. Each registered agent maps onto the same backing model; the
// agent's capability tag shapes the system prompt.
type ClaudeInvoker struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudeInvoker creates an invoker over an existing Anthropic client.
func NewClaudeInvoker(client anthropic.Client, model anthropic.Model) *ClaudeInvoker {
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	return &ClaudeInvoker{client: client, model: model}
}

// Invoke runs the subtask input as a single completion call.
func (c *ClaudeInvoker) Invoke(ctx context.Context, agent *models.Agent, req *models.InvocationRequest) (*models.InvocationResult, error) {
	system := fmt.Sprintf(
		"You are agent %s acting in the %q capability. Complete the task and reply with the result only.",
		agent.ID, req.Capability)

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Input)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("invoke agent %s: %w", agent.ID, err)
	}

	var text string
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += variant.Text
		}
	}

	return &models.InvocationResult{Status: "ok", Result: text}, nil
}
