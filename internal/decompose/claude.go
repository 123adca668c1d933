package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

const planningSystemPrompt = `You are a task planner for a multi-agent execution system.
Break the user's request into the smallest set of independent tasks that
can run in parallel where possible.

Respond with ONLY a JSON array. Each element:
{
  "id": "short-unique-id",
  "capability": "single-capability-tag",
  "depends_on": ["ids", "of", "prerequisite", "tasks"],
  "input": "complete instructions for the agent executing this task"
}

Rules:
- Each task requires exactly ONE capability tag (e.g. "codegen", "review", "deploy").
- depends_on may only reference ids in this plan. No cycles.
- Prefer wide graphs over deep chains.`

// ClaudeConfig configures the Claude-backed planner.
type ClaudeConfig struct {
	// Model is the Claude model to use. Empty selects a default.
	Model string
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey string
	// UseAWSBedrock routes calls through AWS Bedrock instead of the
	// direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock.
	AWSRegion string
	// AWSProfile is the optional AWS profile name.
	AWSProfile string
}

// ClaudePlanner asks Claude to break a request into tasks.
type ClaudePlanner struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudePlanner creates a planner backed by the Anthropic API or
// AWS Bedrock.
func NewClaudePlanner(cfg ClaudeConfig) (*ClaudePlanner, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}

	return &ClaudePlanner{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

// Client returns the underlying Anthropic client, for components that
// share the planner's transport configuration.
func (p *ClaudePlanner) Client() anthropic.Client {
	return p.client
}

// Model returns the configured model.
func (p *ClaudePlanner) Model() anthropic.Model {
	return p.model
}

// Plan sends the request to Claude and parses the returned task array.
func (p *ClaudePlanner) Plan(ctx context.Context, request string) ([]PlannedTask, error) {
	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: planningSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(request)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("planning call failed: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += variant.Text
		}
	}

	return parsePlanResponse(text)
}

// parsePlanResponse extracts the JSON task array from model output that
// may carry prose around it.
func parsePlanResponse(response string) ([]PlannedTask, error) {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start == -1 || end == -1 || end <= start {
		preview := response
		if len(preview) > 500 {
			preview = preview[:500] + "... (truncated)"
		}
		return nil, fmt.Errorf("no JSON array found in planner response: %q", preview)
	}

	var plan []PlannedTask
	if err := json.Unmarshal([]byte(response[start:end+1]), &plan); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	return plan, nil
}
