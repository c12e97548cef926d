// Package openai implements the refinement step with OpenAI function calling.
// The tool schema constrains category and payee to the known vocabulary.
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/llm"
)

const (
	providerName = "openai"
	toolName     = "suggest_expense"
)

// Config holds the OpenAI refiner configuration.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
}

// Refiner calls the chat completions API with a forced tool call.
type Refiner struct {
	client      *openai.Client
	model       string
	temperature float32
}

// New creates a refiner from cfg.
func New(cfg Config) (*Refiner, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPEN_AI_API_KEY is required for the openai refiner")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return NewWithClient(openai.NewClientWithConfig(clientCfg), cfg), nil
}

// NewWithClient creates a refiner using an existing client.
func NewWithClient(client *openai.Client, cfg Config) *Refiner {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	return &Refiner{client: client, model: cfg.Model, temperature: cfg.Temperature}
}

// Tool builds the function definition. Enums are set only for non-empty vocabularies.
func Tool(categories, payees []string) openai.Tool {
	category := jsonschema.Definition{
		Type:        jsonschema.String,
		Description: "Expense category. Must be one of the allowed categories.",
	}
	if len(categories) > 0 {
		category.Enum = categories
	}
	payee := jsonschema.Definition{
		Type:        jsonschema.String,
		Description: "Payee (expense account) the money goes to.",
	}
	if len(payees) > 0 {
		payee.Enum = payees
	}

	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        toolName,
			Description: "Record the category, payee and a short description for the new expense.",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"category": category,
					"payee":    payee,
					"description": {
						Type:        jsonschema.String,
						Description: "Short one-line description of the expense.",
					},
					"bill_id": {
						Type:        jsonschema.String,
						Description: "ID of the known bill this expense pays, or empty.",
					},
				},
				Required: []string{"category", "payee", "description"},
			},
		},
	}
}

// Refine asks the model to pick category and payee. The caller bounds ctx.
func (r *Refiner) Refine(ctx context.Context, req llm.Request) (*llm.Refinement, error) {
	if req.Today.IsZero() {
		req.Today = time.Now()
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: llm.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: llm.UserPrompt(req)},
		},
		Tools: []openai.Tool{Tool(req.Categories, req.Payees)},
		ToolChoice: openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: toolName},
		},
		Temperature: r.temperature,
	})
	if err != nil {
		return nil, api.NewProviderError(providerName, "refine", err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}

	msg := resp.Choices[0].Message
	raw := msg.Content
	if len(msg.ToolCalls) > 0 {
		raw = msg.ToolCalls[0].Function.Arguments
	}

	ref, err := llm.ParseRefinement(raw)
	if err != nil {
		return nil, api.NewProviderError(providerName, "refine", fmt.Errorf("parsing tool arguments: %w", err))
	}
	return ref, nil
}
