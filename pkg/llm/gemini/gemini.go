// Package gemini implements the refinement step with Gemini structured output.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/llm"
)

const providerName = "gemini"

// DefaultModelName is used when no model is configured.
const DefaultModelName = "gemini-2.0-flash"

// Config holds the Gemini refiner configuration.
type Config struct {
	APIKey      string
	Model       string
	Temperature float32
}

// Refiner calls GenerateContent with a JSON response schema.
type Refiner struct {
	client      *genai.Client
	model       string
	temperature float32
}

// New creates a Gemini client and refiner.
func New(ctx context.Context, cfg Config) (*Refiner, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("GEMINI_API_KEY is required for the gemini refiner")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient creates a refiner using an existing client.
func NewWithClient(client *genai.Client, cfg Config) *Refiner {
	if cfg.Model == "" {
		cfg.Model = DefaultModelName
	}
	return &Refiner{client: client, model: cfg.Model, temperature: cfg.Temperature}
}

// Schema returns the response schema, with enums for non-empty vocabularies.
func Schema(categories, payees []string) *genai.Schema {
	category := &genai.Schema{Type: genai.TypeString}
	if len(categories) > 0 {
		category.Enum = categories
	}
	payee := &genai.Schema{Type: genai.TypeString}
	if len(payees) > 0 {
		payee.Enum = payees
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"category":    category,
			"payee":       payee,
			"description": {Type: genai.TypeString},
			"bill_id":     {Type: genai.TypeString},
		},
		Required: []string{"category", "payee", "description"},
	}
}

// Refine asks the model to pick category and payee. The caller bounds ctx.
func (r *Refiner) Refine(ctx context.Context, req llm.Request) (*llm.Refinement, error) {
	if req.Today.IsZero() {
		req.Today = time.Now()
	}

	temp := r.temperature
	resp, err := r.client.Models.GenerateContent(ctx, r.model, genai.Text(llm.UserPrompt(req)), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(llm.SystemPrompt, genai.RoleUser),
		Temperature:       &temp,
		ResponseMIMEType:  "application/json",
		ResponseSchema:    Schema(req.Categories, req.Payees),
	})
	if err != nil {
		return nil, api.NewProviderError(providerName, "refine", err)
	}

	raw := resp.Text()
	if raw == "" {
		return nil, nil
	}
	ref, err := llm.ParseRefinement(raw)
	if err != nil {
		return nil, api.NewProviderError(providerName, "refine", err)
	}
	return ref, nil
}
