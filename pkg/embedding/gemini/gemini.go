// Package gemini provides an embedding provider backed by the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/vector"
)

const providerName = "gemini"

// Config holds the Gemini embedding configuration.
type Config struct {
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// Provider calls the Gemini embedContent endpoint.
type Provider struct {
	client  *genai.Client
	model   string
	dim     int
	timeout time.Duration
}

// New creates a Gemini client and provider.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("GEMINI_API_KEY is required for gemini embeddings")
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

// NewWithClient creates a provider using an existing client.
func NewWithClient(client *genai.Client, cfg Config) *Provider {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-004"
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Provider{client: client, model: cfg.Model, dim: cfg.Dimensions, timeout: cfg.Timeout}
}

// Dimension returns the configured vector length.
func (p *Provider) Dimension() int { return p.dim }

// Embed embeds a single text.
func (p *Provider) Embed(ctx context.Context, text string) (vector.Vector, error) {
	vs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

// EmbedBatch embeds all texts in one request.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([]vector.Vector, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	dim := int32(p.dim)
	resp, err := p.client.Models.EmbedContent(ctx, p.model, contents(texts), &genai.EmbedContentConfig{
		TaskType:             "SEMANTIC_SIMILARITY",
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, api.NewProviderError(providerName, "embed", err)
	}
	return p.vectors(resp, len(texts))
}

func contents(texts []string) []*genai.Content {
	out := make([]*genai.Content, len(texts))
	for i, t := range texts {
		out[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	return out
}

func (p *Provider) vectors(resp *genai.EmbedContentResponse, n int) ([]vector.Vector, error) {
	if resp == nil || len(resp.Embeddings) != n {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, api.NewProviderError(providerName, "embed", fmt.Errorf("got %d embeddings for %d inputs", got, n))
	}
	out := make([]vector.Vector, n)
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) != p.dim {
			return nil, api.NewProviderError(providerName, "embed",
				fmt.Errorf("%w: embedding %d does not have %d values", vector.ErrDimensionMismatch, i, p.dim))
		}
		// Shortened Gemini embeddings are not unit length.
		out[i] = vector.Vector(e.Values).Normalize()
	}
	return out, nil
}
