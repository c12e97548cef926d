// Package openai provides an embedding provider backed by the OpenAI embeddings API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/vector"
)

const providerName = "openai"

// maxBatch bounds the number of inputs sent in one request.
const maxBatch = 256

// Config holds the OpenAI embedding configuration.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Dimensions asks the model to shorten its vectors. text-embedding-3 models support it.
	Dimensions int
	Timeout    time.Duration
}

// Provider calls the OpenAI embeddings endpoint.
type Provider struct {
	client  *openai.Client
	model   openai.EmbeddingModel
	dim     int
	timeout time.Duration
}

// New creates a provider from cfg.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPEN_AI_API_KEY is required for openai embeddings")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return NewWithClient(openai.NewClientWithConfig(clientCfg), cfg), nil
}

// NewWithClient creates a provider using an existing client.
func NewWithClient(client *openai.Client, cfg Config) *Provider {
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Provider{
		client:  client,
		model:   openai.EmbeddingModel(cfg.Model),
		dim:     cfg.Dimensions,
		timeout: cfg.Timeout,
	}
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

// EmbedBatch embeds texts in chunks, preserving input order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([]vector.Vector, error) {
	out := make([]vector.Vector, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))
		vs, err := p.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vs...)
	}
	return out, nil
}

func (p *Provider) embedChunk(ctx context.Context, texts []string) ([]vector.Vector, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      p.model,
		Dimensions: p.dim,
	})
	if err != nil {
		return nil, api.NewProviderError(providerName, "embed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, api.NewProviderError(providerName, "embed",
			fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts)))
	}

	out := make([]vector.Vector, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, api.NewProviderError(providerName, "embed", fmt.Errorf("embedding index %d out of range", d.Index))
		}
		if len(d.Embedding) != p.dim {
			return nil, api.NewProviderError(providerName, "embed",
				fmt.Errorf("%w: want %d, got %d", vector.ErrDimensionMismatch, p.dim, len(d.Embedding)))
		}
		out[d.Index] = vector.Vector(d.Embedding)
	}
	return out, nil
}
