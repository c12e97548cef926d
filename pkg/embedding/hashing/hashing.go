// Package hashing provides an offline embedding provider based on feature
// hashing of words and character trigrams. It needs no network access and is
// deterministic, which makes it the fallback when no model API key is configured.
package hashing

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/dkotama/firefly-telegram-assistant/pkg/vector"
)

// DefaultDimension matches the default dimension of the model-backed providers.
const DefaultDimension = 384

// Provider hashes tokens into a fixed number of buckets.
type Provider struct {
	dim int
}

// New returns a provider producing vectors of length dim.
func New(dim int) *Provider {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Provider{dim: dim}
}

// Dimension returns the vector length.
func (p *Provider) Dimension() int { return p.dim }

// Embed returns the unit-length feature vector of text.
func (p *Provider) Embed(_ context.Context, text string) (vector.Vector, error) {
	v := make(vector.Vector, p.dim)
	for _, word := range tokenize(cases.Fold().String(text)) {
		p.add(v, "w:"+word, 1)
		padded := []rune("^" + word + "$")
		for i := 0; i+3 <= len(padded); i++ {
			p.add(v, "t:"+string(padded[i:i+3]), 0.5)
		}
	}
	return v.Normalize(), nil
}

// EmbedBatch embeds each text in turn.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([]vector.Vector, error) {
	out := make([]vector.Vector, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// add hashes feature into a bucket; a second hash bit picks the sign so
// collisions cancel out on average.
func (p *Provider) add(v vector.Vector, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(p.dim))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
