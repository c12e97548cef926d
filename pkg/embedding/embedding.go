// Package embedding defines the text embedding capability and the text a
// transaction record is embedded as.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/vector"
)

// Provider maps text to a fixed-length vector. Identical input yields an
// identical vector. Failures are reported as *api.ProviderError.
type Provider interface {
	Embed(ctx context.Context, text string) (vector.Vector, error)
	// Dimension is the length of every vector the provider returns.
	Dimension() int
}

// BatchProvider embeds many texts in one call.
type BatchProvider interface {
	Provider
	EmbedBatch(ctx context.Context, texts []string) ([]vector.Vector, error)
}

// EmbedAll embeds texts with a single batch call when p supports it.
func EmbedAll(ctx context.Context, p Provider, texts []string) ([]vector.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if bp, ok := p.(BatchProvider); ok {
		vs, err := bp.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vs) != len(texts) {
			return nil, fmt.Errorf("batch embedding returned %d vectors for %d texts", len(vs), len(texts))
		}
		return vs, nil
	}

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

// RecordText is the text a synced record is embedded as. Counterparty names
// are repeated with two prepositions to weigh them over the free description.
func RecordText(rec *api.TransactionRecord) string {
	src, dst := rec.Account, rec.Payee
	if rec.Type == api.TypeDeposit {
		src, dst = rec.Payee, rec.Account
	}

	parts := []string{rec.Description}
	if src != "" {
		parts = append(parts, "source "+src, "from "+src)
	}
	if dst != "" {
		parts = append(parts, "destination "+dst, "to "+dst)
	}
	if rec.Category != "" {
		parts = append(parts, "category "+rec.Category)
	}
	if len(rec.Tags) > 0 {
		parts = append(parts, "tags "+strings.Join(rec.Tags, ", "))
	}
	if !rec.Amount.IsZero() {
		parts = append(parts, "amount "+rec.Amount.String())
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
