// Package llm defines the advisory language-model refinement step used for
// ambiguous suggestions. Model output is untrusted: callers validate every
// structured field against the known vocabulary before using it.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
)

// Request carries everything the model may use to pick a category and payee.
type Request struct {
	// Text is the user's raw expense message.
	Text string
	// UserContext is extra context the user supplied after the first suggestion.
	UserContext string
	Candidates  []api.SuggestionCandidate
	Categories  []string
	Payees      []string
	// Reference is a pre-rendered block of known accounts, tags and bills.
	Reference string
	Today     time.Time
}

// Refinement is the model's advisory answer.
type Refinement struct {
	Category    string `json:"category"`
	Payee       string `json:"payee"`
	Description string `json:"description"`
	// BillID links a bill payment to one of the known bills. Empty when the
	// expense is not a bill payment.
	BillID string `json:"bill_id,omitempty"`
}

// Refiner asks a language model to pick or adjust category and payee.
// A nil Refinement with a nil error means the model declined to answer.
// Failures are reported as *api.ProviderError.
type Refiner interface {
	Refine(ctx context.Context, req Request) (*Refinement, error)
}

// SystemPrompt is the instruction shared by every provider.
const SystemPrompt = `You are a bookkeeping assistant for Firefly III.
Given a new expense message and similar past transactions, choose the category and payee for the new expense.
Prefer the category and payee of the most similar past transaction unless the message clearly says otherwise.
Only use category and payee values from the allowed lists. Use an empty string when nothing fits.
Write a short one-line description of the expense in the same language as the message.
If the expense pays one of the known bills, set bill_id to that bill's ID. Otherwise leave bill_id empty.`

// UserPrompt renders the request as the user turn of the conversation.
func UserPrompt(req Request) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Today: %s\n\n", req.Today.Format(time.DateOnly))
	fmt.Fprintf(&sb, "New expense message:\n%s\n", req.Text)
	if req.UserContext != "" {
		fmt.Fprintf(&sb, "\nAdditional context from the user:\n%s\n", req.UserContext)
	}

	if len(req.Candidates) > 0 {
		sb.WriteString("\nSimilar past transactions (most similar first):\n")
		for i, c := range req.Candidates {
			r := c.Record
			fmt.Fprintf(&sb, "%d. score=%.2f description=%q category=%q payee=%q amount=%s %s\n",
				i+1, c.Score, r.Description, r.Category, r.Payee, r.Amount.String(), r.Currency)
		}
	}

	if len(req.Categories) > 0 {
		fmt.Fprintf(&sb, "\nAllowed categories: %s\n", strings.Join(req.Categories, ", "))
	}
	if len(req.Payees) > 0 {
		fmt.Fprintf(&sb, "Allowed payees: %s\n", strings.Join(req.Payees, ", "))
	}
	if req.Reference != "" {
		sb.WriteString("\n")
		sb.WriteString(req.Reference)
		sb.WriteString("\n")
	}

	sb.WriteString(`
Reply with a JSON object: {"category": "...", "payee": "...", "description": "...", "bill_id": "..."}`)
	return sb.String()
}

// CleanJSON strips Markdown code fences and surrounding prose from a model
// reply, keeping the outermost JSON object.
func CleanJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return strings.TrimSpace(s)
}

// ParseRefinement decodes a model reply. "null" or an empty reply is a decline.
// bill_id may come back as a string or a number.
func ParseRefinement(raw string) (*Refinement, error) {
	s := CleanJSON(raw)
	if s == "" || s == "null" {
		return nil, nil
	}
	var reply struct {
		Category    string          `json:"category"`
		Payee       string          `json:"payee"`
		Description string          `json:"description"`
		BillID      json.RawMessage `json:"bill_id"`
	}
	if err := json.Unmarshal([]byte(s), &reply); err != nil {
		return nil, fmt.Errorf("decoding model reply: %w", err)
	}
	return &Refinement{
		Category:    strings.TrimSpace(reply.Category),
		Payee:       strings.TrimSpace(reply.Payee),
		Description: strings.TrimSpace(reply.Description),
		BillID:      billID(reply.BillID),
	}, nil
}

func billID(raw json.RawMessage) string {
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		var n json.Number
		if json.Unmarshal(raw, &n) != nil {
			return ""
		}
		id = n.String()
	}
	id = strings.TrimSpace(id)
	if strings.EqualFold(id, "unknown") || strings.EqualFold(id, "null") {
		return ""
	}
	return id
}
