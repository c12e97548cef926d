package assistant

import (
	"fmt"
	"strings"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
)

// Reply texts shared by the handler and its tests.
const (
	msgGreeting     = "👋 Hi! Tell me about a transaction, like 'Pay 768 yen at Sukiya'."
	msgNoProposal   = "⚠️ No proposal in progress."
	msgCancelled    = "Operation cancelled."
	msgTryAgain     = "⚠️ Something went wrong while looking up your history. Please try again."
	msgAskContext   = "Please provide additional context (e.g. 'for dinner' or 'for electricity bill')."
	msgPendingFirst = "You already have a pending expense. Reply ok, edit or cancel first."
	msgManualEntry  = "🤔 I couldn't find a similar past transaction. Please set the category and payee, e.g. 'edit category Groceries' and 'edit payee Market'."
)

const helpText = `Send an expense in plain text, for example "Pay 768 yen at Sukiya tags: food".

While a suggestion is pending:
  ok            save it
  cancel        discard it
  edit          change a field (category, payee, amount, description, currency, tags, account, date)
  edit <field> <value>
  regenerate    ask again
  context <text> add context and ask again
  1, 2, 3       pick an alternative`

func reply(s string) api.OutboundMessage {
	return api.OutboundMessage{Text: s}
}

func formatAmount(s *api.ExpenseSuggestion) string {
	if !s.Amount.Valid {
		return "(missing)"
	}
	return strings.TrimSpace(s.Amount.Decimal.String() + " " + s.Currency)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// renderSuggestion renders a pending suggestion with its reply buttons.
func renderSuggestion(s *api.ExpenseSuggestion) api.OutboundMessage {
	var b strings.Builder
	if s.NeedsManualEntry() {
		b.WriteString("📝 New expense (manual entry)\n")
	} else {
		fmt.Fprintf(&b, "💡 Suggested expense (confidence %.0f%%)\n", s.Confidence*100)
	}
	fmt.Fprintf(&b, "• Amount: %s\n", formatAmount(s))
	fmt.Fprintf(&b, "• Category: %s\n", orDash(s.Category))
	fmt.Fprintf(&b, "• Payee: %s\n", orDash(s.Payee))
	fmt.Fprintf(&b, "• Description: %s\n", orDash(s.Description))
	if s.Account != "" {
		fmt.Fprintf(&b, "• Account: %s\n", s.Account)
	}
	if len(s.Tags) > 0 {
		fmt.Fprintf(&b, "• Tags: %s\n", strings.Join(s.Tags, ", "))
	}
	if s.BillID != "" {
		fmt.Fprintf(&b, "• Bill: %s (ID: %s)\n", orDash(s.BillName), s.BillID)
	}
	if !s.Date.IsZero() {
		fmt.Fprintf(&b, "• Date: %s\n", s.Date.Format("2006-01-02"))
	}

	if len(s.Alternatives) > 0 {
		b.WriteString("\nAlternatives:\n")
		for i, alt := range s.Alternatives {
			fmt.Fprintf(&b, "%d. %s / %s (%.0f%%)\n", i+1, alt.Category, alt.Payee, alt.Score*100)
		}
	}

	if s.NeedsManualEntry() {
		b.WriteString("\n" + msgManualEntry)
	} else {
		b.WriteString("\nReply ok to save, edit to change, or cancel.")
	}

	buttons := [][]api.Button{
		{{Label: "✅ OK", Data: "ok"}, {Label: "✏️ Edit", Data: "edit"}, {Label: "❌ Cancel", Data: "cancel"}},
		{{Label: "🔄 Regenerate", Data: "regenerate"}, {Label: "➕ Add context", Data: "context"}},
	}
	if len(s.Alternatives) > 0 {
		row := make([]api.Button, 0, len(s.Alternatives))
		for i, alt := range s.Alternatives {
			row = append(row, api.Button{Label: fmt.Sprintf("%d. %s", i+1, alt.Payee), Data: fmt.Sprint(i + 1)})
		}
		buttons = append(buttons, row)
	}
	return api.OutboundMessage{Text: strings.TrimRight(b.String(), "\n"), Buttons: buttons}
}

// renderEditMenu asks which field to change.
func renderEditMenu() api.OutboundMessage {
	return api.OutboundMessage{
		Text: "Which field do you want to change? Send '<field> <value>', e.g. 'payee Sukiya', or 'back'.",
		Buttons: [][]api.Button{
			{{Label: "Category", Data: "category"}, {Label: "Payee", Data: "payee"}, {Label: "Amount", Data: "amount"}},
			{{Label: "Description", Data: "description"}, {Label: "Context", Data: "context"}, {Label: "⬅️ Back", Data: "back"}},
		},
	}
}

// renderFieldPrompt asks for a value for field. Category prompts offer
// up to eight known categories as buttons.
func renderFieldPrompt(field string, categories []string) api.OutboundMessage {
	if field == fieldContext {
		return reply(msgAskContext)
	}
	msg := api.OutboundMessage{Text: fmt.Sprintf("Send the new %s, or 'back'.", field)}
	if field == fieldCategory && len(categories) > 0 {
		if len(categories) > 8 {
			categories = categories[:8]
		}
		var row []api.Button
		for _, c := range categories {
			row = append(row, api.Button{Label: c, Data: c})
			if len(row) == 2 {
				msg.Buttons = append(msg.Buttons, row)
				row = nil
			}
		}
		if len(row) > 0 {
			msg.Buttons = append(msg.Buttons, row)
		}
	}
	return msg
}

func renderFinalized(e *api.FinalizedExpense) api.OutboundMessage {
	return reply(fmt.Sprintf("✅ Accepted: %s %s at %s (%s). Saving...",
		e.Amount.String(), e.Currency, e.Payee, e.Category))
}

func renderTimeout(s *api.ExpenseSuggestion) api.OutboundMessage {
	what := "Your pending expense"
	if s != nil && s.Description != "" {
		what = fmt.Sprintf("Your pending expense %q", s.Description)
	}
	return reply("⌛ " + what + " timed out and was discarded.")
}
