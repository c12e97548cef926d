package assistant

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
)

// Editable fields of a pending suggestion.
const (
	fieldCategory    = "category"
	fieldPayee       = "payee"
	fieldAmount      = "amount"
	fieldDescription = "description"
	fieldCurrency    = "currency"
	fieldTags        = "tags"
	fieldAccount     = "account"
	fieldDate        = "date"
	// fieldContext is not stored on the suggestion; it regenerates it.
	fieldContext = "context"

	maxTextLen = 255
)

var fieldAliases = map[string]string{
	"category":    fieldCategory,
	"cat":         fieldCategory,
	"payee":       fieldPayee,
	"merchant":    fieldPayee,
	"shop":        fieldPayee,
	"amount":      fieldAmount,
	"price":       fieldAmount,
	"description": fieldDescription,
	"desc":        fieldDescription,
	"note":        fieldDescription,
	"currency":    fieldCurrency,
	"tags":        fieldTags,
	"tag":         fieldTags,
	"account":     fieldAccount,
	"source":      fieldAccount,
	"date":        fieldDate,
	"context":     fieldContext,
}

// splitField splits "payee Sukiya" into its canonical field and value.
// field is empty when the first word names no field.
func splitField(s string) (field, value string) {
	s = strings.TrimSpace(s)
	name, rest, _ := strings.Cut(s, " ")
	field = fieldAliases[strings.ToLower(strings.TrimSuffix(name, ":"))]
	if field == "" {
		return "", s
	}
	return field, strings.TrimSpace(rest)
}

func invalid(field, value, reason string) error {
	return &api.ValidationError{Field: field, Value: value, Reason: reason}
}

func singleLine(s string) bool {
	return s != "" && !strings.ContainsAny(s, "\r\n") && utf8.RuneCountInString(s) <= maxTextLen
}

// setField validates value and, only if it is acceptable, stores it on p.
func (h *Handler) setField(p *api.ExpenseSuggestion, field, value string) error {
	value = strings.TrimSpace(value)

	switch field {
	case fieldCategory:
		if value == "" {
			return invalid(field, value, "must not be empty")
		}
		if c, ok := h.vocab.Category(value); ok {
			p.Category = c
			return nil
		}
		if len(h.vocab.Categories()) > 0 {
			return invalid(field, value, "not a known category")
		}
		if !singleLine(value) {
			return invalid(field, value, "must be a single line of at most 255 characters")
		}
		p.Category = value

	case fieldPayee:
		if c, ok := h.vocab.Payee(value); ok {
			p.Payee = c
			return nil
		}
		if !singleLine(value) {
			return invalid(field, value, "must be a single non-empty line of at most 255 characters")
		}
		p.Payee = value

	case fieldAmount:
		parsed := ParseExpense(value)
		if strings.HasPrefix(value, "-") || !parsed.Amount.Valid || !parsed.Amount.Decimal.IsPositive() {
			return invalid(field, value, "must be a positive number")
		}
		p.Amount = parsed.Amount
		if parsed.Currency != "" {
			p.Currency = parsed.Currency
		}

	case fieldDescription:
		if !singleLine(value) {
			return invalid(field, value, "must be a single non-empty line of at most 255 characters")
		}
		p.Description = value

	case fieldCurrency:
		code := strings.ToUpper(value)
		if len(code) != 3 || strings.IndexFunc(code, func(r rune) bool { return r < 'A' || r > 'Z' }) >= 0 {
			return invalid(field, value, "must be a three-letter currency code")
		}
		p.Currency = code

	case fieldTags:
		if value == "-" || strings.EqualFold(value, "none") {
			p.Tags = nil
			return nil
		}
		tags := ParseTags(value)
		if len(tags) == 0 {
			return invalid(field, value, "must be a comma separated list, or 'none'")
		}
		p.Tags = tags

	case fieldAccount:
		a, ok := h.vocab.Account(value)
		if !ok {
			return invalid(field, value, "not a known account")
		}
		p.Account, p.AccountID = a.Name, a.ID

	case fieldDate:
		t, err := time.ParseInLocation("2006-01-02", value, time.UTC)
		if err != nil {
			return invalid(field, value, "must be a date like 2025-05-01")
		}
		p.Date = t

	default:
		return invalid("field", field, "unknown field")
	}
	return nil
}

func validationText(err error) string {
	msg := err.Error()
	r, size := utf8.DecodeRuneInString(msg)
	return "⚠️ " + string(unicode.ToUpper(r)) + msg[size:] + "."
}
