package assistant

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Parsed is the structured part of a free-text expense message.
type Parsed struct {
	// Description is the message with amount, currency and tags removed.
	Description string
	Amount      decimal.NullDecimal
	// Currency is the ISO code named in the message, or empty.
	Currency string
	Tags     []string
}

var (
	tagsRe   = regexp.MustCompile(`(?i)tags:`)
	amountRe = regexp.MustCompile(`\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?`)

	currencyWords = []struct {
		re   *regexp.Regexp
		code string
	}{
		{regexp.MustCompile(`(?i)\b(?:yen|jpy)\b|[¥円]`), "JPY"},
		{regexp.MustCompile(`(?i)\b(?:euros?|eur)\b|€`), "EUR"},
		{regexp.MustCompile(`(?i)\b(?:dollars?|usd|bucks)\b|\$`), "USD"},
	}
)

// ParseExpense extracts amount, currency and tags from a message such as
// "Pay 768 yen at Sukiya tags:food, Lunch".
func ParseExpense(text string) Parsed {
	var p Parsed

	text = strings.ToValidUTF8(text, " ")
	main := text
	if loc := tagsRe.FindStringIndex(text); loc != nil {
		main = text[:loc[0]]
		p.Tags = ParseTags(text[loc[1]:])
	}

	if loc := amountRe.FindStringIndex(main); loc != nil {
		raw := strings.ReplaceAll(main[loc[0]:loc[1]], ",", "")
		if d, err := decimal.NewFromString(raw); err == nil {
			p.Amount = decimal.NewNullDecimal(d)
			main = main[:loc[0]] + " " + main[loc[1]:]
		}
	}

	for _, cw := range currencyWords {
		if cw.re.MatchString(main) {
			if p.Currency == "" {
				p.Currency = cw.code
			}
			main = cw.re.ReplaceAllString(main, " ")
		}
	}

	p.Description = strings.Trim(strings.Join(strings.Fields(main), " "), " ,.;:-")
	return p
}

// ParseTags splits a comma separated list into trimmed, lower-cased tags.
func ParseTags(s string) []string {
	var tags []string
	seen := make(map[string]bool)
	for _, t := range strings.Split(s, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	return tags
}
