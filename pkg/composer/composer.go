// Package composer turns ranked candidates into an expense suggestion.
//
// A top score at or above the high threshold is copied directly. A score
// between the thresholds asks the language model to pick among the
// candidates, validating its answer against the vocabulary. Anything lower
// yields a manual-entry suggestion with confidence 0.
package composer

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/catalog"
	"github.com/dkotama/firefly-telegram-assistant/pkg/llm"
)

// Defaults for Config.
const (
	DefaultHighThreshold = 0.85
	DefaultLowThreshold  = 0.55
	DefaultLLMTimeout    = 10 * time.Second
	DefaultCurrency      = "USD"

	maxDescriptionLen = 200
)

// Vocabulary is the closed set of categories, payees and bills structured
// fields may take.
type Vocabulary interface {
	Category(s string) (string, bool)
	Payee(s string) (string, bool)
	Bill(idOrName string) (api.Bill, bool)
	Categories() []string
	Payees() []string
	PromptContext() string
}

// Config tunes the composer.
type Config struct {
	HighThreshold float64
	LowThreshold  float64
	// LLMTimeout bounds each refinement call.
	LLMTimeout time.Duration
	// MaxAlternatives caps the runner-up list offered to the user.
	MaxAlternatives int
	DefaultCurrency string
}

func (c *Config) applyDefaults() {
	if c.HighThreshold == 0 {
		c.HighThreshold = DefaultHighThreshold
	}
	if c.LowThreshold == 0 {
		c.LowThreshold = DefaultLowThreshold
	}
	if c.LLMTimeout == 0 {
		c.LLMTimeout = DefaultLLMTimeout
	}
	if c.MaxAlternatives == 0 {
		c.MaxAlternatives = 3
	}
	if c.DefaultCurrency == "" {
		c.DefaultCurrency = DefaultCurrency
	}
}

// Input is one expense observation plus its ranked candidates.
type Input struct {
	// Text is the raw message.
	Text string
	// Description is the message with amount, currency and tags removed.
	Description string
	Amount      decimal.NullDecimal
	// Currency is empty when the message did not name one.
	Currency    string
	Tags        []string
	UserContext string
	Date        time.Time
	Candidates  []api.SuggestionCandidate
}

// Composer builds suggestions. It is safe for concurrent use.
type Composer struct {
	refiner llm.Refiner
	vocab   Vocabulary
	cfg     Config
	logger  *slog.Logger
}

// New returns a composer. A nil refiner disables the refinement step.
func New(refiner llm.Refiner, vocab Vocabulary, cfg Config, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Composer{refiner: refiner, vocab: vocab, cfg: cfg, logger: logger}
}

// Config returns the effective configuration.
func (c *Composer) Config() Config { return c.cfg }

// Compose builds a suggestion. Provider failures degrade to the top
// candidate; the only error returned is ctx's own, when the caller gave up.
func (c *Composer) Compose(ctx context.Context, in Input) (*api.ExpenseSuggestion, error) {
	if len(in.Candidates) == 0 || in.Candidates[0].Score < c.cfg.LowThreshold {
		return c.manual(in), nil
	}

	base := c.fromCandidate(in, 0)
	if in.Candidates[0].Score >= c.cfg.HighThreshold || c.refiner == nil {
		return base, nil
	}

	refined, err := c.refine(ctx, in)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Warn("refinement failed, using top candidate", "error", err)
		base.Source = api.SourceFallback
		return base, nil
	}
	if refined == nil {
		base.Source = api.SourceFallback
		return base, nil
	}
	return refined, nil
}

func (c *Composer) refine(ctx context.Context, in Input) (*api.ExpenseSuggestion, error) {
	rctx, cancel := context.WithTimeout(ctx, c.cfg.LLMTimeout)
	defer cancel()

	req := llm.Request{
		Text:        in.Text,
		UserContext: in.UserContext,
		Candidates:  in.Candidates,
		Today:       in.Date,
	}
	if c.vocab != nil {
		req.Categories = c.vocab.Categories()
		req.Payees = c.vocab.Payees()
		req.Reference = c.vocab.PromptContext()
	}

	ref, err := c.refiner.Refine(rctx, req)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, nil
	}

	category, okCat := c.validCategory(ref.Category)
	payee, okPayee := c.validPayee(ref.Payee)
	if !okCat || !okPayee {
		c.logger.Info("discarding refinement outside vocabulary",
			"category", ref.Category,
			"payee", ref.Payee,
		)
		return nil, nil
	}

	// Anchor on the candidate the model picked, if it picked one.
	idx := 0
	for i, cand := range in.Candidates {
		if catalog.Key(cand.Record.Category) == catalog.Key(category) &&
			catalog.Key(cand.Record.Payee) == catalog.Key(payee) {
			idx = i
			break
		}
	}

	s := c.fromCandidate(in, idx)
	s.Category = category
	s.Payee = payee
	if d, ok := validDescription(ref.Description); ok {
		s.Description = d
	}
	if ref.BillID != "" {
		if bill, ok := c.validBill(ref.BillID); ok {
			s.BillID, s.BillName = bill.ID, bill.Name
		} else {
			c.logger.Info("dropping unknown bill from refinement", "bill_id", ref.BillID)
		}
	}
	s.Source = api.SourceRefined
	return s, nil
}

func (c *Composer) validCategory(s string) (string, bool) {
	if strings.TrimSpace(s) == "" || c.vocab == nil {
		return "", false
	}
	return c.vocab.Category(s)
}

func (c *Composer) validPayee(s string) (string, bool) {
	if strings.TrimSpace(s) == "" || c.vocab == nil {
		return "", false
	}
	return c.vocab.Payee(s)
}

func (c *Composer) validBill(s string) (api.Bill, bool) {
	if strings.TrimSpace(s) == "" || c.vocab == nil {
		return api.Bill{}, false
	}
	return c.vocab.Bill(strings.TrimSpace(s))
}

func validDescription(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "\r\n") || utf8.RuneCountInString(s) > maxDescriptionLen {
		return "", false
	}
	return s, true
}

// fromCandidate copies category, payee and account from candidate idx and
// takes everything else from the input.
func (c *Composer) fromCandidate(in Input, idx int) *api.ExpenseSuggestion {
	top := in.Candidates[idx]
	rec := top.Record

	s := &api.ExpenseSuggestion{
		Category:     rec.Category,
		Payee:        rec.Payee,
		Amount:       in.Amount,
		Currency:     firstNonEmpty(in.Currency, rec.Currency, c.cfg.DefaultCurrency),
		Description:  firstNonEmpty(templateDescription(in), rec.Description),
		Tags:         in.Tags,
		Account:      rec.Account,
		AccountID:    rec.AccountID,
		Date:         in.Date,
		Confidence:   top.Score,
		Source:       api.SourceFastPath,
		Alternatives: c.alternatives(in.Candidates, idx),
	}
	if len(s.Tags) == 0 && len(rec.Tags) > 0 {
		s.Tags = append([]string(nil), rec.Tags...)
	}
	return s
}

func (c *Composer) manual(in Input) *api.ExpenseSuggestion {
	return &api.ExpenseSuggestion{
		Amount:      in.Amount,
		Currency:    firstNonEmpty(in.Currency, c.cfg.DefaultCurrency),
		Description: templateDescription(in),
		Tags:        in.Tags,
		Date:        in.Date,
		Confidence:  0,
		Source:      api.SourceManual,
	}
}

func (c *Composer) alternatives(cands []api.SuggestionCandidate, chosen int) []api.Alternative {
	var out []api.Alternative
	for i, cand := range cands {
		if i == chosen {
			continue
		}
		if len(out) == c.cfg.MaxAlternatives {
			break
		}
		out = append(out, api.Alternative{
			Category:  cand.Record.Category,
			Payee:     cand.Record.Payee,
			Account:   cand.Record.Account,
			AccountID: cand.Record.AccountID,
			Score:     cand.Score,
		})
	}
	return out
}

// templateDescription derives the description from the user's own words.
func templateDescription(in Input) string {
	d := strings.Join(strings.Fields(firstNonEmpty(in.Description, in.Text)), " ")
	if d == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(d)
	return strings.ToUpper(string(r)) + d[size:]
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
