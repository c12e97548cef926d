// Package assistant is the conversational core: it turns a user's message
// into replies, driving the per-user session through suggestion,
// confirmation and edit.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
	"github.com/dkotama/firefly-telegram-assistant/pkg/catalog"
	"github.com/dkotama/firefly-telegram-assistant/pkg/composer"
	"github.com/dkotama/firefly-telegram-assistant/pkg/embedding"
	"github.com/dkotama/firefly-telegram-assistant/pkg/session"
	"github.com/dkotama/firefly-telegram-assistant/pkg/store"
	"github.com/dkotama/firefly-telegram-assistant/pkg/vector"
)

// DefaultIdleTimeout discards a pending suggestion after this much inactivity.
const DefaultIdleTimeout = 10 * time.Minute

// Ranker returns distinct candidates for a query vector.
type Ranker interface {
	Rank(ctx context.Context, v vector.Vector, f *store.Filter) ([]api.SuggestionCandidate, error)
}

// Composer builds a suggestion from ranked candidates.
type Composer interface {
	Compose(ctx context.Context, in composer.Input) (*api.ExpenseSuggestion, error)
}

// Vocabulary validates edited fields.
type Vocabulary interface {
	Category(s string) (string, bool)
	Payee(s string) (string, bool)
	Categories() []string
	Account(idOrName string) (api.Account, bool)
}

// Emitter receives accepted expenses.
type Emitter interface {
	Emit(ctx context.Context, e *api.FinalizedExpense) error
}

// Deps are the collaborators of a Handler.
type Deps struct {
	Sessions   session.Store
	Embedder   embedding.Provider
	Ranker     Ranker
	Composer   Composer
	Vocabulary Vocabulary
	Emitter    Emitter
	// Notifier delivers timeout notices from Sweep. Optional.
	Notifier api.Notifier
}

// Config tunes a Handler.
type Config struct {
	IdleTimeout time.Duration
	// DefaultAccountID is used when the accepted suggestion names no account.
	DefaultAccountID string
	DefaultCurrency  string
	// AuthorizedUsers restricts who may talk to the assistant. Empty allows everyone.
	AuthorizedUsers []string
	Now             func() time.Time
}

// Handler processes messages. Messages of one user are handled one at a
// time; different users proceed in parallel.
type Handler struct {
	sessions session.Store
	embedder embedding.Provider
	ranker   Ranker
	composer Composer
	vocab    Vocabulary
	emitter  Emitter
	locker   *session.Locker
	cfg      Config
	allowed  map[string]bool
	logger   *slog.Logger

	mu       sync.RWMutex
	notifier api.Notifier
}

// New returns a handler.
func New(deps Deps, cfg Config, logger *slog.Logger) (*Handler, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("session store is required")
	case deps.Embedder == nil:
		return nil, errors.New("embedding provider is required")
	case deps.Ranker == nil:
		return nil, errors.New("ranker is required")
	case deps.Composer == nil:
		return nil, errors.New("composer is required")
	case deps.Emitter == nil:
		return nil, errors.New("emitter is required")
	}
	if deps.Vocabulary == nil {
		deps.Vocabulary = catalog.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = composer.DefaultCurrency
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	var allowed map[string]bool
	if len(cfg.AuthorizedUsers) > 0 {
		allowed = make(map[string]bool, len(cfg.AuthorizedUsers))
		for _, u := range cfg.AuthorizedUsers {
			allowed[strings.TrimSpace(u)] = true
		}
	}

	return &Handler{
		sessions: deps.Sessions,
		embedder: deps.Embedder,
		ranker:   deps.Ranker,
		composer: deps.Composer,
		vocab:    deps.Vocabulary,
		emitter:  deps.Emitter,
		notifier: deps.Notifier,
		locker:   session.NewLocker(),
		cfg:      cfg,
		allowed:  allowed,
		logger:   logger,
	}, nil
}

// SetNotifier sets the notifier used by Sweep.
func (h *Handler) SetNotifier(n api.Notifier) {
	h.mu.Lock()
	h.notifier = n
	h.mu.Unlock()
}

func (h *Handler) getNotifier() api.Notifier {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.notifier
}

// Authorized reports whether userID may use the assistant.
func (h *Handler) Authorized(userID string) bool {
	return h.allowed == nil || h.allowed[userID]
}

func one(m api.OutboundMessage) []api.OutboundMessage {
	return []api.OutboundMessage{m}
}

// HandleMessage advances userID's session with text and returns the replies.
//
// Unauthorized users get no reply. If ctx ends mid-turn the session is left
// exactly as it was and ctx's error is returned. Other failures are reported
// to the user, not to the caller. A storage failure leaves the session idle;
// any other failure keeps the previous state, after applying a timeout.
func (h *Handler) HandleMessage(ctx context.Context, userID, text string) ([]api.OutboundMessage, error) {
	if !h.Authorized(userID) {
		h.logger.Warn("ignoring message from unauthorized user", "user", userID)
		return nil, nil
	}

	unlock, err := h.locker.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := h.load(ctx, userID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		h.logger.Error("failed to load session", "user", userID, "error", err)
		h.discard(ctx, session.New(userID))
		return one(reply(msgTryAgain)), nil
	}

	now := h.cfg.Now()
	var out []api.OutboundMessage
	if sess.Expired(now, h.cfg.IdleTimeout) {
		h.logger.Info("session timed out", "user", userID, "idle", now.Sub(sess.LastInteraction))
		out = append(out, renderTimeout(sess.Pending))
		sess.Reset()
	}

	next := sess.Clone()
	msgs, err := h.dispatch(ctx, next, strings.TrimSpace(text), now)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if api.IsStorage(err) {
			h.logger.Error("storage failure while handling message", "user", userID, "error", err)
			sess.Reset()
			h.discard(ctx, sess)
			return append(out, reply(msgTryAgain)), nil
		}
		h.logger.Error("failed to handle message", "user", userID, "error", err)
		if len(out) > 0 {
			h.discard(ctx, sess)
		}
		return append(out, reply(msgTryAgain)), nil
	}

	next.Touch(now)
	if err := h.sessions.Save(ctx, next); err != nil {
		h.logger.Error("failed to save session", "user", userID, "error", err)
		return append(out, reply(msgTryAgain)), nil
	}

	h.logger.Debug("handled message", "user", userID, "state", next.State, "turn", next.Turn)
	return append(out, msgs...), nil
}

func (h *Handler) load(ctx context.Context, userID string) (*session.Session, error) {
	s, err := h.sessions.Load(ctx, userID)
	if errors.Is(err, session.ErrNotFound) {
		return session.New(userID), nil
	}
	if err != nil {
		return nil, api.NewStorageError("load session", err)
	}
	if err := s.Validate(); err != nil {
		h.logger.Warn("resetting invalid session", "user", userID, "error", err)
		s.Reset()
	}
	return s, nil
}

// discard saves s as idle, best effort.
func (h *Handler) discard(ctx context.Context, s *session.Session) {
	s.Touch(h.cfg.Now())
	if err := h.sessions.Save(ctx, s); err != nil {
		h.logger.Warn("failed to reset session", "user", s.UserID, "error", err)
	}
}

// Command words. Free text maps to cmdNone.
const (
	cmdNone       = ""
	cmdStart      = "start"
	cmdHelp       = "help"
	cmdAccept     = "ok"
	cmdCancel     = "cancel"
	cmdEdit       = "edit"
	cmdRegenerate = "regenerate"
	cmdContext    = "context"
	cmdBack       = "back"
	cmdPick       = "pick"
)

var bareCommands = map[string]string{
	"start": cmdStart, "help": cmdHelp,
	"ok": cmdAccept, "yes": cmdAccept, "y": cmdAccept, "accept": cmdAccept, "confirm": cmdAccept,
	"cancel": cmdCancel, "no": cmdCancel, "n": cmdCancel, "reject": cmdCancel,
	"regenerate": cmdRegenerate, "retry": cmdRegenerate,
	"back": cmdBack,
}

// parseCommand recognises command words, with or without a leading slash.
// Words that are also plausible expense text only count when they stand alone.
func parseCommand(text string) (cmd, arg string) {
	word, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)
	word = strings.ToLower(strings.TrimPrefix(word, "/"))
	word, _, _ = strings.Cut(word, "@")

	switch word {
	case cmdEdit, cmdContext:
		return word, rest
	}
	if rest != "" {
		return cmdNone, ""
	}
	if c, ok := bareCommands[word]; ok {
		return c, ""
	}
	if _, err := strconv.Atoi(word); err == nil {
		return cmdPick, word
	}
	return cmdNone, ""
}

func (h *Handler) dispatch(ctx context.Context, s *session.Session, text string, now time.Time) ([]api.OutboundMessage, error) {
	cmd, arg := parseCommand(text)
	switch cmd {
	case cmdStart:
		return one(reply(msgGreeting)), nil
	case cmdHelp:
		return one(reply(helpText)), nil
	}

	switch s.State {
	case session.AwaitingConfirmation:
		return h.onConfirmation(ctx, s, text, cmd, arg, now)
	case session.AwaitingEdit:
		return h.onEdit(ctx, s, text, cmd, arg, now)
	default:
		return h.onIdle(ctx, s, text, cmd, now)
	}
}

func (h *Handler) onIdle(ctx context.Context, s *session.Session, text, cmd string, now time.Time) ([]api.OutboundMessage, error) {
	if cmd != cmdNone {
		return one(reply(msgNoProposal)), nil
	}
	if text == "" {
		return one(reply(helpText)), nil
	}
	if err := h.propose(ctx, s, text, "", now); err != nil {
		return nil, err
	}
	return one(renderSuggestion(s.Pending)), nil
}

func (h *Handler) onConfirmation(ctx context.Context, s *session.Session, text, cmd, arg string, now time.Time) ([]api.OutboundMessage, error) {
	switch cmd {
	case cmdAccept:
		return h.accept(ctx, s, now)
	case cmdCancel:
		s.Reset()
		return one(reply(msgCancelled)), nil
	case cmdEdit:
		if arg == "" {
			s.BeginEdit("")
			return one(renderEditMenu()), nil
		}
		return h.edit(ctx, s, arg, now)
	case cmdRegenerate:
		return h.regenerate(ctx, s, s.UserContext, now)
	case cmdContext:
		if arg == "" {
			s.BeginEdit(fieldContext)
			return one(reply(msgAskContext)), nil
		}
		return h.regenerate(ctx, s, joinContext(s.UserContext, arg), now)
	case cmdPick:
		return h.pick(s, arg), nil
	case cmdBack:
		return one(renderSuggestion(s.Pending)), nil
	}
	return []api.OutboundMessage{reply(msgPendingFirst), renderSuggestion(s.Pending)}, nil
}

func (h *Handler) onEdit(ctx context.Context, s *session.Session, text, cmd, arg string, now time.Time) ([]api.OutboundMessage, error) {
	switch cmd {
	case cmdCancel:
		s.Reset()
		return one(reply(msgCancelled)), nil
	case cmdBack:
		s.EndEdit()
		return one(renderSuggestion(s.Pending)), nil
	case cmdEdit:
		if arg == "" {
			s.BeginEdit("")
			return one(renderEditMenu()), nil
		}
		return h.edit(ctx, s, arg, now)
	case cmdContext:
		return h.applyEdit(ctx, s, fieldContext, arg, now)
	}

	if s.EditField == "" {
		return h.edit(ctx, s, text, now)
	}
	value := text
	if f, rest := splitField(text); f == s.EditField && rest != "" {
		value = rest
	}
	return h.applyEdit(ctx, s, s.EditField, value, now)
}

// edit handles "<field> [value]".
func (h *Handler) edit(ctx context.Context, s *session.Session, text string, now time.Time) ([]api.OutboundMessage, error) {
	field, value := splitField(text)
	if field == "" {
		s.BeginEdit("")
		return []api.OutboundMessage{
			reply("⚠️ Unknown field. Choose one of: category, payee, amount, description, currency, tags, account, date, context."),
			renderEditMenu(),
		}, nil
	}
	if value == "" {
		s.BeginEdit(field)
		return one(renderFieldPrompt(field, h.vocab.Categories())), nil
	}
	return h.applyEdit(ctx, s, field, value, now)
}

// applyEdit stores value in field. An invalid value leaves the suggestion
// untouched and keeps the session waiting for that field.
func (h *Handler) applyEdit(ctx context.Context, s *session.Session, field, value string, now time.Time) ([]api.OutboundMessage, error) {
	if field == fieldContext {
		if strings.TrimSpace(value) == "" {
			s.BeginEdit(fieldContext)
			return one(reply(msgAskContext)), nil
		}
		return h.regenerate(ctx, s, joinContext(s.UserContext, value), now)
	}

	if err := h.setField(s.Pending, field, value); err != nil {
		h.logger.Debug("rejected edit", "user", s.UserID, "field", field, "error", err)
		s.BeginEdit(field)
		return []api.OutboundMessage{
			reply(validationText(err)),
			renderFieldPrompt(field, h.vocab.Categories()),
		}, nil
	}
	s.EndEdit()
	return []api.OutboundMessage{
		reply(fmt.Sprintf("✏️ Updated %s.", field)),
		renderSuggestion(s.Pending),
	}, nil
}

func (h *Handler) pick(s *session.Session, arg string) []api.OutboundMessage {
	p := s.Pending
	n, _ := strconv.Atoi(arg)
	if n < 1 || n > len(p.Alternatives) {
		return []api.OutboundMessage{
			reply(fmt.Sprintf("⚠️ There is no alternative %s.", arg)),
			renderSuggestion(p),
		}
	}
	alt := p.Alternatives[n-1]
	p.Alternatives[n-1] = api.Alternative{
		Category:  p.Category,
		Payee:     p.Payee,
		Account:   p.Account,
		AccountID: p.AccountID,
		Score:     p.Confidence,
	}
	p.Category, p.Payee, p.Confidence = alt.Category, alt.Payee, alt.Score
	p.Account, p.AccountID = alt.Account, alt.AccountID
	return one(renderSuggestion(p))
}

func joinContext(prev, more string) string {
	return strings.TrimSpace(prev + " " + strings.TrimSpace(more))
}

// regenerate rebuilds the suggestion from the original message. An amount
// the user already supplied survives when the message itself had none.
func (h *Handler) regenerate(ctx context.Context, s *session.Session, userContext string, now time.Time) ([]api.OutboundMessage, error) {
	prev := s.Pending
	if err := h.propose(ctx, s, s.OriginalText, userContext, now); err != nil {
		return nil, err
	}
	if prev != nil && prev.Amount.Valid && !s.Pending.Amount.Valid {
		s.Pending.Amount = prev.Amount
		s.Pending.Currency = prev.Currency
	}
	return one(renderSuggestion(s.Pending)), nil
}

// propose embeds, ranks and composes a suggestion for text and presents it on s.
// An embedding failure degrades to a manual-entry suggestion.
func (h *Handler) propose(ctx context.Context, s *session.Session, text, userContext string, now time.Time) error {
	parsed := ParseExpense(text)
	query := parsed.Description
	if query == "" {
		query = text
	}
	query = joinContext(query, userContext)

	var cands []api.SuggestionCandidate
	v, err := h.embedder.Embed(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h.logger.Warn("embedding failed, asking for manual entry", "user", s.UserID, "error", err)
	} else {
		cands, err = h.ranker.Rank(ctx, v, nil)
		if err != nil {
			return err
		}
	}

	sugg, err := h.composer.Compose(ctx, composer.Input{
		Text:        text,
		Description: parsed.Description,
		Amount:      parsed.Amount,
		Currency:    parsed.Currency,
		Tags:        parsed.Tags,
		UserContext: userContext,
		Date:        now,
		Candidates:  cands,
	})
	if err != nil {
		return err
	}

	h.logger.Info("suggestion composed",
		"user", s.UserID,
		"candidates", len(cands),
		"confidence", sugg.Confidence,
		"source", sugg.Source,
	)
	s.Present(sugg, text)
	s.UserContext = userContext
	return nil
}

// accept finalizes the pending suggestion. Missing amount or payee sends
// the user to edit that field instead.
func (h *Handler) accept(ctx context.Context, s *session.Session, now time.Time) ([]api.OutboundMessage, error) {
	p := s.Pending
	switch {
	case !p.Amount.Valid || !p.Amount.Decimal.IsPositive():
		s.BeginEdit(fieldAmount)
		return []api.OutboundMessage{
			reply("⚠️ The expense needs a positive amount before it can be saved."),
			renderFieldPrompt(fieldAmount, nil),
		}, nil
	case strings.TrimSpace(p.Payee) == "":
		s.BeginEdit(fieldPayee)
		return []api.OutboundMessage{
			reply("⚠️ The expense needs a payee before it can be saved."),
			renderFieldPrompt(fieldPayee, nil),
		}, nil
	}

	e := &api.FinalizedExpense{
		ID:              uuid.NewString(),
		UserID:          s.UserID,
		Type:            api.TypeWithdrawal,
		Amount:          p.Amount.Decimal,
		Currency:        p.Currency,
		Description:     p.Description,
		Category:        p.Category,
		Payee:           p.Payee,
		SourceAccount:   p.Account,
		SourceAccountID: p.AccountID,
		Tags:            append([]string(nil), p.Tags...),
		BillID:          p.BillID,
		Date:            p.Date,
		Confidence:      p.Confidence,
		Notes:           api.DefaultNotes,
		CreatedAt:       now,
	}
	if e.SourceAccountID == "" && e.SourceAccount == "" {
		e.SourceAccountID = h.cfg.DefaultAccountID
	}
	if e.Currency == "" {
		e.Currency = h.cfg.DefaultCurrency
	}
	if e.Date.IsZero() {
		e.Date = now
	}
	if e.Description == "" {
		e.Description = p.Payee
	}

	if err := h.emitter.Emit(ctx, e); err != nil {
		return nil, err
	}
	h.logger.Info("expense accepted", "user", s.UserID, "id", e.ID, "category", e.Category, "payee", e.Payee)
	s.Reset()
	return one(renderFinalized(e)), nil
}

// Sweep expires idle sessions and notifies their users. It returns the
// number of sessions expired.
func (h *Handler) Sweep(ctx context.Context) (int, error) {
	all, err := h.sessions.List(ctx)
	if err != nil {
		return 0, api.NewStorageError("list sessions", err)
	}

	expired := 0
	for _, s := range all {
		if !s.Expired(h.cfg.Now(), h.cfg.IdleTimeout) {
			continue
		}
		ok, err := h.expire(ctx, s.UserID)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (h *Handler) expire(ctx context.Context, userID string) (bool, error) {
	unlock, err := h.locker.Lock(ctx, userID)
	if err != nil {
		return false, err
	}
	defer unlock()

	// Reload under the lock; a message may have arrived since List.
	s, err := h.sessions.Load(ctx, userID)
	if errors.Is(err, session.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, api.NewStorageError("load session", err)
	}
	if !s.Expired(h.cfg.Now(), h.cfg.IdleTimeout) {
		return false, nil
	}

	pending := s.Pending
	s.Reset()
	if err := h.sessions.Save(ctx, s); err != nil {
		return false, api.NewStorageError("save session", err)
	}
	h.logger.Info("session timed out", "user", userID)

	if n := h.getNotifier(); n != nil {
		if err := n.Notify(ctx, userID, one(renderTimeout(pending))); err != nil {
			h.logger.Warn("failed to send timeout notice", "user", userID, "error", err)
		}
	}
	return true, nil
}
