// Package telegram connects the assistant to a Telegram bot. Text messages
// and inline button presses are both delivered to the handler as text.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
)

const msgFailure = "⚠️ Something went wrong. Please try again."

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Handler answers one user message.
type Handler interface {
	HandleMessage(ctx context.Context, userID, text string) ([]api.OutboundMessage, error)
}

// Config holds configuration for the bot.
type Config struct {
	Token string
	// PollTimeout is the long-polling timeout in seconds. Defaults to 60.
	PollTimeout int
}

// Bot polls Telegram for updates and implements api.Notifier.
type Bot struct {
	api         API
	handler     Handler
	pollTimeout int
	logger      *slog.Logger
}

// New connects to Telegram with cfg.Token.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("telegram bot authorized", "username", botAPI.Self.UserName)
	return NewWithAPI(botAPI, handler, cfg, logger), nil
}

// NewWithAPI returns a bot using an existing API client.
func NewWithAPI(botAPI API, handler Handler, cfg Config, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 60
	}
	return &Bot{
		api:         botAPI,
		handler:     handler,
		pollTimeout: cfg.PollTimeout,
		logger:      logger,
	}
}

// SetHandler replaces the message handler. It must be called before Run.
func (b *Bot) SetHandler(h Handler) { b.handler = h }

// Run receives updates until ctx is canceled. Updates are handled
// concurrently; ordering per user is the handler's job.
func (b *Bot) Run(ctx context.Context) error {
	if b.handler == nil {
		return errors.New("telegram bot has no handler")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("telegram bot started")

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("telegram bot stopping", "reason", ctx.Err())
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				b.logger.Info("telegram update channel closed")
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.handleUpdate(ctx, update)
			}()
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	var (
		userID int64
		chatID int64
		text   string
	)
	switch {
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
			b.logger.Warn("failed to answer callback", "error", err)
		}
		if cq.From == nil || cq.Message == nil || cq.Message.Chat == nil {
			return
		}
		userID, chatID, text = cq.From.ID, cq.Message.Chat.ID, cq.Data
	case update.Message != nil:
		m := update.Message
		if m.From == nil || m.Chat == nil || m.Text == "" {
			return
		}
		userID, chatID, text = m.From.ID, m.Chat.ID, m.Text
	default:
		return
	}

	logger := b.logger.With("user_id", userID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic handling message", "panic", r, "stack", string(debug.Stack()))
			if err := b.send(chatID, []api.OutboundMessage{{Text: msgFailure}}); err != nil {
				logger.Error("failed to send reply", "error", err)
			}
		}
	}()
	replies, err := b.handler.HandleMessage(ctx, strconv.FormatInt(userID, 10), text)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Error("failed to handle message", "error", err)
		replies = []api.OutboundMessage{{Text: msgFailure}}
	}
	if err := b.send(chatID, replies); err != nil {
		logger.Error("failed to send reply", "error", err)
	}
}

// Notify sends unsolicited messages to a user's private chat.
func (b *Bot) Notify(_ context.Context, userID string, msgs []api.OutboundMessage) error {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing telegram user id %q: %w", userID, err)
	}
	return b.send(chatID, msgs)
}

func (b *Bot) send(chatID int64, msgs []api.OutboundMessage) error {
	var errs []error
	for _, m := range msgs {
		if _, err := b.api.Send(Render(chatID, m)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Render converts an outbound message into a Telegram message with an
// inline keyboard.
func Render(chatID int64, m api.OutboundMessage) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, m.Text)
	if len(m.Buttons) == 0 {
		return msg
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(m.Buttons))
	for _, row := range m.Buttons {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Label, btn.Data))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	return msg
}
