package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aymenfurter/polyclaw-sub001/internal/config"
	polyErrors "github.com/aymenfurter/polyclaw-sub001/internal/errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramAdapter long-polls for approval answers and pushes prompts as
// chat messages.
type TelegramAdapter struct {
	token         string
	updateTimeout int
	eventHandler  EventHandler
	bot           *tgbotapi.BotAPI
	updates       tgbotapi.UpdatesChannel
}

func NewTelegramAdapter(token string, eventHandler EventHandler, updateTimeout int) *TelegramAdapter {
	if updateTimeout <= 0 {
		updateTimeout = config.DefaultTelegramUpdateTime
	}
	return &TelegramAdapter{
		token:         token,
		updateTimeout: updateTimeout,
		eventHandler:  eventHandler,
	}
}

func (t *TelegramAdapter) Name() string {
	return "telegram"
}

func (t *TelegramAdapter) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return polyErrors.Wrap(err, "failed to init telegram bot")
	}

	slog.Info("Telegram adapter started", "user", t.bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.updateTimeout

	t.updates = t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update := <-t.updates:
				t.handleUpdate(ctx, update)
			}
		}
	}()

	return nil
}

func (t *TelegramAdapter) Stop(ctx context.Context) error {
	return nil
}

func (t *TelegramAdapter) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil {
		return
	}

	msg := update.Message
	sessionID := fmt.Sprintf("%d", msg.Chat.ID)

	// Telegram UpdateID is globally unique, MessageID only per chat; the
	// dedupe key needs the global one.
	metadata := map[string]string{
		"user_id":   fmt.Sprintf("%d", msg.From.ID),
		"user_name": msg.From.UserName,
		"msg_id":    fmt.Sprintf("%d", msg.MessageID),
		"event_id":  fmt.Sprintf("telegram:%d", update.UpdateID),
	}

	if t.eventHandler != nil {
		if err := t.eventHandler(ctx, "telegram", "user_message", sessionID, msg.Text, metadata); err != nil {
			slog.Error("Failed to handle Telegram event", "error", err)
		}
	}
}

func (t *TelegramAdapter) Send(ctx context.Context, sessionID string, content string) error {
	chatID, err := strconv.ParseInt(sessionID, 10, 64)
	if err != nil {
		return polyErrors.InvalidInput("invalid telegram session ID: " + err.Error())
	}

	msg := tgbotapi.NewMessage(chatID, content)
	_, err = t.bot.Send(msg)
	if err != nil {
		return polyErrors.Wrap(err, "failed to send telegram message")
	}

	slog.Debug("Telegram message sent", "chat_id", sessionID)
	return nil
}

func (t *TelegramAdapter) Health(ctx context.Context) error {
	if t.bot == nil {
		return polyErrors.Transient("Telegram bot not initialized")
	}

	_, err := t.bot.GetMe()
	if err != nil {
		return polyErrors.Transient("Telegram connection failed: " + err.Error())
	}

	return nil
}
