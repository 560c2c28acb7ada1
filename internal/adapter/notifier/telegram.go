package notifier

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends alerts that need an operator to a single chat.
type Telegram struct {
	bot    sender
	chatID int64
	source string
}

// NewTelegram connects to the bot API. source names this instance in every
// message, usually the destination server.
func NewTelegram(botToken, chatID, source string) (*Telegram, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &Telegram{bot: bot, chatID: id, source: source}, nil
}

func (t *Telegram) Notify(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	text := "⚠️ " + message
	if t.source != "" {
		text = fmt.Sprintf("⚠️ [%s] %s", t.source, message)
	}

	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		return fmt.Errorf("failed to send telegram notification: %w", err)
	}
	return nil
}

// Nop discards alerts when no channel is configured.
type Nop struct{}

func (Nop) Notify(ctx context.Context, message string) error { return nil }
