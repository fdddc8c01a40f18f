package notify

import (
	"context"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

// sender is the part of the bot API used here.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends notifications to a chat through a bot.
type Telegram struct {
	ChatID int64
	Events []string
	bot    sender
}

// NewTelegram logs the bot in with its token; this makes a request
// to the Telegram API.
func NewTelegram(token string, chatID int64, events []string, client *http.Client) (*Telegram, error) {
	if client == nil {
		client = http.DefaultClient
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to Telegram")
	}
	return &Telegram{ChatID: chatID, Events: events, bot: bot}, nil
}

func (t *Telegram) Notify(ctx context.Context, n Notification) error {
	if !wants(t.Events, n.Kind) {
		return nil
	}
	text, err := Text(n)
	if err != nil {
		return err
	}
	if n.Error != "" {
		text += "\n\n" + n.Error
	}
	msg := tgbotapi.NewMessage(t.ChatID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return errors.Wrap(err, "sending Telegram message")
	}
	return nil
}
