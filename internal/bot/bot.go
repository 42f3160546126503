// Package bot mints call links from Telegram chats.
package bot

import (
	"context"
	"fmt"

	"github.com/amalgammas/link/internal/metrics"
	"github.com/amalgammas/link/internal/room"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

const (
	greeting = "Hi! Send /link to create a call link."
	linkText = "Here is your link:\n%s\n\nShare it with the other person and you can talk right in the browser."
)

// RoomCreator mints rooms.
type RoomCreator interface {
	Create() *room.Room
}

// Responder turns commands into replies. It holds no Telegram state so it
// can be exercised without the network.
type Responder struct {
	Rooms   RoomCreator
	BaseURL string
	Metrics *metrics.Metrics
}

// Reply returns the answer to command, without the leading slash. ok is
// false for commands the bot does not know.
func (r *Responder) Reply(command string) (text string, ok bool) {
	switch command {
	case "start":
		return greeting, true
	case "link":
		rm := r.Rooms.Create()
		r.Metrics.RoomCreated()
		logrus.WithField("room_id", rm.ID).Info("room created via telegram")
		return fmt.Sprintf(linkText, room.Link(r.BaseURL, rm.ID)), true
	default:
		return "", false
	}
}

// Bot long-polls Telegram and answers /start and /link.
type Bot struct {
	api       *tgbotapi.BotAPI
	responder *Responder
}

// New authenticates with token.
func New(token string, responder *Responder) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to start telegram bot: %w", err)
	}
	logrus.WithField("bot", api.Self.UserName).Info("telegram bot authorized")
	return &Bot{api: api, responder: responder}, nil
}

// Run handles updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	logrus.Info("telegram bot is up and running")
	for {
		select {
		case <-ctx.Done():
			logrus.Info("telegram bot has been stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handle(update)
		}
	}
}

func (b *Bot) handle(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || !msg.IsCommand() {
		return
	}

	text, ok := b.responder.Reply(msg.Command())
	if !ok {
		return
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ReplyToMessageID = msg.MessageID
	if _, err := b.api.Send(reply); err != nil {
		logrus.WithError(err).WithField("chat_id", msg.Chat.ID).Error("failed to send telegram reply")
	}
}
