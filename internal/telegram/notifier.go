// Package telegram pushes announcement workflow events to the admin's
// Telegram chat, so payment verification doesn't require watching a
// dashboard.
package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"talkstage/backend/internal/models"
)

// Notifier sends admin notifications through one bot to one chat.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

// NewNotifier authenticates the bot. chatID is the admin's private chat.
func NewNotifier(token string, chatID int64, log zerolog.Logger) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	log.Info().Str("bot", bot.Self.UserName).Msg("telegram notifier ready")
	return &Notifier{
		bot:    bot,
		chatID: chatID,
		log:    log.With().Str("component", "telegram").Logger(),
	}, nil
}

// NotifyRequest pings the admin about a new pending announcement request.
func (n *Notifier) NotifyRequest(req models.AnnouncementRequest) error {
	text := fmt.Sprintf(
		"📢 *New announcement request #%d*\n\n%s\n\nPrice: ₱%d · Runs: %d min\nApprove once payment lands.",
		req.ID, req.Message, req.PaymentAmount, req.DurationMinutes)
	return n.send(text)
}

// NotifyPublished confirms a banner went live.
func (n *Notifier) NotifyPublished(a models.Announcement) error {
	text := fmt.Sprintf(
		"✅ *Announcement #%d is live*\n\n%s\n\nExpires %s by %s.",
		a.ID, a.Message, a.ExpiresAt.Format("15:04:05"), a.ApprovedBy)
	return n.send(text)
}

func (n *Notifier) send(text string) error {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
