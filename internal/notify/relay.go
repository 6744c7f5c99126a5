// Package notify reports extracted-code events to the operator. Sends are
// fire-and-forget and independent of code invalidation.
package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// MaxContentRunes bounds the quoted message content in a notification.
const MaxContentRunes = 3000

// Notifier delivers one formatted message to the operator.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// TelegramRelay sends notifications to the operator's chat through the
// control bot.
type TelegramRelay struct {
	bot     *tgbotapi.BotAPI
	ownerID int64
	log     *logrus.Entry
}

// NewTelegramRelay authorizes the control bot and binds it to the operator
// chat.
func NewTelegramRelay(token string, ownerID int64, log *logrus.Entry) (*TelegramRelay, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("control bot authorization failed: %w", err)
	}
	return &TelegramRelay{
		bot:     bot,
		ownerID: ownerID,
		log:     log.WithField("component", "notify-relay"),
	}, nil
}

// Username returns the control bot's handle, used as the acquaintance
// handshake peer.
func (r *TelegramRelay) Username() string {
	return r.bot.Self.UserName
}

// Notify sends text to the operator chat as HTML.
func (r *TelegramRelay) Notify(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(r.ownerID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := r.bot.Send(msg); err != nil {
		r.log.Errorf("notification send failed: %v", err)
		return err
	}
	return nil
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// EscapeHTML escapes the three characters significant to the bot's HTML
// parse mode.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// Truncate bounds s to at most n runes.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Format renders the status+content summary for one inbound service message.
func Format(accountName string, destroyPaused, notifyPaused bool, content string) string {
	otpStatus := "OTP active"
	if destroyPaused {
		otpStatus = "OTP paused (temp)"
	}
	notifyStatus := "notify active"
	if notifyPaused {
		notifyStatus = "notify paused"
	}
	if content == "" {
		content = "(media)"
	}
	return fmt.Sprintf("<b>%s</b>\n<b>Status:</b> %s | %s\n\n<b>Content:</b>\n<code>%s</code>",
		EscapeHTML(accountName),
		otpStatus, notifyStatus,
		EscapeHTML(Truncate(content, MaxContentRunes)))
}
