package notify

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"hypeseeker/internal/hypedb"
)

// telegramChunk keeps each message comfortably under Telegram's 4096
// character limit for an HTML digest entry.
const telegramChunk = 5

// Telegram delivers digests to one chat via the Bot API.
type Telegram struct {
	bot             *tgbotapi.BotAPI
	chatID          int64
	channelUsername string
	now             func() time.Time
}

// NewTelegram connects the bot and resolves the target chat. chat may be a
// numeric chat id or a public @channel username.
func NewTelegram(token, chat string) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}
	if strings.TrimSpace(chat) == "" {
		return nil, fmt.Errorf("telegram chat id is empty")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	t := &Telegram{bot: bot, now: time.Now}
	if id, err := strconv.ParseInt(chat, 10, 64); err == nil {
		t.chatID = id
	} else {
		if !strings.HasPrefix(chat, "@") {
			chat = "@" + chat
		}
		t.channelUsername = chat
	}
	return t, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) MaxChunk() int { return telegramChunk }

func (t *Telegram) Send(ctx context.Context, posts []hypedb.Post, offset int) error {
	var b strings.Builder
	if offset == 0 {
		fmt.Fprintf(&b, "🔥 <b>HypeSeeker Digest</b>\n📅 %s\n\n", t.now().Format("2006-01-02"))
	}
	for i, p := range posts {
		b.WriteString(formatTelegramPost(p, offset+i+1))
		b.WriteString("\n")
	}

	msg := tgbotapi.MessageConfig{
		BaseChat: tgbotapi.BaseChat{
			ChatID:          t.chatID,
			ChannelUsername: t.channelUsername,
		},
		Text:                  b.String(),
		ParseMode:             tgbotapi.ModeHTML,
		DisableWebPagePreview: true,
	}
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func formatTelegramPost(p hypedb.Post, index int) string {
	var b strings.Builder
	name := p.Name
	if strings.TrimSpace(name) == "" {
		name = p.ID
	}
	score := int(p.RelevanceScore.Float64 * 100)
	fmt.Fprintf(&b, "<b>%d. <a href=\"%s\">%s</a></b> · %s · %d%%\n",
		index, html.EscapeString(p.URL), html.EscapeString(name), html.EscapeString(p.Source), score)
	if p.Summary.Valid && p.Summary.String != "" {
		fmt.Fprintf(&b, "%s\n", html.EscapeString(p.Summary.String))
	}
	if p.Relevance.Valid && p.Relevance.String != "" {
		fmt.Fprintf(&b, "<i>%s</i>\n", html.EscapeString(p.Relevance.String))
	}
	if p.MatchedInterest.Valid && p.MatchedInterest.String != "" {
		fmt.Fprintf(&b, "🏷 %s\n", html.EscapeString(p.MatchedInterest.String))
	}
	return b.String()
}
