package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"notisched/internal/kit"
	"notisched/pkg/logx"
)

// TelegramConfig configures the Telegram delivery backend.
type TelegramConfig struct {
	Token       string
	ChatID      int64
	ThreadID    int
	RatePerSec  int
	SendTimeout time.Duration
}

// telegramSender delivers fired notifications to a Telegram chat.
//
// Sends are rate-limited with a token bucket so bursts of simultaneous
// fires do not trip Telegram's flood control.
type telegramSender struct {
	cfg TelegramConfig
	log logx.Logger
	bot *tele.Bot
	lim *rate.Limiter
}

func NewTelegramSender(cfg TelegramConfig, log logx.Logger) (Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	// No poller: the sender only pushes messages, it never long-polls.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &telegramSender{
		cfg: cfg,
		log: log,
		bot: b,
		lim: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}, nil
}

func (s *telegramSender) Send(ctx context.Context, n *kit.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	if err := s.lim.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate wait: %w", err)
	}

	text := "*" + escapeMarkdown(n.Title) + "*\n" + escapeMarkdown(n.Body)
	opts := &tele.SendOptions{
		ParseMode:             tele.ModeMarkdownV2,
		DisableWebPagePreview: true,
		ThreadID:              s.cfg.ThreadID,
	}
	_, err := s.bot.Send(tele.ChatID(s.cfg.ChatID), text, opts)
	if err != nil {
		s.log.Warn("telegram send failed",
			logx.String("id", n.Identifier),
			logx.Int64("chat_id", s.cfg.ChatID),
			logx.Err(err))
		return err
	}
	s.log.Debug("telegram send ok", logx.String("id", n.Identifier))
	return nil
}

// escapeMarkdown protects MarkdownV2 control characters in user text.
func escapeMarkdown(s string) string {
	const special = `_*[]()~` + "`" + `>#+-=|{}.!`
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
