package platform

import (
	"context"

	"notisched/internal/kit"
	"notisched/pkg/logx"
)

// Sender delivers a fired notification to its destination. The Local
// notifier owns the timers; the sender only handles the hand-off.
type Sender interface {
	Send(ctx context.Context, n *kit.Notification) error
}

// logSender writes fired notifications to the structured log. Useful as a
// development backend and as the fallback when no transport is configured.
type logSender struct {
	log logx.Logger
}

func NewLogSender(log logx.Logger) Sender {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &logSender{log: log}
}

func (s *logSender) Send(ctx context.Context, n *kit.Notification) error {
	s.log.Info("notification fired",
		logx.String("id", n.Identifier),
		logx.String("title", n.Title),
		logx.String("body", n.Body),
		logx.String("group", n.Group))
	return nil
}
