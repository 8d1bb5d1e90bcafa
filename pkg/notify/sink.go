package notify

import (
	"context"

	"github.com/harrisonrobin/clockwatch/pkg/logger"
)

// LogSink writes messages to the logger instead of delivering them.
type LogSink struct{}

func (LogSink) Send(ctx context.Context, identity, text string) error {
	logger.FromContext(ctx).Info("dry run: message not sent", "to", identity, "text", text)
	return nil
}
