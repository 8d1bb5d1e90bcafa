// Package slack delivers notifications as Slack direct messages.
package slack

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// Sink posts to a Slack user or channel ID.
type Sink struct {
	api *slack.Client
}

// NewSink creates a Sink using a bot token. Options are passed through to the
// Slack client, mostly so tests can point it at a local server.
func NewSink(token string, opts ...slack.Option) *Sink {
	return &Sink{api: slack.New(token, opts...)}
}

func (s *Sink) Send(ctx context.Context, identity, text string) error {
	_, _, err := s.api.PostMessageContext(ctx, identity,
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
		slack.MsgOptionDisableMediaUnfurl(),
	)
	if err != nil {
		return fmt.Errorf("slack post to %s: %w", identity, err)
	}
	return nil
}
