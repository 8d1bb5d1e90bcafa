// Package google delivers notifications as e-mail through the Gmail API.
package google

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"strings"

	"google.golang.org/api/gmail/v1"
)

const defaultSubject = "clockwatch reminder"

// GmailSink mails each message to the notification identity, which must be
// an e-mail address.
type GmailSink struct {
	srv  *gmail.Service
	from string
}

func NewGmailSink(srv *gmail.Service, from string) *GmailSink {
	return &GmailSink{srv: srv, from: from}
}

func (s *GmailSink) Send(ctx context.Context, identity, text string) error {
	raw := buildMessage(s.from, identity, subjectOf(text), text)
	msg := &gmail.Message{Raw: base64.URLEncoding.EncodeToString([]byte(raw))}
	if _, err := s.srv.Users.Messages.Send("me", msg).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gmail send to %s: %w", identity, err)
	}
	return nil
}

// subjectOf uses the first line of the message without Slack emphasis.
func subjectOf(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	line = strings.TrimSpace(strings.ReplaceAll(line, "*", ""))
	if line == "" {
		return defaultSubject
	}
	return line
}

func buildMessage(from, to, subject, body string) string {
	var b strings.Builder
	if from != "" {
		fmt.Fprintf(&b, "From: %s\r\n", from)
	}
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.String()
}
