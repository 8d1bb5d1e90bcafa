package google

import (
	"context"
	"fmt"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/harrisonrobin/clockwatch/pkg/auth"
)

// Scopes are the Google API scopes clockwatch asks for.
var Scopes = []string{gmail.GmailSendScope}

// NewGmailService builds an authorized Gmail service. With interactive set
// and no stored token, the browser flow is started.
func NewGmailService(ctx context.Context, interactive bool) (*gmail.Service, error) {
	client, err := auth.GetClient(ctx, Scopes, interactive)
	if err != nil {
		return nil, err
	}
	srv, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return srv, nil
}

// NewClient creates a Gmail sink sending as from, using the stored token.
func NewClient(ctx context.Context, from string) (*GmailSink, error) {
	srv, err := NewGmailService(ctx, false)
	if err != nil {
		return nil, err
	}
	return NewGmailSink(srv, from), nil
}
