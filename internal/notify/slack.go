package notify

import (
	"context"
	"errors"
	"net/http"
)

// SlackSender posts to a Slack incoming webhook. Channel overrides the
// webhook's default channel when set.
type SlackSender struct {
	WebhookURL string
	Channel    string
	Client     *http.Client
}

type slackMessage struct {
	Text    string `json:"text"`
	Channel string `json:"channel,omitempty"`
}

func (s *SlackSender) Name() string { return "slack" }

func (s *SlackSender) Send(ctx context.Context, message string) error {
	if s.WebhookURL == "" {
		return errors.New("slack webhook url is not configured")
	}
	return postJSON(ctx, s.Client, s.WebhookURL, slackMessage{Text: message, Channel: s.Channel})
}
