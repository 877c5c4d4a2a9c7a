package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackSink posts alerts through an incoming webhook.
type SlackSink struct {
	webhookURL string
	logger     *zap.Logger
}

// NewSlackSink creates a Slack sink for the given incoming webhook URL.
func NewSlackSink(webhookURL string, logger *zap.Logger) *SlackSink {
	return &SlackSink{webhookURL: webhookURL, logger: logger}
}

func (s *SlackSink) Platform() string { return "slack" }

// Send posts msg with the title in bold.
func (s *SlackSink) Send(ctx context.Context, msg *Message) error {
	text := fmt.Sprintf("*[%s] %s*", msg.Type, msg.Title)
	if msg.Content != "" {
		text += "\n" + msg.Content
	}
	if err := slack.PostWebhookContext(ctx, s.webhookURL, &slack.WebhookMessage{Text: text}); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}

func (s *SlackSink) Close() error { return nil }
