package notify

import (
	"context"

	"github.com/slack-go/slack"
)

// SlackNotifier sends operational alerts to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
}

// NewSlackNotifier creates a new Slack notifier
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{webhookURL: webhookURL}
}

// SlackColor returns the Slack color for a notification type
func SlackColor(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "good"
	case NotifyWarning:
		return "warning"
	case NotifyError:
		return "danger"
	default:
		return "#439FE0"
	}
}

// Message builds the webhook payload for n
func (s *SlackNotifier) Message(n Notification) *slack.WebhookMessage {
	att := slack.Attachment{
		Color:  SlackColor(n.Type),
		Text:   n.Message,
		Footer: "issue-digest",
	}
	if n.JobID != "" {
		att.Title = n.JobID
	}
	return &slack.WebhookMessage{
		Text:        n.Title,
		Attachments: []slack.Attachment{att},
	}
}

// Send sends a notification to Slack
func (s *SlackNotifier) Send(ctx context.Context, n Notification) error {
	if s.webhookURL == "" {
		return nil // Disabled
	}
	return slack.PostWebhookContext(ctx, s.webhookURL, s.Message(n))
}
