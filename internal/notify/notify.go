// Package notify delivers digest messages and operational alerts to Slack.
package notify

import "context"

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification is an operational alert about a digest run
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	JobID   string // Optional batch job reference
}

// Notifier sends operational alerts
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(ctx context.Context, n Notification) error { return nil }
