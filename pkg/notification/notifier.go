// Package notification tells site administrators and new members about
// accounts created through Citizen OS sign-in.
package notification

import "context"

type NotificationData struct {
	To      string            // Recipient e-mail address
	Subject string            // Subject line
	Body    string            // Plain text body
	Data    map[string]string // Additional metadata, kept for logging
}

type Notifier interface {
	Send(ctx context.Context, notification NotificationData) error
}
