package notification

import (
	"bytes"
	"context"
	"log/slog"
	"text/template"

	"github.com/tendant/citizenos-connect/pkg/idtoken"
	"github.com/tendant/citizenos-connect/pkg/user"
)

const newAccountSubject = "New account created via Citizen OS"

var newAccountTemplate = template.Must(template.New("new-account").Parse(
	`A new account was created on {{.SiteURL}} after signing in with Citizen OS.

Username: {{.Username}}
Display name: {{.DisplayName}}
E-mail: {{.Email}}
`))

// NewAccountNotifier mails the site administrator whenever an account is
// created from a Citizen OS identity.
type NewAccountNotifier struct {
	notifier Notifier
	adminTo  string
	siteURL  string
}

func NewNewAccountNotifier(notifier Notifier, adminTo, siteURL string) *NewAccountNotifier {
	return &NewAccountNotifier{notifier: notifier, adminTo: adminTo, siteURL: siteURL}
}

// UserCreated matches the user-create hook. Failures are logged; sign-in
// never fails because of mail.
func (n *NewAccountNotifier) UserCreated(ctx context.Context, u user.User, claim idtoken.Claim) {
	if n.adminTo == "" {
		return
	}

	var body bytes.Buffer
	err := newAccountTemplate.Execute(&body, map[string]string{
		"SiteURL":     n.siteURL,
		"Username":    u.Username,
		"DisplayName": u.DisplayName,
		"Email":       u.Email,
	})
	if err != nil {
		slog.Error("Failed to render new account notice", "user", u, "err", err)
		return
	}

	err = n.notifier.Send(ctx, NotificationData{
		To:      n.adminTo,
		Subject: newAccountSubject,
		Body:    body.String(),
		Data:    map[string]string{"user_id": u.ID.String(), "subject": claim.Subject()},
	})
	if err != nil {
		slog.Error("Failed to send new account notice", "user", u, "err", err)
	}
}
