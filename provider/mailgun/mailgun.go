package mailgun

import (
	"context"

	"github.com/mailgun/mailgun-go/v3"
	"github.com/pkg/errors"

	"github.com/interactive-solutions/go-notify"
)

type mailgunTransport struct {
	mg mailgun.Mailgun
}

func NewMailgunTransport(mailgunClient mailgun.Mailgun) notify.EmailTransport {
	return &mailgunTransport{
		mg: mailgunClient,
	}
}

func (t *mailgunTransport) Send(ctx context.Context, msg notify.EmailMessage) error {
	if len(msg.To) == 0 {
		return errors.New("no recipients")
	}

	m := t.mg.NewMessage(msg.From.String(), msg.Subject, msg.TextBody, msg.To...)
	m.SetHtml(msg.HtmlBody)

	if len(msg.Tags) > 0 {
		if err := m.AddTag(msg.Tags...); err != nil {
			return errors.Wrap(err, "Failed to add tags")
		}
	}

	if msg.ReplyTo != "" {
		m.SetReplyTo(msg.ReplyTo)
	}

	_, _, err := t.mg.Send(ctx, m)
	return errors.Wrap(err, "Failed to send message")
}
