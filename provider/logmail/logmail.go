// Package logmail is an email transport that only logs what it would send.
// It backs development setups without provider credentials.
package logmail

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/interactive-solutions/go-notify"
)

type logTransport struct {
	logger logrus.FieldLogger
}

func NewLogTransport(logger logrus.FieldLogger) notify.EmailTransport {
	return &logTransport{logger: logger}
}

func (t *logTransport) Send(ctx context.Context, msg notify.EmailMessage) error {
	t.logger.
		WithField("from", msg.From.String()).
		WithField("to", strings.Join(msg.To, ",")).
		WithField("subject", msg.Subject).
		WithField("tags", msg.Tags).
		Info("email delivered to log")

	t.logger.Debug(msg.TextBody)

	return nil
}
