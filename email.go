package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultEmailSubject = "Notification"
	DefaultMessage      = "You have a new notification."
	DefaultSendTimeout  = 30 * time.Second
)

type Sender struct {
	Email string
	Name  string
}

// String formats the sender as an RFC 5322 mailbox.
func (s Sender) String() string {
	if s.Name == "" {
		return s.Email
	}

	return fmt.Sprintf("%q <%s>", s.Name, s.Email)
}

type EmailMessage struct {
	From    Sender
	To      []string
	ReplyTo string
	Subject string

	TextBody string
	HtmlBody string

	Tags []string
}

type EmailOption func(s *emailSender)

func SetEmailFrom(from Sender) EmailOption {
	return func(s *emailSender) {
		s.from = from
	}
}

func SetEmailReplyTo(replyTo string) EmailOption {
	return func(s *emailSender) {
		s.replyTo = replyTo
	}
}

func SetEmailDefaultSubject(subject string) EmailOption {
	return func(s *emailSender) {
		s.defaultSubject = subject
	}
}

func SetEmailTemplates(repo TemplateRepository) EmailOption {
	return func(s *emailSender) {
		s.templates = repo
	}
}

func SetEmailTimeout(timeout time.Duration) EmailOption {
	return func(s *emailSender) {
		s.timeout = timeout
	}
}

func SetEmailLogger(logger logrus.FieldLogger) EmailOption {
	return func(s *emailSender) {
		s.logger = logger
	}
}

type emailSender struct {
	transport EmailTransport
	templates TemplateRepository
	logger    logrus.FieldLogger

	from           Sender
	replyTo        string
	defaultSubject string
	timeout        time.Duration
}

func NewEmailSender(transport EmailTransport, options ...EmailOption) ChannelSender {
	s := &emailSender{
		transport:      transport,
		logger:         logrus.New(),
		defaultSubject: DefaultEmailSubject,
		timeout:        DefaultSendTimeout,
	}

	for _, option := range options {
		option(s)
	}

	return s
}

func (s *emailSender) Channel() Channel {
	return ChannelEmail
}

func (s *emailSender) Send(ctx context.Context, job *Job, resolve ResolveFunc) error {
	targets, err := resolve(ctx)
	if err != nil {
		return err
	}

	msg := s.compose(ctx, job)

	// one message per target so broadcast recipients never see each other
	for _, target := range targets {
		msg.To = []string{target.Address}

		if err := s.send(ctx, msg); err != nil {
			return errors.Wrapf(ChannelDispatchErr, "email transport: %v", err)
		}
	}

	return nil
}

func (s *emailSender) send(ctx context.Context, msg EmailMessage) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	return s.transport.Send(ctx, msg)
}

func (s *emailSender) compose(ctx context.Context, job *Job) EmailMessage {
	payload := job.Payload
	vars := TemplateVars(payload)

	subject := firstNonEmpty(job.Subject, payloadString(payload, "subject"), s.defaultSubject)
	htmlBody := firstNonEmpty(payloadString(payload, "html", "message"), DefaultMessage)
	textBody := firstNonEmpty(payloadString(payload, "text", "message"), DefaultMessage)

	if tpl, ok := s.template(ctx, job); ok {
		subject = firstNonEmpty(tpl.Subject, subject)
		htmlBody = firstNonEmpty(tpl.HtmlBody, htmlBody)
		textBody = firstNonEmpty(tpl.TextBody, textBody)
	}

	msg := EmailMessage{
		From:     s.from,
		ReplyTo:  s.replyTo,
		Subject:  Render(subject, vars),
		HtmlBody: Render(htmlBody, vars),
		TextBody: Render(textBody, vars),
	}

	if job.TemplateName != "" {
		msg.Tags = append(msg.Tags, job.TemplateName)
	}

	return msg
}

func (s *emailSender) template(ctx context.Context, job *Job) (Template, bool) {
	if job.TemplateName == "" || s.templates == nil {
		return Template{}, false
	}

	logger := s.logger.
		WithField("job", job.ID).
		WithField("template", job.TemplateName)

	tpl, err := s.templates.GetTemplate(ctx, job.TemplateName)
	switch {
	case err == nil && tpl.Enabled:
		return tpl, true

	case err == nil:
		logger.Warn("template disabled, rendering payload body")

	case errors.Is(err, TemplateNotFoundErr):
		logger.Warn("template missing, rendering payload body")

	default:
		logger.WithError(err).Error("failed to load template, rendering payload body")
	}

	return Template{}, false
}
