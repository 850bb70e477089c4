package provider

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/aws/aws-sdk-go/service/ses/sesiface"
	"github.com/pkg/errors"

	"github.com/interactive-solutions/go-notify"
)

type sesTransport struct {
	ses sesiface.SESAPI

	charset string
}

func NewSesTransport(sess *session.Session) notify.EmailTransport {
	return NewSesTransportWithClient(ses.New(sess))
}

func NewSesTransportWithClient(client sesiface.SESAPI) notify.EmailTransport {
	return &sesTransport{
		ses:     client,
		charset: "UTF-8",
	}
}

func (transport *sesTransport) Send(ctx context.Context, msg notify.EmailMessage) error {
	if len(msg.To) == 0 {
		return errors.New("no recipients")
	}

	body := &ses.Body{
		Text: &ses.Content{
			Charset: aws.String(transport.charset),
			Data:    aws.String(msg.TextBody),
		},
	}

	if msg.HtmlBody != "" {
		body.Html = &ses.Content{
			Charset: aws.String(transport.charset),
			Data:    aws.String(msg.HtmlBody),
		}
	}

	input := &ses.SendEmailInput{
		Destination: &ses.Destination{
			ToAddresses: aws.StringSlice(msg.To),
		},
		Message: &ses.Message{
			Body: body,
			Subject: &ses.Content{
				Charset: aws.String(transport.charset),
				Data:    aws.String(msg.Subject),
			},
		},

		Source: aws.String(msg.From.String()),
	}

	if msg.ReplyTo != "" {
		input.ReplyToAddresses = aws.StringSlice([]string{msg.ReplyTo})
	}

	if len(msg.Tags) > 0 {
		input.Tags = []*ses.MessageTag{{
			Name:  aws.String("template"),
			Value: aws.String(msg.Tags[0]),
		}}
	}

	_, err := transport.ses.SendEmailWithContext(ctx, input)
	return errors.Wrap(err, "Failed to send email through SES")
}
