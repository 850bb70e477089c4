// Package sendgrid delivers email through the SendGrid v3 mail send API.
package sendgrid

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/interactive-solutions/go-notify"
)

const DefaultEndpoint = "https://api.sendgrid.com/v3/mail/send"

type SendgridOption func(t *sendgridTransport)

func SetEndpoint(endpoint string) SendgridOption {
	return func(t *sendgridTransport) {
		t.endpoint = endpoint
	}
}

// SetRetryMax bounds the in-request retries on 5xx and connection errors.
func SetRetryMax(n int) SendgridOption {
	return func(t *sendgridTransport) {
		t.client.RetryMax = n
	}
}

func SetLogger(logger logrus.FieldLogger) SendgridOption {
	return func(t *sendgridTransport) {
		t.client.Logger = retryLogger{logger}
	}
}

type sendgridTransport struct {
	client *retryablehttp.Client

	endpoint string
	apiKey   string
}

func NewSendgridTransport(apiKey string, options ...SendgridOption) notify.EmailTransport {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil

	t := &sendgridTransport{
		client:   client,
		endpoint: DefaultEndpoint,
		apiKey:   apiKey,
	}

	for _, option := range options {
		option(t)
	}

	return t
}

type address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type personalization struct {
	To []address `json:"to"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type mailRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             address           `json:"from"`
	ReplyTo          *address          `json:"reply_to,omitempty"`
	Subject          string            `json:"subject"`
	Content          []content         `json:"content"`
	Categories       []string          `json:"categories,omitempty"`
}

func newMailRequest(msg notify.EmailMessage) mailRequest {
	to := make([]address, 0, len(msg.To))
	for _, email := range msg.To {
		to = append(to, address{Email: email})
	}

	req := mailRequest{
		Personalizations: []personalization{{To: to}},
		From:             address{Email: msg.From.Email, Name: msg.From.Name},
		Subject:          msg.Subject,
		Categories:       msg.Tags,
	}

	if msg.ReplyTo != "" {
		req.ReplyTo = &address{Email: msg.ReplyTo}
	}

	// text/plain must precede text/html
	if msg.TextBody != "" {
		req.Content = append(req.Content, content{Type: "text/plain", Value: msg.TextBody})
	}

	if msg.HtmlBody != "" {
		req.Content = append(req.Content, content{Type: "text/html", Value: msg.HtmlBody})
	}

	return req
}

func (t *sendgridTransport) Send(ctx context.Context, msg notify.EmailMessage) error {
	if len(msg.To) == 0 {
		return errors.New("no recipients")
	}

	body, err := json.Marshal(newMailRequest(msg))
	if err != nil {
		return errors.Wrap(err, "Failed to encode sendgrid request")
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req = req.WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", notify.UserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "Failed to reach sendgrid")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 || resp.StatusCode <= 199 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Errorf("Unexpected response code %d received from sendgrid: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	return nil
}

// retryLogger routes retryablehttp's leveled output through logrus.
type retryLogger struct {
	logger logrus.FieldLogger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Error(msg)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Info(msg)
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Debug(msg)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Warn(msg)
}

func (l retryLogger) with(keysAndValues []interface{}) logrus.FieldLogger {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}

	return l.logger.WithFields(fields)
}
