package notify

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

type captureTransport struct {
	sent []EmailMessage
	err  error
}

func (t *captureTransport) Send(ctx context.Context, msg EmailMessage) error {
	t.sent = append(t.sent, msg)
	return t.err
}

type templateMap map[string]Template

func (m templateMap) GetTemplate(ctx context.Context, name string) (Template, error) {
	tpl, ok := m[name]
	if !ok {
		return Template{}, TemplateNotFoundErr
	}

	return tpl, nil
}

func (m templateMap) SaveTemplate(ctx context.Context, template *Template) error {
	m[template.Name] = *template
	return nil
}

func resolveTo(addresses ...string) ResolveFunc {
	return func(ctx context.Context) ([]Target, error) {
		targets := make([]Target, 0, len(addresses))
		for _, address := range addresses {
			targets = append(targets, Target{Address: address})
		}

		return targets, nil
	}
}

func TestRender(t *testing.T) {
	vars := map[string]interface{}{"name": "Ada", "count": 3.0}

	assert.Equal(t, "Hi Ada, you have 3 tasks", Render("Hi {{name}}, you have {{ count }} tasks", vars))
	assert.Equal(t, "Hi {{unknown}}", Render("Hi {{unknown}}", vars))
	assert.Equal(t, "Hi {{name}}", Render("Hi {{name}}", nil))
}

func TestTemplateVarsOverlayTemplateData(t *testing.T) {
	vars := TemplateVars(map[string]interface{}{
		"name":     "payload",
		"metadata": map[string]interface{}{"ignored": true},
		"templateData": map[string]interface{}{
			"name": "templateData",
			"link": "https://example.com",
		},
	})

	assert.Equal(t, "templateData", vars["name"])
	assert.Equal(t, "https://example.com", vars["link"])
	assert.NotContains(t, vars, "metadata")
}

func TestSenderString(t *testing.T) {
	assert.Equal(t, "noreply@example.com", Sender{Email: "noreply@example.com"}.String())
	assert.Equal(t, `"Acme Support" <noreply@example.com>`, Sender{Email: "noreply@example.com", Name: "Acme Support"}.String())
}

func TestEmailComposeFromPayload(t *testing.T) {
	transport := &captureTransport{}
	sender := NewEmailSender(transport,
		SetEmailFrom(Sender{Email: "noreply@example.com"}),
		SetEmailReplyTo("support@example.com"),
	)

	job := &Job{
		Channel: ChannelEmail,
		Payload: map[string]interface{}{
			"subject":      "Welcome {{name}}",
			"message":      "Hello {{name}}",
			"templateData": map[string]interface{}{"name": "Ada"},
		},
	}

	assert.NoError(t, sender.Send(context.Background(), job, resolveTo("a@b.com", "c@d.com")))

	want := []EmailMessage{
		{
			From:     Sender{Email: "noreply@example.com"},
			To:       []string{"a@b.com"},
			ReplyTo:  "support@example.com",
			Subject:  "Welcome Ada",
			TextBody: "Hello Ada",
			HtmlBody: "Hello Ada",
		},
		{
			From:     Sender{Email: "noreply@example.com"},
			To:       []string{"c@d.com"},
			ReplyTo:  "support@example.com",
			Subject:  "Welcome Ada",
			TextBody: "Hello Ada",
			HtmlBody: "Hello Ada",
		},
	}

	if diff := cmp.Diff(want, transport.sent); diff != "" {
		t.Errorf("unexpected message (-want +got):\n%s", diff)
	}
}

func TestEmailDefaultsAndSubjectPrecedence(t *testing.T) {
	transport := &captureTransport{}
	sender := NewEmailSender(transport)

	job := &Job{Channel: ChannelEmail, Payload: map[string]interface{}{}}
	assert.NoError(t, sender.Send(context.Background(), job, resolveTo("a@b.com")))

	job = &Job{Channel: ChannelEmail, Subject: "From job", Payload: map[string]interface{}{"subject": "From payload"}}
	assert.NoError(t, sender.Send(context.Background(), job, resolveTo("a@b.com")))

	if assert.Len(t, transport.sent, 2) {
		assert.Equal(t, DefaultEmailSubject, transport.sent[0].Subject)
		assert.Equal(t, DefaultMessage, transport.sent[0].TextBody)
		assert.Equal(t, "From job", transport.sent[1].Subject)
	}
}

func TestEmailTemplates(t *testing.T) {
	logger, hook := test.NewNullLogger()
	templates := templateMap{
		"welcome": {Name: "welcome", Enabled: true, Subject: "Welcome {{name}}", HtmlBody: "<p>{{name}}</p>"},
		"retired": {Name: "retired", Enabled: false, Subject: "Old subject"},
	}

	transport := &captureTransport{}
	sender := NewEmailSender(transport, SetEmailTemplates(templates), SetEmailLogger(logger))

	payload := map[string]interface{}{"subject": "Payload subject", "message": "Payload body", "name": "Ada"}

	for _, name := range []string{"welcome", "retired", "missing"} {
		job := &Job{Channel: ChannelEmail, TemplateName: name, Payload: payload}
		assert.NoError(t, sender.Send(context.Background(), job, resolveTo("a@b.com")))
	}

	if !assert.Len(t, transport.sent, 3) {
		return
	}

	assert.Equal(t, "Welcome Ada", transport.sent[0].Subject)
	assert.Equal(t, "<p>Ada</p>", transport.sent[0].HtmlBody)
	assert.Equal(t, "Payload body", transport.sent[0].TextBody)
	assert.Equal(t, []string{"welcome"}, transport.sent[0].Tags)

	assert.Equal(t, "Payload subject", transport.sent[1].Subject)
	assert.Equal(t, "Payload subject", transport.sent[2].Subject)
	assert.Len(t, hook.AllEntries(), 2)
}

func TestEmailBroadcastSendsOneMessagePerTarget(t *testing.T) {
	transport := &captureTransport{}
	sender := NewEmailSender(transport)

	job := &Job{Channel: ChannelEmail, Recipient: AdminBroadcast{}, Payload: map[string]interface{}{"message": "deploy finished"}}
	assert.NoError(t, sender.Send(context.Background(), job, resolveTo("one@example.com", "two@example.com", "three@example.com")))

	if assert.Len(t, transport.sent, 3) {
		for i, want := range []string{"one@example.com", "two@example.com", "three@example.com"} {
			assert.Equal(t, []string{want}, transport.sent[i].To)
			assert.Equal(t, "deploy finished", transport.sent[i].TextBody)
		}
	}
}

func TestEmailTransportErrorIsDispatchFailure(t *testing.T) {
	transport := &captureTransport{err: errors.New("503 service unavailable")}
	sender := NewEmailSender(transport)

	err := sender.Send(context.Background(), &Job{Payload: map[string]interface{}{}}, resolveTo("a@b.com"))
	assert.ErrorIs(t, err, ChannelDispatchErr)
	assert.Contains(t, err.Error(), "503 service unavailable")
	assert.Equal(t, FailureTransient, ClassifyFailure(err))
}
