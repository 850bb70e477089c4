package mailgun

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mailgun/mailgun-go/v3"
	"github.com/stretchr/testify/assert"

	"github.com/interactive-solutions/go-notify"
)

func TestMailgunTransportSendsForm(t *testing.T) {
	var subject, html string
	var to []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = r.FormValue("subject")
		html = r.FormValue("html")
		to = r.Form["to"]

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"<1@example.com>","message":"Queued. Thank you."}`))
	}))
	defer srv.Close()

	mg := mailgun.NewMailgun("example.com", "key")
	mg.SetAPIBase(srv.URL + "/v3")

	err := NewMailgunTransport(mg).Send(context.Background(), notify.EmailMessage{
		From:     notify.Sender{Email: "noreply@example.com"},
		To:       []string{"a@example.com"},
		Subject:  "Hello",
		TextBody: "text",
		HtmlBody: "<p>html</p>",
	})
	if !assert.NoError(t, err) {
		return
	}

	assert.Equal(t, "Hello", subject)
	assert.Equal(t, "<p>html</p>", html)
	assert.Equal(t, []string{"a@example.com"}, to)
}
