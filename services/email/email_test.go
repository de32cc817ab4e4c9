package emailsvc

import (
	"net/mail"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emsu/emsu/core"
	testutil "github.com/emsu/emsu/tests"
)

func TestConsoleServiceMock_SendMessages(t *testing.T) {
	conf := core.NewTestConfig()
	mailer := NewConsoleServiceMock(conf, new(testutil.Logger))
	to := []mail.Address{{Name: "Jane", Address: "jane@example.com"}}

	mailer.SendMessages(
		&core.EmailMessage{Subject: "no recipients", BodyStr: "hello"},
		&core.EmailMessage{To: to, Subject: "no content"},
		&core.EmailMessage{To: to, Subject: "unknown template", TemplateName: "nope"},
		&core.EmailMessage{To: to, Subject: "Hi", BodyStr: "hello"},
	)

	sent := mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Hi", sent[0].Subject)
	assert.Equal(t, "hello", sent[0].TextContent)

	mailer.Reset()
	assert.Empty(t, mailer.Sent())
}

func TestConsoleService_send(t *testing.T) {
	conf := core.NewTestConfig()
	logger := new(testutil.Logger)
	svc := NewConsoleService(conf, logger).(*consoleService)

	err := svc.send(core.EmailMessage{
		To:          []mail.Address{{Name: "Jane", Address: "jane@example.com"}, {Address: "joe@example.com"}},
		Subject:     "Hi",
		TextContent: "plain body",
		HTMLContent: "<p>html body</p>",
	})
	require.NoError(t, err)
	require.Len(t, logger.Entries, 1)

	out := logger.Entries[0].Msg
	for _, want := range []string{
		"Subject: [" + conf.AppName + "] Hi\r\n",
		"To: \"Jane\" <jane@example.com>, <joe@example.com>\r\n",
		"Content-Type: text/plain",
		"plain body",
		"Content-Type: text/html",
		"<p>html body</p>",
	} {
		assert.True(t, strings.Contains(out, want), "missing %q in %s", want, out)
	}
}

func TestSendgridService_prepare(t *testing.T) {
	conf := core.NewTestConfig()
	svc := NewSendgridService(conf, new(testutil.Logger)).(*sendgridService)

	m := svc.prepare(core.EmailMessage{
		To:          []mail.Address{{Name: "Jane", Address: "jane@example.com"}},
		Bcc:         []mail.Address{{Address: "audit@example.com"}},
		Subject:     "Hi",
		TextContent: "plain body",
	})

	require.Len(t, m.Personalizations, 1)
	p := m.Personalizations[0]
	assert.Equal(t, "["+conf.AppName+"] Hi", p.Subject)
	require.Len(t, p.To, 1)
	assert.Equal(t, "jane@example.com", p.To[0].Address)
	require.Len(t, p.BCC, 1)
	assert.Equal(t, "audit@example.com", p.BCC[0].Address)
	assert.Empty(t, p.CC)

	require.Len(t, m.Content, 1)
	assert.Equal(t, "text/plain", m.Content[0].Type)
	assert.Equal(t, "plain body", m.Content[0].Value)
	assert.Equal(t, conf.DefaultFromEmail().Address, m.From.Address)
}

func Test_checkStatus(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		wantErr bool
	}{
		{name: "accepted", code: 202},
		{name: "ok", code: 200},
		{name: "bad request", code: 400, wantErr: true},
		{name: "server error", code: 503, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkStatus(tt.code, `{"errors":[]}`)
			if tt.wantErr {
				assert.ErrorContains(t, err, "unexpected status")
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSendgridService_deliver_noRecipients(t *testing.T) {
	conf := core.NewTestConfig()
	svc := NewSendgridService(conf, new(testutil.Logger)).(*sendgridService)

	// nothing to send, so the API is never reached
	assert.NoError(t, svc.deliver(&core.EmailMessage{Subject: "Hi", TextContent: "body"}))
}

func TestNewService(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		testMode bool
		want     core.EmailService
	}{
		{name: "no key", want: &consoleService{}},
		{name: "test mode", key: "SG.key", testMode: true, want: &consoleService{}},
		{name: "sendgrid", key: "SG.key", want: &sendgridService{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := core.NewTestConfig()
			conf.SendgridApiKey = tt.key
			conf.TestMode = tt.testMode
			assert.IsType(t, tt.want, NewService(conf, new(testutil.Logger)))
		})
	}
}
