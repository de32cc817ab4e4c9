package emailsvc

import (
	"fmt"
	"net/http"
	"net/mail"

	"github.com/pkg/errors"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/emsu/emsu/core"
)

// sendgridService delivers mail through the SendGrid v3 send API.
type sendgridService struct {
	conf   *core.Config
	client *sendgrid.Client
	sender *sgmail.Email
	tag    string
	logger core.Logger
}

var _ core.EmailService = (*sendgridService)(nil)

func NewSendgridService(conf *core.Config, logger core.Logger) core.EmailService {
	from := conf.DefaultFromEmail()
	return &sendgridService{
		conf:   conf,
		client: sendgrid.NewSendClient(conf.SendgridApiKey),
		sender: toSG(from),
		tag:    fmt.Sprintf("[%s] ", conf.AppName),
		logger: logger,
	}
}

// SendMessages delivers each message on its own goroutine; failures are logged.
func (svc *sendgridService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		go func(msg *core.EmailMessage) {
			if err := svc.deliver(msg); err != nil {
				svc.logger.Error(fmt.Sprintf("sendgrid: %v", err), err)
			}
		}(msg)
	}
}

func (svc *sendgridService) deliver(msg *core.EmailMessage) error {
	if err := msg.Render(svc.conf); err != nil {
		return errors.Wrap(err, "rendering email")
	}
	if !msg.HasRecipients() || !msg.HasContent() {
		return nil
	}
	res, err := svc.client.Send(svc.prepare(*msg))
	if err != nil {
		return errors.Wrapf(err, "sending %q", msg.Subject)
	}
	return checkStatus(res.StatusCode, res.Body)
}

// prepare builds a single-personalization v3 payload for msg.
func (svc *sendgridService) prepare(msg core.EmailMessage) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = svc.tag + msg.Subject
	p.AddTos(toSGList(msg.To)...)
	p.AddCCs(toSGList(msg.Cc)...)
	p.AddBCCs(toSGList(msg.Bcc)...)

	contents := []*sgmail.Content{sgmail.NewContent("text/plain", msg.TextContent)}
	if msg.HTMLContent != "" {
		contents = append(contents, sgmail.NewContent("text/html", msg.HTMLContent))
	}
	return sgmail.NewV3Mail().
		SetFrom(svc.sender).
		AddPersonalizations(p).
		AddContent(contents...)
}

func toSG(addr mail.Address) *sgmail.Email {
	return sgmail.NewEmail(addr.Name, addr.Address)
}

func toSGList(addrs []mail.Address) []*sgmail.Email {
	emails := make([]*sgmail.Email, 0, len(addrs))
	for _, addr := range addrs {
		emails = append(emails, toSG(addr))
	}
	return emails
}

// checkStatus turns a non-2xx API answer into an error.
func checkStatus(code int, body string) error {
	if code >= http.StatusOK && code < http.StatusMultipleChoices {
		return nil
	}
	return errors.Errorf("unexpected status %d: %s", code, body)
}

// NewService picks sendgrid when an API key is configured, the console otherwise.
func NewService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.SendgridApiKey != "" && !conf.TestMode {
		return NewSendgridService(conf, logger)
	}
	return NewConsoleService(conf, logger)
}
