// Package notify sends transactional e-mail after payment.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/wneessen/go-mail"
)

// Mailer delivers confirmation messages.
type Mailer interface {
	SendConfirmation(ctx context.Context, msg Confirmation) error
}

// Confirmation is sent once per paid record. DownloadURL is a long-lived
// token link; when it could not be minted, ResultURL points the payer back to
// the result page instead.
type Confirmation struct {
	To          string
	RecordID    string
	DownloadURL string
	ResultURL   string
	ExpiresAt   time.Time
}

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`Thank you for your purchase.

Your ID photo (order {{.RecordID}}) is ready.
{{if .DownloadURL}}
Download it here:
{{.DownloadURL}}

The link is valid until {{.ExpiresAt.Format "2006-01-02 15:04 MST"}}.
{{else}}
Your download is still being prepared. You can get it from the result page:
{{.ResultURL}}
{{end}}
`))

const confirmationSubject = "Your ID photo is ready"

type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPOptions configures the SMTP relay. Empty User disables SMTP AUTH.
type SMTPOptions struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// SMTPMailer sends mail through an SMTP relay with go-mail.
type SMTPMailer struct {
	from   string
	sender sender
}

func NewSMTPMailer(o SMTPOptions) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithPort(o.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if o.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(o.User),
			mail.WithPassword(o.Password),
		)
	}

	c, err := mail.NewClient(o.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client init error: %w", err)
	}
	return &SMTPMailer{from: o.From, sender: c}, nil
}

func (m *SMTPMailer) SendConfirmation(ctx context.Context, c Confirmation) error {
	msg, err := buildConfirmation(m.from, c)
	if err != nil {
		return err
	}
	if err := m.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

func buildConfirmation(from string, c Confirmation) (*mail.Msg, error) {
	msg := mail.NewMsg(mail.WithEncoding(mail.NoEncoding))
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(c.To); err != nil {
		return nil, fmt.Errorf("invalid to address: %w", err)
	}
	msg.Subject(confirmationSubject)

	var body bytes.Buffer
	if err := confirmationTmpl.Execute(&body, c); err != nil {
		return nil, fmt.Errorf("failed to render mail: %w", err)
	}
	msg.SetBodyString(mail.TypeTextPlain, body.String())
	return msg, nil
}

// NopMailer is used when no SMTP relay is configured.
type NopMailer struct{}

func (NopMailer) SendConfirmation(context.Context, Confirmation) error { return nil }
