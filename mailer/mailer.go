package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"

	mail "github.com/wneessen/go-mail"
)

type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Settings describe one teacher's outgoing mail account. Password is the
// resolved secret and must not be persisted.
type Settings struct {
	Server   string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

func (s Settings) Validate() error {
	var errs []error
	if s.Server == "" {
		errs = append(errs, errors.New("smtp server is required"))
	}
	if s.Port <= 0 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("smtp port out of range: %d", s.Port))
	}
	if s.Username == "" {
		errs = append(errs, errors.New("smtp username is required"))
	}
	if s.Password == "" {
		errs = append(errs, errors.New("smtp password is required"))
	}
	return errors.Join(errs...)
}

// Transport delivers a single message. Send must honour ctx cancellation.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Factory builds a Transport for one account.
type Factory func(Settings) (Transport, error)

// SMTP sends mail through an authenticated SMTP server, using implicit TLS on
// port 465 and mandatory STARTTLS elsewhere.
type SMTP struct {
	client *mail.Client
	from   string
}

func NewSMTP(s Settings) (Transport, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	opts := []mail.Option{
		mail.WithPort(s.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(s.Username),
		mail.WithPassword(s.Password),
	}
	if s.Port == 465 {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	if s.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(s.Timeout))
	}

	client, err := mail.NewClient(s.Server, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return &SMTP{client: client, from: s.Username}, nil
}

func (t *SMTP) Send(ctx context.Context, msg Message) error {
	m := mail.NewMsg()

	from := msg.From
	if from == "" {
		from = t.from
	}
	if err := m.From(from); err != nil {
		return fmt.Errorf("invalid sender %q: %w", from, err)
	}
	if err := m.To(msg.To); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetMessageID()
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	if err := t.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	return nil
}

// Verify connects and authenticates without sending anything.
func Verify(ctx context.Context, s Settings) error {
	tr, err := NewSMTP(s)
	if err != nil {
		return err
	}
	client := tr.(*SMTP).client
	if err := client.DialWithContext(ctx); err != nil {
		return fmt.Errorf("connect to %s:%d: %w", s.Server, s.Port, err)
	}
	return client.Close()
}
