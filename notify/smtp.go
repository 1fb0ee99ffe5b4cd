package notify

import (
	"context"
	"fmt"
	"time"

	accounts "github.com/lungvision/go-accounts"
	"github.com/wneessen/go-mail"
)

// SMTPConfig holds the outgoing mail server settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	ReplyTo  string
	Timeout  time.Duration
}

// Sender is the part of the go-mail client the mailer uses.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPMailer renders notifications and sends them over SMTP.
type SMTPMailer struct {
	cfg      SMTPConfig
	renderer *Renderer
	sender   Sender
	logger   accounts.Logger
}

var _ accounts.Notifier = (*SMTPMailer)(nil)

// SMTPOption customizes the mailer
type SMTPOption func(*SMTPMailer)

func WithSender(s Sender) SMTPOption {
	return func(m *SMTPMailer) {
		if s != nil {
			m.sender = s
		}
	}
}

func WithSMTPLogger(logger accounts.Logger) SMTPOption {
	return func(m *SMTPMailer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithRenderer(r *Renderer) SMTPOption {
	return func(m *SMTPMailer) {
		if r != nil {
			m.renderer = r
		}
	}
}

// NewSMTPMailer creates the mailer. A go-mail client is built from cfg
// unless WithSender provides one.
func NewSMTPMailer(cfg SMTPConfig, opts ...SMTPOption) (*SMTPMailer, error) {
	m := &SMTPMailer{
		cfg:      cfg,
		renderer: NewRenderer(),
		logger:   nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	if m.cfg.From == "" {
		return nil, fmt.Errorf("smtp mailer: from address is required")
	}

	if m.sender == nil {
		client, err := newClient(cfg)
		if err != nil {
			return nil, err
		}
		m.sender = client
	}

	return m, nil
}

func newClient(cfg SMTPConfig) (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(cfg.Timeout))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return client, nil
}

// Send renders and delivers the notification.
func (m *SMTPMailer) Send(ctx context.Context, n accounts.Notification) error {
	msg, err := m.BuildMessage(n)
	if err != nil {
		return err
	}

	if err := m.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", n.To, err)
	}

	m.logger.Debug("smtp message sent", "to", n.To, "kind", n.Kind)
	return nil
}

// BuildMessage returns the multipart message for n: a plain text body with
// an HTML alternative.
func (m *SMTPMailer) BuildMessage(n accounts.Notification) (*mail.Msg, error) {
	rendered, err := m.renderer.Render(n)
	if err != nil {
		return nil, err
	}

	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(n.To); err != nil {
		return nil, fmt.Errorf("recipient address: %w", err)
	}

	replyTo := m.cfg.ReplyTo
	if replyTo == "" {
		replyTo = m.cfg.From
	}
	if err := msg.ReplyTo(replyTo); err != nil {
		return nil, fmt.Errorf("reply-to address: %w", err)
	}

	msg.Subject(rendered.Subject)
	msg.SetBodyString(mail.TypeTextPlain, rendered.Text)
	msg.AddAlternativeString(mail.TypeTextHTML, rendered.HTML)

	return msg, nil
}
