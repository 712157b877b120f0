// Package email sends plain-text notifications over SMTP.
package email

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
)

const (
	defaultPort          = 587
	defaultSubjectPrefix = "[PNRR] "
	sendTimeout          = 30 * time.Second
)

// ErrNotConfigured is returned when host or sender address are missing.
var ErrNotConfigured = errors.New("email: smtp host and from address are required")

// Config holds SMTP settings.
type Config struct {
	Host          string
	Port          int
	Username      string
	Password      string
	UseTLS        bool
	From          string
	ReplyTo       string
	SubjectPrefix string
}

// Sender implements notify.Sender.
type Sender struct {
	cfg Config
}

// NewSender validates cfg.
func NewSender(cfg Config) (*Sender, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultPort
	}
	return &Sender{cfg: cfg}, nil
}

// Send delivers one message.
func (s *Sender) Send(ctx context.Context, to, subject, body string) error {
	msg, err := s.message(to, subject, body)
	if err != nil {
		return err
	}
	client, err := mail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}

func (s *Sender) message(to, subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("to address: %w", err)
	}
	if s.cfg.ReplyTo != "" {
		if err := msg.ReplyTo(s.cfg.ReplyTo); err != nil {
			return nil, fmt.Errorf("reply-to address: %w", err)
		}
	}
	msg.Subject(s.cfg.SubjectPrefix + subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

func (s *Sender) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(sendTimeout),
	}
	if s.cfg.UseTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if s.cfg.Username != "" && s.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return opts
}

// DefaultSubjectPrefix is applied when the configuration leaves it unset.
func DefaultSubjectPrefix() string {
	return defaultSubjectPrefix
}
