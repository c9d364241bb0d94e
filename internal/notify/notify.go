// Package notify turns a loaded configuration into one delivered email:
// it resolves defaulted fields, builds the message, attaches files, signs
// the result when DKIM is configured and hands it to a delivery provider.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shineum/buildmail/internal/config"
	"github.com/shineum/buildmail/internal/dkim"
	"github.com/shineum/buildmail/internal/email"
	"github.com/shineum/buildmail/internal/provider"
)

// Defaults applied to fields the configuration leaves empty.
const (
	DefaultServer  = "smtp.gmail.com"
	DefaultPort    = 587
	DefaultSubject = "Build Notification"
	DefaultBody    = "Build completed successfully."
)

// ErrNoRecipients is returned when every resolved recipient is empty.
var ErrNoRecipients = errors.New("no recipients configured")

// TransmissionError reports a failure while building or delivering the
// message. Stage names the step that failed.
type TransmissionError struct {
	Stage string
	Err   error
}

func (e *TransmissionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *TransmissionError) Unwrap() error {
	return e.Err
}

// Settings are the configuration values after defaults are applied.
type Settings struct {
	Server   string
	Port     int
	Username string
	Password string

	From        string
	Subject     string
	Body        string
	Recipients  []string
	Attachments []string
}

// Resolve applies the documented defaults to cfg. Missing credentials stay
// empty; the server rejects them later.
func Resolve(cfg *config.Config) Settings {
	s := Settings{
		Server:      cfg.SMTP.Server,
		Port:        cfg.SMTP.Port,
		Username:    cfg.SMTP.Username,
		Password:    cfg.SMTP.Password,
		From:        cfg.Email.From,
		Subject:     cfg.Email.Subject,
		Body:        cfg.Email.Body,
		Recipients:  config.Recipients(cfg.Recipients, cfg.Email.To),
		Attachments: cfg.Attachments,
	}
	if s.Server == "" {
		s.Server = DefaultServer
	}
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if s.From == "" {
		s.From = s.Username
	}
	if s.Subject == "" {
		s.Subject = DefaultSubject
	}
	if s.Body == "" {
		s.Body = DefaultBody
	}
	return s
}

// BuildMessage creates the message headers and plain-text body. Attachments
// are added by the Dispatcher.
func BuildMessage(s Settings) *email.Email {
	return &email.Email{
		From:      s.From,
		To:        s.Recipients,
		Subject:   s.Subject,
		TextBody:  s.Body,
		MessageID: email.NewMessageID(s.From),
		Date:      time.Now(),
	}
}

// Result summarises a successful delivery.
type Result struct {
	Provider   string
	Recipients []string
	Attached   []string
	Skipped    []string
}

// Dispatcher sends one notification per Send call.
type Dispatcher struct {
	provider provider.Provider
	signer   *dkim.Signer
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSigner enables DKIM signing of the rendered message.
func WithSigner(s *dkim.Signer) Option {
	return func(d *Dispatcher) { d.signer = s }
}

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a Dispatcher delivering through p.
func New(p provider.Provider, opts ...Option) *Dispatcher {
	d := &Dispatcher{provider: p, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send builds the message described by cfg and delivers it. Missing
// attachments are skipped with a warning; any other failure aborts the run
// and is returned as a *TransmissionError.
func (d *Dispatcher) Send(ctx context.Context, cfg *config.Config) (*Result, error) {
	s := Resolve(cfg)

	d.logger.Info("sending email",
		"provider", d.provider.Name(),
		"server", fmt.Sprintf("%s:%d", s.Server, s.Port),
		"from", s.From,
		"recipients", strings.Join(s.Recipients, ", "),
		"subject", s.Subject,
	)

	if !hasAddress(s.Recipients) {
		d.logger.Error("error sending email", "error", ErrNoRecipients)
		return nil, ErrNoRecipients
	}

	msg := BuildMessage(s)
	result := &Result{Provider: d.provider.Name(), Recipients: s.Recipients}

	for _, path := range s.Attachments {
		att, err := email.ReadAttachment(path)
		if errors.Is(err, email.ErrAttachmentMissing) {
			d.logger.Warn("attachment not found", "path", path)
			result.Skipped = append(result.Skipped, path)
			continue
		}
		if err != nil {
			return nil, d.fail("attachment", err)
		}
		msg.Attachments = append(msg.Attachments, att)
		result.Attached = append(result.Attached, att.Filename)
		d.logger.Info("attachment added", "filename", att.Filename, "bytes", len(att.Content))
	}

	raw, err := email.Compose(msg)
	if err != nil {
		return nil, d.fail("compose", err)
	}
	if d.signer != nil {
		raw, err = d.signer.Sign(raw, msg.From)
		if err != nil {
			return nil, d.fail("dkim", err)
		}
	}
	msg.Raw = raw

	if err := d.provider.Send(ctx, msg); err != nil {
		return nil, d.fail("send", err)
	}

	d.logger.Info("email sent", "provider", result.Provider, "recipients", len(s.Recipients))
	return result, nil
}

func (d *Dispatcher) fail(stage string, err error) error {
	terr := &TransmissionError{Stage: stage, Err: err}
	d.logger.Error("error sending email", "stage", stage, "error", err)
	return terr
}

func hasAddress(recipients []string) bool {
	for _, r := range recipients {
		if strings.TrimSpace(r) != "" {
			return true
		}
	}
	return false
}
