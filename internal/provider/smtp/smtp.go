// Package smtp implements a Provider that submits messages to an SMTP server
// over a STARTTLS-upgraded connection with PLAIN authentication.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/buildmail/internal/email"
	smtptls "github.com/shineum/buildmail/internal/tls"
)

// Config holds the submission settings for a Provider.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// Timeout bounds the whole session, from dial to QUIT. Zero disables it.
	Timeout time.Duration

	// CAFile adds PEM roots used to verify the server certificate.
	CAFile string
}

// Provider submits messages to a single SMTP server.
type Provider struct {
	addr      string
	username  string
	password  string
	timeout   time.Duration
	tlsConfig *tls.Config
}

// New creates a Provider for the given server.
func New(cfg Config) (*Provider, error) {
	tlsConfig, err := smtptls.ClientConfig(cfg.Host, cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to build TLS config: %w", err)
	}
	return &Provider{
		addr:      net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		username:  cfg.Username,
		password:  cfg.Password,
		timeout:   cfg.Timeout,
		tlsConfig: tlsConfig,
	}, nil
}

// Send opens one session, upgrades it with STARTTLS, authenticates and
// submits msg to every address in msg.To. The connection is closed on
// every return path.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	raw, err := msg.Render()
	if err != nil {
		return fmt.Errorf("compose: %w", err)
	}
	from, rcpts, err := envelope(msg)
	if err != nil {
		return err
	}

	dialer := &net.Dialer{Timeout: p.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Unblock pending reads and writes if the caller gives up.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if p.timeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(p.timeout)); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}
	}

	client, err := gosmtp.NewClientStartTLS(conn, p.tlsConfig)
	if err != nil {
		return fmt.Errorf("starttls: %w", err)
	}
	defer client.Close()

	slog.Debug("smtp session established", "addr", p.addr)

	if err := client.Auth(sasl.NewPlainClient("", p.username, p.password)); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := client.Mail(from, nil); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := client.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("rcpt to %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data start: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("data write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("data close: %w", err)
	}

	// The message is accepted once DATA completes; some servers drop the
	// connection before answering QUIT.
	if err := client.Quit(); err != nil {
		slog.Debug("smtp quit failed", "addr", p.addr, "error", err)
	}
	return nil
}

// envelope extracts the bare addresses for MAIL FROM and RCPT TO. Header
// values such as "Build Bot <ci@example.com>" keep their display names in
// the message itself. An empty From yields the null reverse-path.
func envelope(msg *email.Email) (string, []string, error) {
	var from string
	if strings.TrimSpace(msg.From) != "" {
		addr, err := mail.ParseAddress(msg.From)
		if err != nil {
			return "", nil, fmt.Errorf("mail from: invalid address %q: %w", msg.From, err)
		}
		from = addr.Address
	}

	rcpts := make([]string, 0, len(msg.To))
	for _, to := range msg.To {
		if strings.TrimSpace(to) == "" {
			continue
		}
		list, err := mail.ParseAddressList(to)
		if err != nil {
			return "", nil, fmt.Errorf("rcpt to: invalid address %q: %w", to, err)
		}
		for _, addr := range list {
			rcpts = append(rcpts, addr.Address)
		}
	}
	if len(rcpts) == 0 {
		return "", nil, fmt.Errorf("rcpt to: no recipients")
	}
	return from, rcpts, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}
