package notify

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/shineum/buildmail/internal/config"
	"github.com/shineum/buildmail/internal/email"
	"github.com/shineum/buildmail/internal/provider/smtp"
)

// recordingProvider captures messages instead of delivering them.
type recordingProvider struct {
	sent []*email.Email
	err  error
}

func (r *recordingProvider) Send(_ context.Context, msg *email.Email) error {
	r.sent = append(r.sent, msg)
	return r.err
}

func (r *recordingProvider) Name() string { return "recording" }

func newLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, nil))
}

func baseConfig() *config.Config {
	return &config.Config{
		SMTP: config.SMTPConfig{
			Server:   "smtp.example.com",
			Port:     25,
			Username: "builder@example.com",
		},
		Email: config.EmailConfig{
			Subject: "Hello",
			Body:    "World",
		},
		Recipients: []string{"a@x.com", "b@x.com"},
	}
}

func TestResolve_Defaults(t *testing.T) {
	t.Parallel()

	s := Resolve(&config.Config{})
	if s.Server != DefaultServer {
		t.Errorf("Server: got %q, want %q", s.Server, DefaultServer)
	}
	if s.Port != 587 {
		t.Errorf("Port: got %d, want 587", s.Port)
	}
	if s.Username != "" || s.Password != "" {
		t.Errorf("credentials: got %q/%q, want empty", s.Username, s.Password)
	}
	if s.Subject != "Build Notification" {
		t.Errorf("Subject: got %q", s.Subject)
	}
	if s.Body != "Build completed successfully." {
		t.Errorf("Body: got %q", s.Body)
	}
	if want := []string{""}; !reflect.DeepEqual(s.Recipients, want) {
		t.Errorf("Recipients: got %q, want %q", s.Recipients, want)
	}
}

func TestResolve_FromFallsBackToUsername(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	if got := Resolve(cfg).From; got != "builder@example.com" {
		t.Errorf("From: got %q, want username", got)
	}

	cfg.Email.From = "ci@example.com"
	if got := Resolve(cfg).From; got != "ci@example.com" {
		t.Errorf("From: got %q, want explicit address", got)
	}
}

func TestResolve_RecipientsFallBackToTo(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Recipients = nil
	cfg.Email.To = "single@example.com"
	if got := Resolve(cfg).Recipients; !reflect.DeepEqual(got, []string{"single@example.com"}) {
		t.Errorf("Recipients: got %v", got)
	}
}

func TestSend_RoundTrip(t *testing.T) {
	t.Parallel()

	rec := &recordingProvider{}
	var logs bytes.Buffer
	d := New(rec, WithLogger(newLogger(&logs)))

	result, err := d.Send(context.Background(), baseConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Provider != "recording" {
		t.Errorf("Result.Provider: got %q", result.Provider)
	}
	if len(rec.sent) != 1 {
		t.Fatalf("sent: got %d, want 1", len(rec.sent))
	}

	mr, err := mail.CreateReader(bytes.NewReader(rec.sent[0].Raw))
	if err != nil {
		t.Fatalf("failed to parse message: %v", err)
	}
	if from := mr.Header.Get("From"); from != "builder@example.com" {
		t.Errorf("From: got %q", from)
	}
	if to := mr.Header.Get("To"); to != "a@x.com, b@x.com" {
		t.Errorf("To: got %q, want %q", to, "a@x.com, b@x.com")
	}
	if subject, _ := mr.Header.Subject(); subject != "Hello" {
		t.Errorf("Subject: got %q", subject)
	}

	part, err := mr.NextPart()
	if err != nil {
		t.Fatalf("failed to read body part: %v", err)
	}
	body, _ := io.ReadAll(part.Body)
	if strings.TrimSpace(string(body)) != "World" {
		t.Errorf("Body: got %q, want %q", body, "World")
	}

	if !strings.Contains(logs.String(), "smtp.example.com:25") {
		t.Errorf("expected resolved server in logs, got %q", logs.String())
	}
}

func TestSend_Attachments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	present := filepath.Join(dir, "build.log")
	if err := os.WriteFile(present, []byte("ok"), 0o644); err != nil {
		t.Fatal(err)
	}
	second := filepath.Join(dir, "report.html")
	if err := os.WriteFile(second, []byte("<p>ok</p>"), 0o644); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "missing.zip")

	cfg := baseConfig()
	cfg.Attachments = []string{present, missing, second}

	rec := &recordingProvider{}
	var logs bytes.Buffer
	d := New(rec, WithLogger(newLogger(&logs)))

	result, err := d.Send(context.Background(), cfg)
	if err != nil {
		t.Fatalf("missing attachment must not fail the run: %v", err)
	}

	if want := []string{"build.log", "report.html"}; !reflect.DeepEqual(result.Attached, want) {
		t.Errorf("Attached: got %v, want %v", result.Attached, want)
	}
	if want := []string{missing}; !reflect.DeepEqual(result.Skipped, want) {
		t.Errorf("Skipped: got %v, want %v", result.Skipped, want)
	}

	msg := rec.sent[0]
	if len(msg.Attachments) != 2 {
		t.Fatalf("attachments: got %d, want 2", len(msg.Attachments))
	}
	for _, att := range msg.Attachments {
		if att.ContentType != email.OctetStream {
			t.Errorf("%s: content type %q", att.Filename, att.ContentType)
		}
	}

	out := logs.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, missing) {
		t.Errorf("expected warning naming %s, got %q", missing, out)
	}
	if !strings.Contains(out, "filename=build.log") {
		t.Errorf("expected attachment report, got %q", out)
	}
}

func TestSend_UnreadableAttachmentFails(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Attachments = []string{t.TempDir()}

	rec := &recordingProvider{}
	var logs bytes.Buffer
	_, err := New(rec, WithLogger(newLogger(&logs))).Send(context.Background(), cfg)

	var terr *TransmissionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransmissionError, got %v", err)
	}
	if terr.Stage != "attachment" {
		t.Errorf("Stage: got %q, want %q", terr.Stage, "attachment")
	}
	if len(rec.sent) != 0 {
		t.Errorf("provider must not be called")
	}
}

func TestSend_ProviderErrorIsTransmissionError(t *testing.T) {
	t.Parallel()

	cause := errors.New("auth: 535 authentication failed")
	rec := &recordingProvider{err: cause}
	var logs bytes.Buffer

	result, err := New(rec, WithLogger(newLogger(&logs))).Send(context.Background(), baseConfig())
	if result != nil {
		t.Errorf("expected no result on failure")
	}

	var terr *TransmissionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransmissionError, got %v", err)
	}
	if terr.Stage != "send" || !errors.Is(err, cause) {
		t.Errorf("unexpected error %v", err)
	}
	if !strings.Contains(err.Error(), "535 authentication failed") {
		t.Errorf("error should carry the cause, got %q", err)
	}
	if !strings.Contains(logs.String(), "level=ERROR") {
		t.Errorf("expected error log, got %q", logs.String())
	}
}

func TestSend_NoRecipients(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Recipients = []string{""}

	rec := &recordingProvider{}
	var logs bytes.Buffer
	_, err := New(rec, WithLogger(newLogger(&logs))).Send(context.Background(), cfg)
	if !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
	if len(rec.sent) != 0 {
		t.Errorf("provider must not be called")
	}
}

func TestSend_DKIMSigned(t *testing.T) {
	t.Parallel()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keyFile := filepath.Join(t.TempDir(), "dkim.pem")
	pemData := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(keyFile, pemData, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := baseConfig()
	cfg.DKIM = config.DKIMConfig{Selector: "ci", KeyFile: keyFile}

	signer, err := NewSigner(cfg)
	if err != nil {
		t.Fatalf("NewSigner returned error: %v", err)
	}
	if signer == nil {
		t.Fatal("expected signer")
	}

	rec := &recordingProvider{}
	var logs bytes.Buffer
	if _, err := New(rec, WithSigner(signer), WithLogger(newLogger(&logs))).Send(context.Background(), cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw := string(rec.sent[0].Raw)
	if !strings.HasPrefix(raw, "DKIM-Signature:") || !strings.Contains(raw, "d=example.com") {
		t.Errorf("expected DKIM signature for example.com, got %q", raw[:min(len(raw), 200)])
	}
}

func TestNewSigner_Disabled(t *testing.T) {
	t.Parallel()

	signer, err := NewSigner(baseConfig())
	if err != nil || signer != nil {
		t.Fatalf("expected nil signer without DKIM settings, got %v, %v", signer, err)
	}
}

func TestNewProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider string
		region   string
		want     string
		wantErr  bool
	}{
		{name: "default", provider: "", want: "smtp"},
		{name: "smtp", provider: "smtp", want: "smtp"},
		{name: "stdout", provider: "stdout", want: "stdout"},
		{name: "ses", provider: "ses", region: "us-east-1", want: "ses"},
		{name: "ses without region", provider: "ses", wantErr: true},
		{name: "unknown", provider: "carrier-pigeon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			cfg.Delivery.Provider = tt.provider
			cfg.SES = config.SESConfig{Region: tt.region, AccessKeyID: "AKIDEXAMPLE", SecretAccessKey: "secret"}

			p, err := NewProvider(context.Background(), cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Name() != tt.want {
				t.Errorf("Name(): got %q, want %q", p.Name(), tt.want)
			}
		})
	}
}

// With no [SMTP] section the run targets the default server with empty
// credentials. Against an unreachable server the failure is reported, not
// raised.
func TestSend_UnreachableServerReported(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	p, err := smtp.New(smtp.Config{Host: "127.0.0.1", Port: port, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := &config.Config{Email: config.EmailConfig{To: "ops@example.com"}}
	var logs bytes.Buffer
	_, err = New(p, WithLogger(newLogger(&logs))).Send(context.Background(), cfg)

	var terr *TransmissionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransmissionError, got %v", err)
	}
	if !strings.Contains(err.Error(), "dial") {
		t.Errorf("expected dial failure in %q", err)
	}
}
