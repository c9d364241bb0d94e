package email

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// Compose renders msg as a multipart/mixed RFC 5322 message: a plain-text
// body followed by one base64 part per attachment.
func Compose(msg *Email) ([]byte, error) {
	date := msg.Date
	if date.IsZero() {
		date = time.Now()
	}
	id := msg.MessageID
	if id == "" {
		id = NewMessageID(msg.From)
	}

	var h mail.Header
	h.SetDate(date)
	h.Set("From", msg.From)
	h.Set("To", msg.ToHeader())
	h.SetSubject(msg.Subject)
	h.SetMessageID(id)
	h.Set("MIME-Version", "1.0")

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	if err := writeBody(mw, msg.TextBody); err != nil {
		return nil, err
	}

	for _, att := range msg.Attachments {
		if err := writeAttachment(mw, att); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}
	return buf.Bytes(), nil
}

func writeBody(mw *mail.Writer, body string) error {
	tw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("failed to create body part: %w", err)
	}

	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	th.Set("Content-Transfer-Encoding", "quoted-printable")

	w, err := tw.CreatePart(th)
	if err != nil {
		return fmt.Errorf("failed to create body part: %w", err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("failed to write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to write body: %w", err)
	}
	return tw.Close()
}

func writeAttachment(mw *mail.Writer, att Attachment) error {
	contentType := att.ContentType
	if contentType == "" {
		contentType = OctetStream
	}

	var ah mail.AttachmentHeader
	ah.SetContentType(contentType, nil)
	ah.SetFilename(att.Filename)
	ah.Set("Content-Transfer-Encoding", "base64")

	w, err := mw.CreateAttachment(ah)
	if err != nil {
		return fmt.Errorf("failed to create attachment part %s: %w", att.Filename, err)
	}
	if _, err := w.Write(att.Content); err != nil {
		return fmt.Errorf("failed to write attachment %s: %w", att.Filename, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to write attachment %s: %w", att.Filename, err)
	}
	return nil
}

// NewMessageID returns a unique Message-ID (without angle brackets) in the
// domain of the sender address.
func NewMessageID(from string) string {
	domain := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = strings.Trim(from[at+1:], "<> ")
	}
	return uuid.NewString() + "@" + domain
}
