// Package email defines the outgoing message model, resolves file
// attachments and renders the message as RFC 5322 bytes.
package email

import (
	"strings"
	"time"
)

// OctetStream is the content type given to every file attachment.
const OctetStream = "application/octet-stream"

// Email represents one outgoing notification.
type Email struct {
	From        string
	To          []string
	Subject     string
	TextBody    string
	Attachments []Attachment
	MessageID   string
	Date        time.Time

	// Raw is the rendered message. When set, providers transmit it as is
	// instead of composing the message again.
	Raw []byte
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// ToHeader returns the recipients joined as they appear in the To header.
func (e *Email) ToHeader() string {
	return strings.Join(e.To, ", ")
}

// Render returns e.Raw, composing the message first if needed.
func (e *Email) Render() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	raw, err := Compose(e)
	if err != nil {
		return nil, err
	}
	e.Raw = raw
	return raw, nil
}
