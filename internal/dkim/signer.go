// Package dkim signs outgoing messages with a DKIM-Signature header.
package dkim

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/emersion/go-message/mail"
	msgauthdkim "github.com/emersion/go-msgauth/dkim"
)

// Signer applies DKIM signatures to rendered messages.
type Signer struct {
	domain     string
	selector   string
	key        crypto.Signer
	headerKeys []string
}

// Options configures a Signer. Domain may be empty, in which case the
// domain of the From address is used at signing time.
type Options struct {
	Domain   string
	Selector string
	KeyFile  string
}

// New loads the PEM private key in opts.KeyFile and returns a Signer.
func New(opts Options) (*Signer, error) {
	if strings.TrimSpace(opts.Selector) == "" {
		return nil, errors.New("dkim: selector is required")
	}
	data, err := os.ReadFile(opts.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("dkim: read private key: %w", err)
	}
	return NewFromPEM(opts.Domain, opts.Selector, data)
}

// NewFromPEM returns a Signer for an in-memory PEM private key.
func NewFromPEM(domain, selector string, pemData []byte) (*Signer, error) {
	key, err := parsePrivateKey(pemData)
	if err != nil {
		return nil, fmt.Errorf("dkim: parse private key: %w", err)
	}
	return &Signer{
		domain:   strings.TrimSpace(domain),
		selector: strings.TrimSpace(selector),
		key:      key,
		headerKeys: []string{
			"from",
			"to",
			"subject",
			"date",
			"message-id",
			"mime-version",
			"content-type",
		},
	}, nil
}

// Sign returns message with a DKIM-Signature header prepended. A nil Signer
// returns the message untouched.
func (s *Signer) Sign(message []byte, from string) ([]byte, error) {
	if s == nil || s.key == nil {
		return message, nil
	}

	domain := s.domain
	if domain == "" {
		domain = extractDomain(from)
	}
	if domain == "" {
		return nil, fmt.Errorf("dkim: unable to determine signing domain")
	}

	opts := &msgauthdkim.SignOptions{
		Domain:                 domain,
		Selector:               s.selector,
		Signer:                 s.key,
		HeaderCanonicalization: msgauthdkim.CanonicalizationRelaxed,
		BodyCanonicalization:   msgauthdkim.CanonicalizationRelaxed,
		HeaderKeys:             s.headerKeys,
	}

	var signed bytes.Buffer
	if err := msgauthdkim.Sign(&signed, bytes.NewReader(message), opts); err != nil {
		return nil, fmt.Errorf("dkim: signing failed: %w", err)
	}
	return signed.Bytes(), nil
}

func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}
		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			return key, nil
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			if signer, ok := key.(crypto.Signer); ok {
				return signer, nil
			}
			return nil, fmt.Errorf("unsupported private key type in PKCS#8 container")
		}
		pemData = rest
	}
	return nil, fmt.Errorf("no private key found in PEM data")
}

// extractDomain returns the lower-cased domain of a From value, which may
// carry a display name.
func extractDomain(from string) string {
	addr, err := mail.ParseAddress(strings.TrimSpace(from))
	if err != nil {
		return ""
	}
	address := addr.Address
	if i := strings.LastIndex(address, "@"); i >= 0 && i+1 < len(address) {
		return strings.ToLower(address[i+1:])
	}
	return ""
}
