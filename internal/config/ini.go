package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// Section names of the INI format.
const (
	sectionSMTP        = "SMTP"
	sectionEmail       = "EMAIL"
	sectionRecipients  = "RECIPIENTS"
	sectionAttachment  = "ATTACHMENT"
	sectionDelivery    = "DELIVERY"
	sectionSES         = "SES"
	sectionDKIM        = "DKIM"
	sectionLogging     = "LOGGING"
	recipientsEmailKey = "emails"
)

// section wraps an optional INI section. Lookups fall back to the DEFAULT
// section; a missing section yields no values at all.
type section struct {
	sec *ini.Section
	def *ini.Section
}

func (s section) lookup(key string) (string, bool) {
	if s.sec == nil {
		return "", false
	}
	if s.sec.HasKey(key) {
		return s.sec.Key(key).String(), true
	}
	if s.def != nil && s.def.HasKey(key) {
		return s.def.Key(key).String(), true
	}
	return "", false
}

func (s section) setString(key string, dst *string) {
	if v, ok := s.lookup(key); ok {
		*dst = v
	}
}

func (s section) setInt(key string, dst *int) error {
	v, ok := s.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("[%s] %s: invalid integer %q", s.sec.Name(), key, v)
	}
	*dst = n
	return nil
}

func (s section) setDuration(key string, dst *time.Duration) error {
	v, ok := s.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("[%s] %s: invalid duration %q", s.sec.Name(), key, v)
	}
	*dst = d
	return nil
}

// values returns every non-empty value of the section in key order, followed
// by DEFAULT keys the section does not override.
func (s section) values() []string {
	if s.sec == nil {
		return nil
	}
	var out []string
	add := func(k *ini.Key) {
		if v := strings.TrimSpace(k.String()); v != "" {
			out = append(out, v)
		}
	}
	for _, k := range s.sec.Keys() {
		add(k)
	}
	if s.def != nil && s.def != s.sec {
		for _, k := range s.def.Keys() {
			if !s.sec.HasKey(k.Name()) {
				add(k)
			}
		}
	}
	return out
}

// parseINI decodes configparser-style INI data into cfg. Keys are
// case-insensitive, section names are not.
func parseINI(data []byte, cfg *Config) error {
	f, err := ini.LoadSources(ini.LoadOptions{
		InsensitiveKeys:            true,
		AllowPythonMultilineValues: true,
		IgnoreInlineComment:        true,
		PreserveSurroundedQuote:    true,
	}, data)
	if err != nil {
		return err
	}

	get := func(name string) section {
		sec, err := f.GetSection(name)
		if err != nil {
			return section{}
		}
		def, _ := f.GetSection(ini.DefaultSection)
		return section{sec: sec, def: def}
	}

	smtp := get(sectionSMTP)
	smtp.setString("server", &cfg.SMTP.Server)
	smtp.setString("username", &cfg.SMTP.Username)
	smtp.setString("password", &cfg.SMTP.Password)
	smtp.setString("ca_file", &cfg.SMTP.CAFile)
	if err := smtp.setInt("port", &cfg.SMTP.Port); err != nil {
		return err
	}
	if err := smtp.setDuration("timeout", &cfg.SMTP.Timeout); err != nil {
		return err
	}

	mail := get(sectionEmail)
	mail.setString("from", &cfg.Email.From)
	mail.setString("to", &cfg.Email.To)
	mail.setString("subject", &cfg.Email.Subject)
	mail.setString("body", &cfg.Email.Body)

	if v, ok := get(sectionRecipients).lookup(recipientsEmailKey); ok {
		cfg.Recipients = SplitAddresses(v)
	}
	cfg.Attachments = get(sectionAttachment).values()

	get(sectionDelivery).setString("provider", &cfg.Delivery.Provider)

	ses := get(sectionSES)
	ses.setString("region", &cfg.SES.Region)
	ses.setString("access_key_id", &cfg.SES.AccessKeyID)
	ses.setString("secret_access_key", &cfg.SES.SecretAccessKey)

	dkim := get(sectionDKIM)
	dkim.setString("domain", &cfg.DKIM.Domain)
	dkim.setString("selector", &cfg.DKIM.Selector)
	dkim.setString("key_file", &cfg.DKIM.KeyFile)

	logging := get(sectionLogging)
	logging.setString("level", &cfg.Logging.Level)
	logging.setString("format", &cfg.Logging.Format)

	return nil
}
