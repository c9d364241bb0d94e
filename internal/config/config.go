// Package config loads the notifier configuration from an INI file (or a YAML
// file with the same shape), then applies environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file read when no path is given.
const DefaultPath = "email_config.ini"

// defaultTimeout bounds a single SMTP session.
const defaultTimeout = 60 * time.Second

var (
	// ErrNotFound is returned when the configuration file does not exist.
	ErrNotFound = errors.New("configuration file not found")
	// ErrParse is returned for any other failure to read or decode the file.
	ErrParse = errors.New("error reading configuration file")
)

// Config holds the complete, normalized configuration of one run.
type Config struct {
	SMTP        SMTPConfig     `yaml:"smtp" envPrefix:"SMTP_"`
	Email       EmailConfig    `yaml:"email" envPrefix:"EMAIL_"`
	Recipients  []string       `yaml:"recipients"`
	Attachments []string       `yaml:"attachments"`
	Delivery    DeliveryConfig `yaml:"delivery" envPrefix:"DELIVERY_"`
	SES         SESConfig      `yaml:"ses" envPrefix:"SES_"`
	DKIM        DKIMConfig     `yaml:"dkim" envPrefix:"DKIM_"`
	Logging     LoggingConfig  `yaml:"logging" envPrefix:"LOG_"`
}

// SMTPConfig holds the submission server settings. Empty fields are
// defaulted by the dispatcher, not here.
type SMTPConfig struct {
	Server   string        `yaml:"server" env:"SERVER"`
	Port     int           `yaml:"port" env:"PORT"`
	Username string        `yaml:"username" env:"USERNAME"`
	Password string        `yaml:"password" env:"PASSWORD"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
	CAFile   string        `yaml:"ca_file" env:"CA_FILE"`
}

// EmailConfig holds the message metadata.
type EmailConfig struct {
	From    string `yaml:"from" env:"FROM"`
	To      string `yaml:"to" env:"TO"`
	Subject string `yaml:"subject" env:"SUBJECT"`
	Body    string `yaml:"body" env:"BODY"`
}

// DeliveryConfig selects the delivery backend.
type DeliveryConfig struct {
	Provider string `yaml:"provider" env:"PROVIDER"`
}

// SESConfig holds AWS SES v2 settings, used when Delivery.Provider is "ses".
type SESConfig struct {
	Region          string `yaml:"region" env:"REGION"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
}

// DKIMConfig enables DKIM signing when Selector and KeyFile are set.
type DKIMConfig struct {
	Domain   string `yaml:"domain" env:"DOMAIN"`
	Selector string `yaml:"selector" env:"SELECTOR"`
	KeyFile  string `yaml:"key_file" env:"KEY_FILE"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Load reads the configuration file at path (DefaultPath when empty),
// applies environment overrides and normalizes the result. Nothing is
// returned on error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	cfg := &Config{}
	cfg.applyDefaults()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = parseINI(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	// Environment variables always override file values
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("%w: environment: %w", ErrParse, err)
	}

	cfg.normalize()
	return cfg, nil
}

// DKIMEnabled reports whether enough DKIM settings are present to sign.
func (c *Config) DKIMEnabled() bool {
	return c.DKIM.Selector != "" && c.DKIM.KeyFile != ""
}

// applyDefaults sets the defaults of settings the dispatcher does not resolve.
func (c *Config) applyDefaults() {
	c.SMTP.Timeout = defaultTimeout
	c.Delivery.Provider = "smtp"
	c.Logging.Level = "info"
	c.Logging.Format = "text"
}

// normalize cleans list values and guarantees a non-empty recipient list.
func (c *Config) normalize() {
	c.Recipients = cleanList(c.Recipients)
	c.Attachments = cleanList(c.Attachments)
	c.Recipients = Recipients(c.Recipients, c.Email.To)
	c.Delivery.Provider = strings.ToLower(strings.TrimSpace(c.Delivery.Provider))
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)
}

// Recipients returns list when it is non-empty, otherwise a single-element
// list holding to. The fallback may be an empty address.
func Recipients(list []string, to string) []string {
	if len(list) > 0 {
		return list
	}
	return []string{to}
}

// SplitAddresses splits a comma-separated address list, trimming whitespace
// and dropping empty entries. Order and duplicates are preserved.
func SplitAddresses(value string) []string {
	return cleanList(strings.Split(value, ","))
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
