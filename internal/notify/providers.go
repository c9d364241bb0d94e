package notify

import (
	"context"
	"fmt"

	"github.com/shineum/buildmail/internal/config"
	"github.com/shineum/buildmail/internal/dkim"
	"github.com/shineum/buildmail/internal/provider"
	"github.com/shineum/buildmail/internal/provider/ses"
	"github.com/shineum/buildmail/internal/provider/smtp"
	"github.com/shineum/buildmail/internal/provider/stdout"
)

// NewProvider chooses the delivery backend named by cfg.Delivery.Provider.
// An empty name selects SMTP.
func NewProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Delivery.Provider {
	case "", "smtp":
		s := Resolve(cfg)
		p, err := smtp.New(smtp.Config{
			Host:     s.Server,
			Port:     s.Port,
			Username: s.Username,
			Password: s.Password,
			Timeout:  cfg.SMTP.Timeout,
			CAFile:   cfg.SMTP.CAFile,
		})
		if err != nil {
			return nil, err
		}
		return p, nil

	case "ses":
		p, err := ses.New(ctx, ses.SESProviderConfig{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return p, nil

	case "stdout":
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown delivery provider %q", cfg.Delivery.Provider)
	}
}

// NewSigner returns a DKIM signer when cfg enables DKIM, or nil otherwise.
func NewSigner(cfg *config.Config) (*dkim.Signer, error) {
	if !cfg.DKIMEnabled() {
		return nil, nil
	}
	return dkim.New(dkim.Options{
		Domain:   cfg.DKIM.Domain,
		Selector: cfg.DKIM.Selector,
		KeyFile:  cfg.DKIM.KeyFile,
	})
}
