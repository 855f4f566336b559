package notify

import (
	"github.com/smallorbit/nebula/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("notify",
	fx.Provide(NewFromConfig),
	fx.Provide(New),
)

// NewFromConfig returns the SMTP provider when a host is configured and a
// no-op provider otherwise, so local setups work without a mail relay.
func NewFromConfig(cfg config.Config) Provider {
	if cfg.SMTP.Host == "" {
		return &NoOpProvider{}
	}
	return NewSMTP(SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
}
