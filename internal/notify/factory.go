package notify

import (
	"fmt"

	"github.com/andresuchdata/history-extracts/internal/config"
)

// New builds the Notifier selected by cfg.Backend.
func New(cfg config.NotifyConfig) (Notifier, error) {
	switch cfg.Backend {
	case "", "log":
		return NewLogNotifier(), nil
	case "none":
		return Noop(), nil
	case "redis":
		return NewRedisNotifier(cfg)
	case "mail":
		return NewMailNotifier(MailConfig{
			Addr:     cfg.SMTPAddr,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
			To:       cfg.MailTo,
		})
	default:
		return nil, fmt.Errorf("unknown notify backend %q", cfg.Backend)
	}
}
