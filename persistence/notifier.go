package persistence

import (
	"fmt"

	"github.com/tcriess/lightspeed-meeting/config"
)

// NewNotifier creates the notifier configured in cfg. It returns nil if
// notifications are disabled.
func NewNotifier(cfg *config.Config) (Notifier, error) {
	switch cfg.NotificationConfig.Type {
	case "":
		return nil, nil

	case "buntdb":
		return NewBuntNotifier(cfg)

	case "sqlite", "postgres":
		return NewGormNotifier(cfg)

	case "redis":
		return NewRedisNotifier(cfg)
	}
	return nil, fmt.Errorf("invalid notification type %q", cfg.NotificationConfig.Type)
}
