// Package notifier fans committed change events out to the other server
// instances that share the same catalog.
package notifier

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/amoylab/authcore/internal/common/config"
	"github.com/amoylab/authcore/internal/common/uow"
)

// Type represents the type of notifier
type Type string

const (
	// TypeNone disables cross-instance notification
	TypeNone Type = ""
	// TypeRedis represents Redis stream based notifier
	TypeRedis Type = "redis"
)

// Notifier defines the interface for change event distribution
type Notifier interface {
	// Watch returns a channel that receives the event batches committed by
	// other instances. The channel is closed when ctx is done.
	Watch(ctx context.Context) (<-chan []uow.Event, error)

	// Notify publishes a committed batch
	Notify(ctx context.Context, events []uow.Event) error

	Close() error
}

// New creates a notifier from configuration. It returns nil when
// notification is disabled.
func New(logger *zap.Logger, cfg *config.NotifierConfig) (Notifier, error) {
	switch Type(cfg.Type) {
	case TypeNone:
		return nil, nil
	case TypeRedis:
		return NewRedisNotifier(logger, &cfg.Redis, cfg.Stream)
	default:
		return nil, fmt.Errorf("unknown notifier type: %s", cfg.Type)
	}
}
