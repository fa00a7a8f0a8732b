package engine

import (
	"github.com/tphakala/deckbridge/internal/errors"
	"github.com/tphakala/deckbridge/internal/logger"
)

// ErrHeartbeatTimeout is returned by Run when the client stopped sending
// heartbeats for longer than the configured timeout.
var ErrHeartbeatTimeout = errors.New(errors.NewStd("client heartbeat timed out")).
	Component("engine").
	Category(errors.CategoryLiveness).
	Build()

// GetLogger returns the engine logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("engine")
}
