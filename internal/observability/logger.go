// Package observability exposes the Prometheus metrics endpoint.
package observability

import "github.com/tphakala/deckbridge/internal/logger"

// GetLogger returns the observability package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("metrics")
}
