// Package conf provides configuration management for deckbridge.
package conf

import "github.com/tphakala/deckbridge/internal/logger"

// GetLogger returns the config package logger. It is fetched from the
// global logger on each call because the central logger is installed after
// configuration has been read.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
