package client

import (
	"github.com/tphakala/deckbridge/internal/errors"
	"github.com/tphakala/deckbridge/internal/logger"
)

var (
	// ErrNotConnected is returned by control calls while no engine is attached.
	ErrNotConnected = errors.New(errors.NewStd("engine not connected")).
			Component("client").
			Category(errors.CategoryConnection).
			Build()

	// ErrQueueFull is returned when the command queue has no free slot. The
	// command is dropped.
	ErrQueueFull = errors.New(errors.NewStd("command queue full")).
			Component("client").
			Category(errors.CategoryCommandQueue).
			Build()

	// ErrUnmappedNote is returned by Trigger for notes without an action.
	ErrUnmappedNote = errors.New(errors.NewStd("note has no mapped action")).
			Component("client").
			Category(errors.CategoryValidation).
			Build()
)

// GetLogger returns the client logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("client")
}
