package shm

import (
	"github.com/tphakala/deckbridge/internal/errors"
	"github.com/tphakala/deckbridge/internal/logger"
)

// Sentinels are built once so that the client's retry loop does not
// generate a telemetry event every tick.
var (
	// ErrRegionAbsent means the backing file does not exist yet.
	ErrRegionAbsent = sentinel("shared region absent", errors.CategoryConnection)

	// ErrRegionMismatch means the backing file exists with a different
	// size, i.e. it was created by an incompatible build.
	ErrRegionMismatch = sentinel("shared region size mismatch", errors.CategoryVersionMismatch)

	// ErrRegionCreate means the engine could not create or map the file.
	ErrRegionCreate = sentinel("shared region create failed", errors.CategorySystem)

	// ErrUnsupportedPlatform is returned where no mapping primitive exists.
	ErrUnsupportedPlatform = sentinel("shared memory not supported on this platform", errors.CategorySystem)
)

func sentinel(msg string, category errors.ErrorCategory) error {
	return errors.New(errors.NewStd(msg)).
		Component("shm").
		Category(category).
		Build()
}

// GetLogger returns the shm package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("shm")
}
