//go:build !gstreamer

package engine

import (
	"github.com/tphakala/deckbridge/internal/engine"
	"github.com/tphakala/deckbridge/internal/errors"
)

func newGStreamerBackend(int) (engine.MediaBackend, func() error, error) {
	return nil, nil, errors.Newf("gstreamer backend not compiled in; rebuild with -tags gstreamer").
		Component("engine").
		Category(errors.CategoryConfiguration).
		Build()
}
