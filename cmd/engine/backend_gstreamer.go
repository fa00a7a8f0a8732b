//go:build gstreamer

package engine

import (
	"github.com/tphakala/deckbridge/internal/engine"
	"github.com/tphakala/deckbridge/internal/media/gstreamer"
)

var _ engine.MediaBackend = (*gstreamer.Player)(nil)

func newGStreamerBackend(fifoFrames int) (engine.MediaBackend, func() error, error) {
	p, err := gstreamer.NewPlayer(fifoFrames)
	if err != nil {
		return nil, nil, err
	}
	return p, p.Close, nil
}
