package engine

import (
	"sync/atomic"

	"github.com/tphakala/deckbridge/internal/shm"
)

// MediaBackend decodes media and hands the pump fixed-size stereo blocks.
// Implementations guard their own state; the pump is the only caller of
// AvailableFrames and PullBlock. Load runs on its own goroutine, concurrently
// with AvailableFrames, PullBlock and the status getters.
type MediaBackend interface {
	AvailableFrames() int
	PullBlock(dst [][]float32)

	Load(path string) bool
	Play()
	Pause()
	Stop()

	// SetOutputFormat changes the rendered sample rate. Rates below 8000
	// are ignored by implementations.
	SetOutputFormat(rate, channels int) error

	SetPosition(pos float64)
	Position() float64
	LengthMs() int64
	IsPlaying() bool
	HasFinished() bool

	SetVolume(v float64)
	SetRate(r float64)
}

// Display is the engine's video surface. Rendering is out of scope; only
// visibility is mirrored to the client.
type Display interface {
	Show()
	IsOpen() bool
}

// Transport is the engine's side of the shared region.
type Transport interface {
	shm.AudioProducer
	// MarkDiscontinuity makes the consumer drop audio pushed so far.
	MarkDiscontinuity()
	NextCommand(buf []byte) (int, bool)
	SetEngineStatus(s shm.Status)
	DawSampleRate() int
	Stats() shm.RingStats
}

var _ Transport = (*shm.Region)(nil)

// HeadlessDisplay stands in for a window when no video surface exists. It
// reports open from the start, like a window shown at launch.
type HeadlessDisplay struct {
	shown atomic.Int32
}

// NewHeadlessDisplay returns a display that is open.
func NewHeadlessDisplay() *HeadlessDisplay {
	return &HeadlessDisplay{}
}

// Show records a request to raise the window.
func (d *HeadlessDisplay) Show() {
	d.shown.Add(1)
}

// IsOpen always reports true.
func (d *HeadlessDisplay) IsOpen() bool { return true }

// ShowCount returns how many times Show was called.
func (d *HeadlessDisplay) ShowCount() int { return int(d.shown.Load()) }
