// Package media provides the engine's media backends. FilePlayer decodes
// WAV and FLAC files into memory and renders them in real time into a
// 16-bit interleaved FIFO that the pump loop drains block by block.
package media

import (
	"math"
	"sync"
	"time"

	"github.com/tphakala/deckbridge/internal/conf"
	"github.com/tphakala/deckbridge/internal/errors"
	"github.com/tphakala/deckbridge/internal/logger"
)

const (
	// MinOutputRate is the lowest rate SetOutputFormat accepts; lower
	// values are ignored.
	MinOutputRate = 8000

	minRate = 0.25
	maxRate = 4.0
)

type playerState int

const (
	stateStopped playerState = iota
	statePlaying
	statePaused
	stateEnded
)

// FilePlayer plays one decoded file at a time. Rendering is paced by the
// wall clock: each call to AvailableFrames or PullBlock renders the frames
// that became due since the previous call, up to the FIFO's free space.
type FilePlayer struct {
	mu sync.Mutex

	prober    *Prober
	now       func() time.Time
	fifo      *FIFO
	renderBuf []byte

	outRate int
	track   *pcmTrack
	info    TrackInfo
	path    string
	cursor  float64 // source frames
	state   playerState

	lastFill time.Time
	rate     float64
	volume   float32
}

// Option configures a FilePlayer.
type Option func(*FilePlayer)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *FilePlayer) { p.now = now }
}

// WithProber shares a probe cache between players.
func WithProber(pr *Prober) Option {
	return func(p *FilePlayer) { p.prober = pr }
}

// NewFilePlayer returns a stopped player whose FIFO holds fifoFrames frames.
func NewFilePlayer(fifoFrames int, opts ...Option) *FilePlayer {
	if fifoFrames < conf.BlockSize {
		fifoFrames = conf.BlockSize
	}
	p := &FilePlayer{
		now:       time.Now,
		fifo:      NewFIFO(fifoFrames),
		renderBuf: make([]byte, 0, fifoFrames*bytesPerFrame),
		outRate:   conf.SampleRate,
		rate:      1,
		volume:    1,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.prober == nil {
		p.prober = NewProber(10 * time.Minute)
	}
	return p
}

// Load stops playback and replaces the current track. It reports false
// when the file cannot be probed or decoded; the player is then left
// stopped with no track. The whole file is decoded before Load returns, so
// the engine calls it off the pump. The lock is only taken to swap tracks.
func (p *FilePlayer) Load(path string) bool {
	start := time.Now()
	info, err := p.prober.Probe(path)
	var track *pcmTrack
	if err == nil {
		track, err = decodeTrack(path, info)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = stateStopped
	p.cursor = 0
	p.fifo.Reset()

	if err != nil {
		p.track, p.info, p.path = nil, TrackInfo{}, ""
		GetLogger().Warn("failed to load media",
			logger.String("path", path),
			logger.Error(err))
		return false
	}

	p.track, p.info, p.path = track, info, path
	GetLogger().Info("media loaded",
		logger.String("path", path),
		logger.String("format", info.Format),
		logger.Int("sample_rate", info.SampleRate),
		logger.Int("channels", info.Channels),
		logger.Int64("length_ms", info.LengthMs()),
		logger.Duration("decode_time", time.Since(start)))
	return true
}

// Track returns the loaded file's path and header, if any.
func (p *FilePlayer) Track() (string, TrackInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.path, p.info, p.track != nil
}

// Play starts or resumes playback. A finished track restarts from the top.
func (p *FilePlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.track == nil || p.state == statePlaying {
		return
	}
	if p.state == stateEnded {
		p.cursor = 0
	}
	p.state = statePlaying
	p.lastFill = p.now()
}

// Pause halts playback and drops rendered audio.
func (p *FilePlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.fifo.Reset()
	if p.state == statePlaying {
		p.state = statePaused
	}
}

// Stop halts playback and rewinds.
func (p *FilePlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = stateStopped
	p.cursor = 0
	p.fifo.Reset()
}

// SetOutputFormat sets the render rate. Rates below MinOutputRate are
// ignored. Only stereo output is produced.
func (p *FilePlayer) SetOutputFormat(rate, channels int) error {
	if channels != conf.NumChannels {
		return errors.Newf("unsupported output channel count %d", channels).
			Component("media").
			Category(errors.CategoryValidation).
			Build()
	}
	if rate < MinOutputRate {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if rate == p.outRate {
		return nil
	}
	p.outRate = rate
	p.fifo.Reset()
	p.lastFill = p.now()
	return nil
}

// OutputRate returns the current render rate.
func (p *FilePlayer) OutputRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outRate
}

// SetPosition seeks to a normalized position.
func (p *FilePlayer) SetPosition(pos float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.track == nil || math.IsNaN(pos) {
		return
	}
	pos = max(0, min(1, pos))
	p.cursor = pos * float64(p.track.frames())
	p.fifo.Reset()
	if p.state == stateEnded && pos < 1 {
		p.state = statePaused
	}
}

// Position returns the normalized play position.
func (p *FilePlayer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.track == nil || p.track.frames() == 0 {
		return 0
	}
	return min(1, p.cursor/float64(p.track.frames()))
}

// LengthMs returns the loaded track length, 0 with no track.
func (p *FilePlayer) LengthMs() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info.LengthMs()
}

// IsPlaying reports whether playback is running.
func (p *FilePlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == statePlaying
}

// HasFinished reports whether the track played to its end.
func (p *FilePlayer) HasFinished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == stateEnded
}

// SetVolume sets the linear gain. The change is ramped over the next
// pulled block.
func (p *FilePlayer) SetVolume(v float64) {
	if math.IsNaN(v) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = float32(max(0, v))
}

// Volume returns the target gain.
func (p *FilePlayer) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return float64(p.volume)
}

// SetRate sets the playback speed, clamped to 0.25..4. Rendered audio is
// dropped.
func (p *FilePlayer) SetRate(r float64) {
	if math.IsNaN(r) || r <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rate = max(minRate, min(maxRate, r))
	p.fifo.Reset()
}

// Rate returns the playback speed.
func (p *FilePlayer) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

// AvailableFrames renders any due audio and returns the frames ready to
// pull.
func (p *FilePlayer) AvailableFrames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fillLocked()
	return p.fifo.Frames()
}

// PullBlock fills dst with up to len(dst[0]) frames, applying the volume
// ramp. Missing frames are zeroed. A paused player yields silence.
func (p *FilePlayer) PullBlock(dst [][]float32) {
	if len(dst) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == statePaused {
		clearBlock(dst)
		return
	}
	p.fillLocked()
	p.fifo.Read(dst, p.volume)
}

// Flush drops rendered audio without changing transport state.
func (p *FilePlayer) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fifo.Reset()
}

func clearBlock(dst [][]float32) {
	for _, ch := range dst {
		clear(ch)
	}
}

// fillLocked renders the frames due since lastFill.
func (p *FilePlayer) fillLocked() {
	now := p.now()
	if p.state != statePlaying || p.track == nil {
		p.lastFill = now
		return
	}

	due := int(now.Sub(p.lastFill) * time.Duration(p.outRate) / time.Second)
	if due <= 0 {
		return
	}
	p.lastFill = p.lastFill.Add(time.Duration(due) * time.Second / time.Duration(p.outRate))

	frames := min(due, p.fifo.FreeFrames())
	if frames == 0 {
		return
	}

	t := p.track
	last := t.frames() - 1
	step := p.rate * float64(t.rate) / float64(p.outRate)
	raw := p.renderBuf[:0]
	for range frames {
		if last < 0 || p.cursor >= float64(last) {
			p.cursor = float64(t.frames())
			p.state = stateEnded
			break
		}
		i0 := int(p.cursor)
		f := float32(p.cursor - float64(i0))
		l := t.left[i0] + (t.left[i0+1]-t.left[i0])*f
		r := t.right[i0] + (t.right[i0+1]-t.right[i0])*f
		raw = AppendFrame(raw, l, r)
		p.cursor += step
	}
	p.fifo.Write(raw)
}

// GetLogger returns the media package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("media")
}
