//go:build gstreamer

// Package gstreamer provides a media backend built on a GStreamer playbin,
// for containers and codecs the built-in file player cannot decode. Audio
// is taken from an appsink as S16LE stereo at the requested rate.
//
// Build with -tags gstreamer; requires the GStreamer development headers.
package gstreamer

import (
	"fmt"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/tphakala/deckbridge/internal/conf"
	"github.com/tphakala/deckbridge/internal/errors"
	"github.com/tphakala/deckbridge/internal/logger"
	"github.com/tphakala/deckbridge/internal/media"
)

// Player is a playbin-backed media backend.
type Player struct {
	mu sync.Mutex

	playbin *gst.Element
	caps    *gst.Element
	sink    *app.Sink
	fifo    *media.FIFO

	outRate  int
	volume   float32
	rate     float64
	loaded   bool
	finished bool

	done chan struct{}
	wg   sync.WaitGroup
}

var initOnce sync.Once

// NewPlayer builds the pipeline. It does not load any media.
func NewPlayer(fifoFrames int) (*Player, error) {
	initOnce.Do(func() { gst.Init(nil) })

	playbin, err := gst.NewElement("playbin")
	if err != nil {
		return nil, wrap(err, "create playbin")
	}
	bin, err := gst.NewBinFromString("audioconvert ! audioresample ! capsfilter name=caps ! appsink name=sink", true)
	if err != nil {
		return nil, wrap(err, "create audio sink bin")
	}
	capsElem, err := bin.GetElementByName("caps")
	if err != nil {
		return nil, wrap(err, "find capsfilter")
	}
	sinkElem, err := bin.GetElementByName("sink")
	if err != nil {
		return nil, wrap(err, "find appsink")
	}

	p := &Player{
		playbin: playbin,
		caps:    capsElem,
		sink:    app.SinkFromElement(sinkElem),
		fifo:    media.NewFIFO(fifoFrames),
		outRate: conf.SampleRate,
		volume:  1,
		rate:    1,
		done:    make(chan struct{}),
	}
	p.applyCaps()
	// Paced by the pipeline clock like any real sink.
	p.sink.SetProperty("sync", true)
	p.sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: p.onNewSample,
	})
	if err := playbin.SetProperty("audio-sink", bin.Element); err != nil {
		return nil, wrap(err, "attach audio sink")
	}
	// No video output; the engine's display is separate.
	if err := playbin.SetProperty("video-sink", mustFakeSink()); err != nil {
		GetLogger().Warn("failed to disable video output", logger.Error(err))
	}

	p.wg.Go(p.watchBus)
	return p, nil
}

func mustFakeSink() *gst.Element {
	e, err := gst.NewElement("fakesink")
	if err != nil {
		return nil
	}
	return e
}

func (p *Player) applyCaps() {
	caps := gst.NewCapsFromString(fmt.Sprintf("audio/x-raw,format=S16LE,layout=interleaved,channels=2,rate=%d", p.outRate))
	p.caps.SetProperty("caps", caps)
}

// onNewSample copies decoded PCM into the FIFO. Data that does not fit is
// dropped.
func (p *Player) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()

	p.mu.Lock()
	p.fifo.Write(data)
	p.mu.Unlock()

	buffer.Unmap()
	return gst.FlowOK
}

func (p *Player) watchBus() {
	bus := p.playbin.GetBus()
	for {
		select {
		case <-p.done:
			return
		default:
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			p.mu.Lock()
			p.finished = true
			p.mu.Unlock()
		case gst.MessageError:
			gerr := msg.ParseError()
			GetLogger().Error("pipeline error",
				logger.String("error", gerr.Error()),
				logger.String("debug", gerr.DebugString()))
		}
	}
}

// Load sets the playbin URI and prerolls it paused.
func (p *Player) Load(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	uri := (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()

	p.mu.Lock()
	defer p.mu.Unlock()

	_ = p.playbin.SetState(gst.StateNull)
	p.fifo.Reset()
	p.finished = false
	if err := p.playbin.SetProperty("uri", uri); err != nil {
		GetLogger().Warn("failed to set uri", logger.String("path", path), logger.Error(err))
		p.loaded = false
		return false
	}
	if err := p.playbin.SetState(gst.StatePaused); err != nil {
		GetLogger().Warn("failed to preroll media", logger.String("path", path), logger.Error(err))
		p.loaded = false
		return false
	}
	p.loaded = true
	return true
}

// Play starts playback.
func (p *Player) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		p.finished = false
		_ = p.playbin.SetState(gst.StatePlaying)
	}
}

// Pause pauses playback and drops buffered audio.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fifo.Reset()
	if p.loaded {
		_ = p.playbin.SetState(gst.StatePaused)
	}
}

// Stop stops playback and rewinds.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fifo.Reset()
	if p.loaded {
		_ = p.playbin.SetState(gst.StateReady)
	}
}

// SetOutputFormat renegotiates the appsink caps. Rates below
// media.MinOutputRate are ignored.
func (p *Player) SetOutputFormat(rate, channels int) error {
	if channels != conf.NumChannels {
		return errors.Newf("unsupported output channel count %d", channels).
			Component("media/gstreamer").
			Category(errors.CategoryValidation).
			Build()
	}
	if rate < media.MinOutputRate {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outRate = rate
	p.fifo.Reset()
	p.applyCaps()
	return nil
}

// SetPosition seeks to a normalized position.
func (p *Player) SetPosition(pos float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ok, dur := p.playbin.QueryDuration(gst.FormatTime)
	if !ok || dur <= 0 {
		return
	}
	p.fifo.Reset()
	target := int64(max(0, min(1, pos)) * float64(dur))
	p.playbin.SeekSimple(target, gst.FormatTime, gst.SeekFlagFlush|gst.SeekFlagAccurate)
}

// Position returns the normalized play position.
func (p *Player) Position() float64 {
	okPos, pos := p.playbin.QueryPosition(gst.FormatTime)
	okDur, dur := p.playbin.QueryDuration(gst.FormatTime)
	if !okPos || !okDur || dur <= 0 {
		return 0
	}
	return float64(pos) / float64(dur)
}

// LengthMs returns the media duration in milliseconds.
func (p *Player) LengthMs() int64 {
	ok, dur := p.playbin.QueryDuration(gst.FormatTime)
	if !ok {
		return 0
	}
	return time.Duration(dur).Milliseconds()
}

// IsPlaying reports whether the pipeline is in the playing state.
func (p *Player) IsPlaying() bool {
	return p.playbin.GetCurrentState() == gst.StatePlaying
}

// HasFinished reports whether end-of-stream was reached.
func (p *Player) HasFinished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

// SetVolume sets the gain; it is ramped on pull.
func (p *Player) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = float32(max(0, v))
}

// SetRate changes playback speed with a flushing seek at the current
// position.
func (p *Player) SetRate(r float64) {
	if r <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rate = r
	p.fifo.Reset()
	ok, pos := p.playbin.QueryPosition(gst.FormatTime)
	if !ok {
		return
	}
	p.playbin.Seek(r, gst.FormatTime, gst.SeekFlagFlush|gst.SeekFlagAccurate,
		gst.SeekTypeSet, pos, gst.SeekTypeNone, -1)
}

// AvailableFrames returns the frames buffered from the appsink.
func (p *Player) AvailableFrames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fifo.Frames()
}

// PullBlock drains up to one block from the FIFO.
func (p *Player) PullBlock(dst [][]float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fifo.Read(dst, p.volume)
}

// Flush drops buffered audio.
func (p *Player) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fifo.Reset()
}

// Close tears the pipeline down.
func (p *Player) Close() error {
	close(p.done)
	p.wg.Wait()
	if err := p.playbin.SetState(gst.StateNull); err != nil {
		return wrap(err, "stop pipeline")
	}
	return nil
}

func wrap(err error, op string) error {
	return errors.New(err).
		Component("media/gstreamer").
		Category(errors.CategoryMediaBackend).
		Context("operation", op).
		Build()
}

// GetLogger returns the gstreamer backend logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("media.gstreamer")
}
