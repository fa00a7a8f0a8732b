// Package hostaudio opens a playback device that stands in for a DAW host:
// its data callback is the real-time consumer of the audio ring.
package hostaudio

import (
	"encoding/binary"
	"math"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/deckbridge/internal/conf"
	"github.com/tphakala/deckbridge/internal/errors"
	"github.com/tphakala/deckbridge/internal/logger"
)

const bytesPerSample = 4 // float32

// Renderer produces planar stereo audio for one callback.
type Renderer interface {
	Prepare(sampleRate, blockSize int)
	Render(out [][]float32)
}

// stream converts the renderer's planar output to the device's
// interleaved float32 buffer. It owns all memory used in the callback.
type stream struct {
	r      Renderer
	period int
	planar [][]float32
	chunk  [][]float32 // views into planar, reused per chunk
}

func newStream(r Renderer, period int) *stream {
	s := &stream{r: r, period: period}
	s.planar = make([][]float32, conf.NumChannels)
	s.chunk = make([][]float32, conf.NumChannels)
	for ch := range s.planar {
		s.planar[ch] = make([]float32, period)
	}
	return s
}

// onData fills out with frames frames, in chunks of at most one period.
func (s *stream) onData(out, _ []byte, frames uint32) {
	remaining := int(frames)
	offset := 0
	for remaining > 0 {
		n := min(remaining, s.period)
		for ch := range s.chunk {
			s.chunk[ch] = s.planar[ch][:n]
		}
		s.r.Render(s.chunk)
		interleave(out[offset:], s.chunk, n)
		offset += n * conf.NumChannels * bytesPerSample
		remaining -= n
	}
}

func interleave(dst []byte, planar [][]float32, n int) {
	for i := range n {
		for ch := range planar {
			o := (i*len(planar) + ch) * bytesPerSample
			binary.LittleEndian.PutUint32(dst[o:], math.Float32bits(planar[ch][i]))
		}
	}
}

// Device is an open playback device.
type Device struct {
	ctx    *malgo.AllocatedContext
	dev    *malgo.Device
	stream *stream
	rate   int

	closeOnce sync.Once
}

// Open initializes the audio context and playback device described by
// settings. The renderer is prepared with the negotiated rate and period.
func Open(settings conf.HostSettings, r Renderer) (*Device, error) {
	backends, err := backendsFor(settings.Backend)
	if err != nil {
		return nil, err
	}

	log := GetLogger()
	ctx, err := malgo.InitContext(backends, malgo.ContextConfig{}, func(message string) {
		log.Debug("malgo", logger.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return nil, deviceError(err, "init-context")
	}

	rate := settings.SampleRate
	if rate <= 0 {
		rate = conf.SampleRate
	}
	period := settings.PeriodFrames
	if period <= 0 {
		period = conf.BlockSize
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = conf.NumChannels
	cfg.SampleRate = uint32(rate)           //nolint:gosec // validated positive
	cfg.PeriodSizeInFrames = uint32(period) //nolint:gosec // validated positive
	cfg.Alsa.NoMMap = 1

	s := newStream(r, period)
	dev, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: func() {
			log.Warn("playback device stopped")
		},
	})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, deviceError(err, "init-device")
	}

	d := &Device{ctx: ctx, dev: dev, stream: s, rate: int(dev.SampleRate())}
	r.Prepare(d.rate, period)
	log.Info("playback device opened",
		logger.String("backend", settings.Backend),
		logger.Int("sample_rate", d.rate),
		logger.Int("period_frames", period))
	return d, nil
}

// SampleRate returns the negotiated device rate.
func (d *Device) SampleRate() int { return d.rate }

// Start begins pulling audio.
func (d *Device) Start() error {
	if err := d.dev.Start(); err != nil {
		return deviceError(err, "start-device")
	}
	return nil
}

// Close stops and releases the device and context.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.dev.Uninit()
		if uerr := d.ctx.Uninit(); uerr != nil {
			err = deviceError(uerr, "uninit-context")
		}
		d.ctx.Free()
	})
	return err
}

func backendsFor(name string) ([]malgo.Backend, error) {
	switch strings.ToLower(name) {
	case "":
		return nil, nil
	case "alsa":
		return []malgo.Backend{malgo.BackendAlsa}, nil
	case "pulse", "pulseaudio":
		return []malgo.Backend{malgo.BackendPulseaudio}, nil
	case "jack":
		return []malgo.Backend{malgo.BackendJack}, nil
	case "wasapi":
		return []malgo.Backend{malgo.BackendWasapi}, nil
	case "coreaudio":
		return []malgo.Backend{malgo.BackendCoreaudio}, nil
	case "null":
		return []malgo.Backend{malgo.BackendNull}, nil
	}
	return nil, errors.Newf("unknown audio backend %q", name).
		Component("hostaudio").
		Category(errors.CategoryConfiguration).
		Build()
}

func deviceError(err error, op string) error {
	return errors.New(err).
		Component("hostaudio").
		Category(errors.CategoryAudioDevice).
		Context("operation", op).
		Build()
}

// GetLogger returns the hostaudio logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("hostaudio")
}
