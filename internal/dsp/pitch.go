// Package dsp holds the real-time audio processing applied on the client
// side of the transport.
package dsp

import (
	"math"
	"sync/atomic"
)

const (
	// PitchBufferFrames is the per-channel length of the shifter's delay line.
	PitchBufferFrames = 16384
	// PitchWindow is the span, in frames, swept by each read tap.
	PitchWindow = 4096

	pitchMask = PitchBufferFrames - 1

	// MaxSemitones bounds SetSemitones in either direction.
	MaxSemitones = 24
)

// PitchShifter is a two-tap delay-line pitch shifter. Two read taps sweep a
// window behind the write head half a cycle apart and are crossfaded with
// triangular gains, so their sum is always unity.
//
// Process runs on the real-time thread and never allocates. SetSemitones
// may be called concurrently from any goroutine; Reset must not overlap
// Process.
type PitchShifter struct {
	lines     [][]float32
	writePos  int
	crossfade float64

	semitones atomic.Uint64 // float64 bits
	factor    atomic.Uint64 // float64 bits
}

// NewPitchShifter returns a shifter for the given channel count, bypassed
// at 0 semitones.
func NewPitchShifter(channels int) *PitchShifter {
	if channels < 1 {
		channels = 1
	}
	p := &PitchShifter{lines: make([][]float32, channels)}
	for ch := range p.lines {
		p.lines[ch] = make([]float32, PitchBufferFrames)
	}
	p.factor.Store(math.Float64bits(1))
	return p
}

// SetSemitones sets the shift. Values are clamped to ±MaxSemitones.
func (p *PitchShifter) SetSemitones(st float64) {
	if math.IsNaN(st) {
		st = 0
	}
	st = max(-MaxSemitones, min(MaxSemitones, st))
	p.semitones.Store(math.Float64bits(st))
	p.factor.Store(math.Float64bits(math.Pow(2, st/12)))
}

// Semitones returns the current shift.
func (p *PitchShifter) Semitones() float64 {
	return math.Float64frombits(p.semitones.Load())
}

// Factor returns the frequency ratio for the current shift.
func (p *PitchShifter) Factor() float64 {
	return math.Float64frombits(p.factor.Load())
}

// Reset clears the delay lines and tap phase.
func (p *PitchShifter) Reset() {
	for _, line := range p.lines {
		clear(line)
	}
	p.writePos = 0
	p.crossfade = 0
}

// Process shifts buf in place. All channels must hold the same number of
// frames; channels beyond the shifter's count are left untouched.
func (p *PitchShifter) Process(buf [][]float32) {
	if len(buf) == 0 || p.semitones.Load() == 0 {
		return
	}
	factor := p.Factor()
	if factor == 1 {
		return
	}

	n := len(buf[0])
	inc := (1 - factor) / PitchWindow
	channels := min(len(buf), len(p.lines))

	for ch := range channels {
		line := p.lines[ch]
		samples := buf[ch][:n]
		wp := p.writePos
		for i, x := range samples {
			line[wp] = x

			phaseA := frac(p.crossfade + float64(i)*inc)
			phaseB := frac(phaseA + 0.5)
			a := tap(line, wp, phaseA*PitchWindow)
			b := tap(line, wp, phaseB*PitchWindow)
			samples[i] = float32(a*gain(phaseA) + b*gain(phaseB))

			wp = (wp + 1) & pitchMask
		}
	}

	p.writePos = (p.writePos + n) & pitchMask
	p.crossfade = frac(p.crossfade + inc*float64(n))
}

// tap reads the line delay frames behind wp with linear interpolation.
func tap(line []float32, wp int, delay float64) float64 {
	pos := float64(wp) - delay
	if pos < 0 {
		pos += PitchBufferFrames
	}
	i0 := int(pos)
	f := pos - float64(i0)
	i0 &= pitchMask
	i1 := (i0 + 1) & pitchMask
	return float64(line[i0])*(1-f) + float64(line[i1])*f
}

func gain(phase float64) float64 {
	return 1 - math.Abs(2*phase-1)
}

func frac(x float64) float64 {
	return x - math.Floor(x)
}
