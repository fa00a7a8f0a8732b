package dsp

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRate  = 44100
	testBlock = 512
)

func sine(freq float64, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/testRate))
	}
	return out
}

// runBlocks feeds a mono signal through p in host-sized blocks.
func runBlocks(p *PitchShifter, in []float32) []float32 {
	out := make([]float32, len(in))
	copy(out, in)
	for start := 0; start+testBlock <= len(out); start += testBlock {
		p.Process([][]float32{out[start : start+testBlock]})
	}
	return out
}

// peakFrequency returns the frequency of the strongest FFT bin.
func peakFrequency(samples []float32) float64 {
	x := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = float64(s)
	}
	window.Apply(x, window.Hann)
	coeffs := fft.FFTReal(x)

	best, bestMag := 0, 0.0
	for i := 1; i < len(coeffs)/2; i++ {
		if m := cmplx.Abs(coeffs[i]); m > bestMag {
			best, bestMag = i, m
		}
	}
	return float64(best) * testRate / float64(len(x))
}

func TestPitchZeroIsIdentity(t *testing.T) {
	t.Parallel()

	p := NewPitchShifter(2)
	left, right := sine(440, testBlock), sine(1000, testBlock)
	wantL := append([]float32(nil), left...)
	wantR := append([]float32(nil), right...)

	p.Process([][]float32{left, right})
	assert.Equal(t, wantL, left)
	assert.Equal(t, wantR, right)

	p.SetSemitones(5)
	p.SetSemitones(0)
	p.Process([][]float32{left, right})
	assert.Equal(t, wantL, left, "returning to 0 bypasses again")
}

func TestPitchOctaveUpDoublesFrequency(t *testing.T) {
	t.Parallel()

	p := NewPitchShifter(1)
	p.SetSemitones(12)
	assert.InDelta(t, 2.0, p.Factor(), 1e-12)

	out := runBlocks(p, sine(441, 32768))
	got := peakFrequency(out[16384:])
	assert.InDelta(t, 882, got, 12)
}

func TestPitchOctaveRoundTrip(t *testing.T) {
	t.Parallel()

	up, down := NewPitchShifter(1), NewPitchShifter(1)
	up.SetSemitones(12)
	down.SetSemitones(-12)

	out := runBlocks(down, runBlocks(up, sine(441, 32768)))
	got := peakFrequency(out[16384:])
	assert.InDelta(t, 441, got, 8)
}

func TestPitchOutputStaysBounded(t *testing.T) {
	t.Parallel()

	p := NewPitchShifter(1)
	p.SetSemitones(-7)
	out := runBlocks(p, sine(300, 16384))
	for i, v := range out {
		require.LessOrEqual(t, math.Abs(float64(v)), 0.5+1e-6, "sample %d", i)
	}
}

func TestPitchSemitonesClamped(t *testing.T) {
	t.Parallel()

	p := NewPitchShifter(2)
	p.SetSemitones(40)
	assert.InDelta(t, float64(MaxSemitones), p.Semitones(), 0)
	p.SetSemitones(-40)
	assert.InDelta(t, -float64(MaxSemitones), p.Semitones(), 0)
	p.SetSemitones(math.NaN())
	assert.Zero(t, p.Semitones())
}

func TestPitchResetClearsHistory(t *testing.T) {
	t.Parallel()

	p := NewPitchShifter(1)
	p.SetSemitones(-12)
	runBlocks(p, sine(500, 8192))
	p.Reset()

	silent := make([]float32, testBlock)
	p.Process([][]float32{silent})
	assert.Equal(t, make([]float32, testBlock), silent)
}

func TestPitchProcessDoesNotAllocate(t *testing.T) {
	p := NewPitchShifter(2)
	p.SetSemitones(3)
	buf := [][]float32{sine(440, testBlock), sine(440, testBlock)}

	allocs := testing.AllocsPerRun(100, func() {
		p.Process(buf)
	})
	assert.Zero(t, allocs)
}

func BenchmarkPitchProcess(b *testing.B) {
	p := NewPitchShifter(2)
	p.SetSemitones(-5)
	buf := [][]float32{sine(440, testBlock), sine(440, testBlock)}

	b.ReportAllocs()
	for b.Loop() {
		p.Process(buf)
	}
}
