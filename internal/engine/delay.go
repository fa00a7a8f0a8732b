package engine

import "github.com/tphakala/deckbridge/internal/conf"

// DelayLine postpones audio by a fixed offset so it lines up with video
// shown by the engine. Storage is allocated once; retuning never
// reallocates.
type DelayLine struct {
	buf          [conf.NumChannels][]float32
	writePos     int
	totalWritten int64

	delayMs int
	delay   int // frames
	rate    int
	block   int
}

// NewDelayLine returns a delay line holding capacity frames per channel.
// block is the largest block Process will see.
func NewDelayLine(capacity, block, rate, delayMs int) *DelayLine {
	d := &DelayLine{rate: rate, block: block}
	for ch := range d.buf {
		d.buf[ch] = make([]float32, capacity)
	}
	d.SetDelayMs(delayMs)
	return d
}

// SetDelayMs sets the offset. It is clamped to [0, capacity-block] frames.
func (d *DelayLine) SetDelayMs(ms int) {
	d.delayMs = ms
	d.delay = d.clamp(ms * d.rate / 1000)
}

// SetSampleRate recomputes the offset in frames for a new output rate.
func (d *DelayLine) SetSampleRate(rate int) {
	if rate <= 0 {
		return
	}
	d.rate = rate
	d.SetDelayMs(d.delayMs)
}

func (d *DelayLine) clamp(frames int) int {
	return max(0, min(frames, len(d.buf[0])-d.block))
}

// DelayMs returns the configured offset in milliseconds.
func (d *DelayLine) DelayMs() int { return d.delayMs }

// DelayFrames returns the effective offset in frames.
func (d *DelayLine) DelayFrames() int { return d.delay }

// Process delays block in place. Until enough audio has been written to
// cover the offset, the block is replaced by silence. History is kept even
// at zero delay so that a later retune reads real audio.
func (d *DelayLine) Process(block [][]float32) {
	if len(block) == 0 {
		return
	}
	n := len(block[0])
	size := len(d.buf[0])

	for ch := range min(len(block), len(d.buf)) {
		line := d.buf[ch]
		for i, s := range block[ch] {
			line[(d.writePos+i)%size] = s
		}
	}
	d.writePos = (d.writePos + n) % size
	d.totalWritten += int64(n)

	if d.delay == 0 {
		return
	}
	if d.totalWritten < int64(d.delay+n) {
		for _, ch := range block {
			clear(ch)
		}
		return
	}

	readPos := (d.writePos - d.delay - n + 2*size) % size
	for ch := range min(len(block), len(d.buf)) {
		line := d.buf[ch]
		out := block[ch]
		for i := range out {
			out[i] = line[(readPos+i)%size]
		}
	}
}

// Flush drops all history so priming starts over.
func (d *DelayLine) Flush() {
	for ch := range d.buf {
		clear(d.buf[ch])
	}
	d.writePos = 0
	d.totalWritten = 0
}
