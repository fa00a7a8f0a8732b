package media

import (
	"encoding/binary"

	"github.com/smallnest/ringbuffer"
)

const bytesPerFrame = 4 // S16LE stereo

// FIFO buffers interleaved 16-bit stereo PCM between a decoder and the
// pump loop. It is not synchronized; owners serialize access.
type FIFO struct {
	rb       *ringbuffer.RingBuffer
	readBuf  []byte
	smoothed float32
}

// NewFIFO returns a FIFO holding up to frames frames.
func NewFIFO(frames int) *FIFO {
	return &FIFO{
		rb:       ringbuffer.New(frames * bytesPerFrame),
		readBuf:  make([]byte, frames*bytesPerFrame),
		smoothed: 1,
	}
}

// Frames returns the number of frames ready to read.
func (f *FIFO) Frames() int { return f.rb.Length() / bytesPerFrame }

// FreeFrames returns the number of frames that can be written.
func (f *FIFO) FreeFrames() int { return f.rb.Free() / bytesPerFrame }

// Write appends as many whole frames of s16 as fit and returns the count.
// The rest is dropped.
func (f *FIFO) Write(s16 []byte) int {
	n := min(len(s16)/bytesPerFrame, f.FreeFrames())
	if n == 0 {
		return 0
	}
	written, _ := f.rb.Write(s16[:n*bytesPerFrame])
	return written / bytesPerFrame
}

// Read converts up to len(dst[0]) frames into dst, ramping the gain
// linearly from the previous call's gain to gain. Frames not available are
// zeroed. It returns the number of frames read.
func (f *FIFO) Read(dst [][]float32, gain float32) int {
	if len(dst) == 0 {
		return 0
	}
	k := min(len(dst[0]), f.Frames())
	if k > 0 {
		raw := f.readBuf[:k*bytesPerFrame]
		got, _ := f.rb.Read(raw)
		k = got / bytesPerFrame

		vol := f.smoothed
		step := (gain - f.smoothed) / float32(max(k, 1))
		for i := range k {
			l := float32(int16(binary.LittleEndian.Uint16(raw[i*4:]))) / 32768   //nolint:gosec // reinterpret as signed
			r := float32(int16(binary.LittleEndian.Uint16(raw[i*4+2:]))) / 32768 //nolint:gosec // reinterpret as signed
			dst[0][i] = l * vol
			if len(dst) > 1 {
				dst[1][i] = r * vol
			}
			vol += step
		}
		f.smoothed = gain
	}
	for _, ch := range dst {
		if k < len(ch) {
			clear(ch[k:])
		}
	}
	return k
}

// Reset drops all buffered frames.
func (f *FIFO) Reset() { f.rb.Reset() }

// AppendFrame encodes one stereo frame as S16LE onto dst.
func AppendFrame(dst []byte, l, r float32) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, uint16(toS16(l)))  //nolint:gosec // two's complement
	return binary.LittleEndian.AppendUint16(dst, uint16(toS16(r))) //nolint:gosec // two's complement
}

func toS16(v float32) int16 {
	s := v * 32767
	switch {
	case s > 32767:
		return 32767
	case s < -32768:
		return -32768
	}
	return int16(s)
}
