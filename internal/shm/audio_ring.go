package shm

import "github.com/tphakala/deckbridge/internal/conf"

// AudioProducer is the engine side of the audio ring.
type AudioProducer interface {
	PushAudio(channels [][]float32, frames int)
}

// AudioConsumer is the client side of the audio ring.
type AudioConsumer interface {
	PopAudio(dst [][]float32) bool
}

// RingStats is a point-in-time view of the audio ring.
type RingStats struct {
	AvailableFrames int
	Underruns       uint64 // counted by this process's consumer
	Overruns        uint64 // counted by the engine in the region
}

var (
	_ AudioProducer = (*Region)(nil)
	_ AudioConsumer = (*Region)(nil)
)

func availableSamples(w, r int32) int32 {
	return (w - r + RingSamples) & ringMask
}

// PushAudio interleaves up to two channels of frames into the ring and
// publishes the new write index. Missing channels are written as silence
// and extra channels are ignored. The producer never waits: if the write
// laps unread data the overrun counter is bumped and the oldest audio is
// overwritten.
func (r *Region) PushAudio(channels [][]float32, frames int) {
	if frames <= 0 {
		return
	}
	l := r.acquire()
	if l == nil {
		return
	}
	defer r.release()

	w := l.audioWritePos.Load()
	used := availableSamples(w, l.audioReadPos.Load())
	if int(used)+frames*conf.NumChannels >= RingSamples {
		l.audioOverruns.Add(1)
	}

	var left, right []float32
	if len(channels) > 0 {
		left = channels[0]
	}
	if len(channels) > 1 {
		right = channels[1]
	}

	for i := range frames {
		var ls, rs float32
		if i < len(left) {
			ls = left[i]
		}
		if i < len(right) {
			rs = right[i]
		}
		l.audio[w] = ls
		l.audio[(w+1)&ringMask] = rs
		w = (w + 2) & ringMask
	}

	l.audioWritePos.Store(w)
}

// PopAudio fills dst with len(dst[0]) frames, or fewer when a second
// channel is shorter; the unfilled tails are zeroed. When fewer frames are
// available, or the region is unmapped, dst is zeroed, the read index is
// left alone and false is returned. A single dst channel receives the left
// signal; channels past the second are zeroed.
//
// A discontinuity marked by the producer since the previous call is
// applied first: the read index jumps to where post-discontinuity audio
// starts. PopAudio is the only writer of the read index.
func (r *Region) PopAudio(dst [][]float32) bool {
	if len(dst) == 0 {
		return false
	}
	frames := len(dst[0])
	if len(dst) > 1 {
		frames = min(frames, len(dst[1]))
	}

	l := r.acquire()
	if l == nil {
		zero(dst)
		return false
	}
	defer r.release()

	rd := l.audioReadPos.Load()
	if m := l.flushMarker.Load(); uint32(m>>32) != r.flushSeen.Load() {
		r.flushSeen.Store(uint32(m >> 32))
		rd = int32(uint32(m)) & ringMask //nolint:gosec // ring index fits in int32
		l.audioReadPos.Store(rd)
	}

	avail := int(availableSamples(l.audioWritePos.Load(), rd)) / conf.NumChannels
	if avail < frames || frames == 0 {
		zero(dst)
		if len(dst[0]) > 0 {
			r.underruns.Add(1)
		}
		return false
	}

	left := dst[0]
	var right []float32
	if len(dst) > 1 {
		right = dst[1]
		clear(right[frames:])
	}
	for i := range frames {
		left[i] = l.audio[rd]
		if right != nil {
			right[i] = l.audio[(rd+1)&ringMask]
		}
		rd = (rd + 2) & ringMask
	}
	clear(left[frames:])
	for _, ch := range dst[min(len(dst), 2):] {
		clear(ch)
	}

	l.audioReadPos.Store(rd)
	return true
}

// FlushAudioBuffer resets both ring indices and zeroes the audio memory.
// It writes the producer's index as well, so it is only used while the
// producer is known to be idle: at engine startup and in the host's
// prepare step before playback resumes. A pending discontinuity marker is
// consumed, since its index refers to audio that no longer exists.
func (r *Region) FlushAudioBuffer() {
	l := r.acquire()
	if l == nil {
		return
	}
	defer r.release()

	r.flushSeen.Store(uint32(l.flushMarker.Load() >> 32))
	l.audioReadPos.Store(0)
	l.audioWritePos.Store(0)
	clear(l.audio[:])
}

// MarkDiscontinuity records that audio written so far belongs to playback
// state the engine has just left behind (load, seek, stop, pause, rate).
// The consumer drops it on its next pop. Only the producer calls it, after
// the command has been applied, so every block pushed afterwards is kept.
func (r *Region) MarkDiscontinuity() {
	l := r.acquire()
	if l == nil {
		return
	}
	defer r.release()

	epoch := uint32(l.flushMarker.Load()>>32) + 1
	l.flushMarker.Store(uint64(epoch)<<32 | uint64(uint32(l.audioWritePos.Load()))) //nolint:gosec // index is non-negative
}

// AvailableFrames returns the number of whole frames queued.
func (r *Region) AvailableFrames() int {
	l := r.acquire()
	if l == nil {
		return 0
	}
	defer r.release()
	return int(availableSamples(l.audioWritePos.Load(), l.audioReadPos.Load())) / conf.NumChannels
}

// Stats returns ring occupancy and the loss counters.
func (r *Region) Stats() RingStats {
	s := RingStats{Underruns: r.underruns.Load()}
	l := r.acquire()
	if l == nil {
		return s
	}
	defer r.release()
	s.AvailableFrames = int(availableSamples(l.audioWritePos.Load(), l.audioReadPos.Load())) / conf.NumChannels
	s.Overruns = l.audioOverruns.Load()
	return s
}

func zero(dst [][]float32) {
	for _, ch := range dst {
		clear(ch)
	}
}
