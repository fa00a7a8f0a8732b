package shm

import "math"

// Status mirrors the engine's transport state into the region.
type Status struct {
	Playing    bool
	Finished   bool
	WindowOpen bool
	Position   float32 // normalized 0..1
	LengthMs   int64
}

// SetEngineStatus publishes the engine status. Fields are stored one by
// one; a reader may observe a mix of two consecutive publishes, which is
// acceptable for display purposes.
func (r *Region) SetEngineStatus(s Status) {
	l := r.acquire()
	if l == nil {
		return
	}
	defer r.release()

	l.playing.Store(s.Playing)
	l.finished.Store(s.Finished)
	l.windowOpen.Store(s.WindowOpen)
	l.position.Store(math.Float32bits(s.Position))
	l.lengthMs.Store(s.LengthMs)
}

// EngineStatus reads the mirrored status. An unmapped region reads as all
// zero values.
func (r *Region) EngineStatus() Status {
	l := r.acquire()
	if l == nil {
		return Status{}
	}
	defer r.release()

	return Status{
		Playing:    l.playing.Load(),
		Finished:   l.finished.Load(),
		WindowOpen: l.windowOpen.Load(),
		Position:   math.Float32frombits(l.position.Load()),
		LengthMs:   l.lengthMs.Load(),
	}
}

// SetDawSampleRate publishes the host's sample rate. Client only.
func (r *Region) SetDawSampleRate(rate int) {
	l := r.acquire()
	if l == nil {
		return
	}
	defer r.release()
	l.dawSampleRate.Store(int32(rate)) //nolint:gosec // sample rates fit in int32
}

// DawSampleRate returns the last published host sample rate, 0 if none.
func (r *Region) DawSampleRate() int {
	l := r.acquire()
	if l == nil {
		return 0
	}
	defer r.release()
	return int(l.dawSampleRate.Load())
}
