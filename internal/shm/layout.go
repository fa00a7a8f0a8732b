package shm

import (
	"sync/atomic"
	"unsafe"

	"github.com/tphakala/deckbridge/internal/conf"
)

const (
	// RingSamples is the audio ring capacity in interleaved float slots.
	RingSamples = conf.RingFrames * conf.NumChannels

	ringMask = RingSamples - 1

	// MaxCommandBytes is the longest payload a slot carries; one byte is
	// reserved for the terminating zero.
	MaxCommandBytes = conf.CommandSlotBytes - 1

	cacheLine = 64

	// headerBytes is the size of the status fields at the start of layout:
	// four 4-byte atomic.Bool, two 4-byte words and three 8-byte words.
	headerBytes = 4*4 + 2*4 + 3*8
)

// Compile-time check that the ring can be indexed with a mask.
var _ = [1]struct{}{}[RingSamples&(RingSamples-1)]

// commandSlot holds one text command. The payload runs up to the first
// zero byte.
type commandSlot struct {
	ready atomic.Bool
	_     [cacheLine - 4]byte
	data  [conf.CommandSlotBytes]byte
}

// layout is overlaid on the mapped file. Field order and sizes are part of
// the cross-process contract; RegionVersion must change with them.
//
// Ownership: the engine writes everything except dawSampleRate,
// audioReadPos, commandWriteIndex, slot data and setting slot ready flags.
// audioReadPos has exactly one writer, the client's real-time consumer.
// flushMarker packs a discontinuity epoch (high 32 bits) with the write
// index at which post-discontinuity audio starts (low 32 bits).
type layout struct {
	engineRunning atomic.Bool
	playing       atomic.Bool
	finished      atomic.Bool
	windowOpen    atomic.Bool
	position      atomic.Uint32 // float32 bits, normalized 0..1
	dawSampleRate atomic.Int32
	lengthMs      atomic.Int64
	audioOverruns atomic.Uint64
	flushMarker   atomic.Uint64
	_             [cacheLine - headerBytes]byte

	audioWritePos atomic.Int32
	_             [cacheLine - 4]byte
	audioReadPos  atomic.Int32
	_             [cacheLine - 4]byte

	commandWriteIndex atomic.Int32
	_                 [cacheLine - 4]byte
	commandReadIndex  atomic.Int32
	_                 [cacheLine - 4]byte

	commands [conf.CommandSlots]commandSlot
	audio    [RingSamples]float32
}

// RegionSize is the exact byte size of the backing file. An attach against
// a file of any other size is treated as a version mismatch.
const RegionSize = int(unsafe.Sizeof(layout{}))

func layoutAt(mem []byte) *layout {
	return (*layout)(unsafe.Pointer(&mem[0]))
}
