package shm

import (
	"bytes"

	"github.com/tphakala/deckbridge/internal/conf"
)

// SendCommand enqueues one text command. Payloads longer than
// MaxCommandBytes are truncated. It returns false without writing when the
// region is unmapped or the queue is full; one slot is always left empty
// to tell full from empty, so at most CommandSlots-1 commands are pending.
func (r *Region) SendCommand(payload []byte) bool {
	l := r.acquire()
	if l == nil {
		return false
	}
	defer r.release()

	w := l.commandWriteIndex.Load()
	next := (w + 1) % conf.CommandSlots
	if next == l.commandReadIndex.Load() {
		return false
	}

	slot := &l.commands[w]
	n := copy(slot.data[:MaxCommandBytes], payload)
	clear(slot.data[n:])

	slot.ready.Store(true)
	l.commandWriteIndex.Store(next)
	return true
}

// NextCommand copies the oldest pending command into buf and consumes it.
// It returns the number of bytes copied and whether a command was present.
// A buf shorter than the payload receives a truncated copy; callers that
// care pass a buffer of conf.CommandSlotBytes.
func (r *Region) NextCommand(buf []byte) (int, bool) {
	l := r.acquire()
	if l == nil {
		return 0, false
	}
	defer r.release()

	rd := l.commandReadIndex.Load()
	if rd == l.commandWriteIndex.Load() {
		return 0, false
	}
	slot := &l.commands[rd]
	if !slot.ready.Load() {
		return 0, false
	}

	payload := slot.data[:]
	if i := bytes.IndexByte(payload, 0); i >= 0 {
		payload = payload[:i]
	}
	n := copy(buf, payload)

	slot.ready.Store(false)
	l.commandReadIndex.Store((rd + 1) % conf.CommandSlots)
	return n, true
}

// GetNextCommand is the allocating convenience form of NextCommand. It
// returns "" when nothing is pending.
func (r *Region) GetNextCommand() string {
	var buf [conf.CommandSlotBytes]byte
	n, ok := r.NextCommand(buf[:])
	if !ok {
		return ""
	}
	return string(buf[:n])
}

// PendingCommands returns how many commands are queued.
func (r *Region) PendingCommands() int {
	l := r.acquire()
	if l == nil {
		return 0
	}
	defer r.release()
	return int((l.commandWriteIndex.Load() - l.commandReadIndex.Load() + conf.CommandSlots) % conf.CommandSlots)
}
