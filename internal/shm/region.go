// Package shm implements the shared-memory transport between the host
// client and the media engine: a single file-backed mapping holding the
// engine status, a lock-free SPSC audio ring and a bounded command queue.
//
// All cross-process state lives in fixed fields accessed through
// sync/atomic. The audio methods are safe to call from a real-time
// callback: they never allocate, lock, log or make system calls.
package shm

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/tphakala/deckbridge/internal/errors"
	"github.com/tphakala/deckbridge/internal/logger"
)

// Role selects which side of the transport a Region plays.
type Role int

const (
	// RoleEngine creates the region and owns the producer side.
	RoleEngine Role = iota
	// RoleClient attaches to an existing region and owns the consumer side.
	RoleClient
)

func (r Role) String() string {
	if r == RoleEngine {
		return "engine"
	}
	return "client"
}

// Region is one process's handle on the shared mapping.
type Region struct {
	role Role
	path string

	mu  sync.Mutex // serializes Initialize and Close
	mem []byte

	view     atomic.Pointer[layout]
	inflight atomic.Int32 // data-path calls currently using view

	underruns atomic.Uint64 // consumer-local
	flushSeen atomic.Uint32 // consumer-local, last applied discontinuity epoch

	mapped os.FileInfo // identity of the file behind a client mapping
}

// NewRegion returns an unmapped region handle for the given backing file.
func NewRegion(role Role, path string) *Region {
	return &Region{role: role, path: path}
}

// Role reports which side this handle plays.
func (r *Region) Role() Role { return r.role }

// Path returns the backing file path.
func (r *Region) Path() string { return r.path }

// Initialize creates (engine) or attaches to (client) the region. It is
// idempotent and cheap enough to call from a retry timer.
//
// In the client role a missing file yields ErrRegionAbsent and a file of
// the wrong size yields ErrRegionMismatch. A client still mapped to a
// region whose engine has gone away, or whose file was replaced by a
// relaunched engine, drops that mapping and tries again.
func (r *Region) Initialize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l := r.view.Load(); l != nil {
		if r.role == RoleEngine || (l.engineRunning.Load() && !r.supersededLocked()) {
			return nil
		}
		if err := r.detachLocked(); err != nil {
			GetLogger().Warn("failed to drop stale mapping", logger.Error(err))
		}
	}

	if r.role == RoleEngine {
		return r.create()
	}
	return r.attach()
}

func (r *Region) create() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		GetLogger().Warn("could not remove stale region file",
			logger.String("path", r.path),
			logger.Error(err))
	}

	f, err := os.OpenFile(r.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600) //nolint:gosec // path from config
	if err != nil {
		return r.createError(err, "open")
	}
	defer f.Close()

	// Truncate extends with zeros, which is the initial state of every field.
	if err := f.Truncate(int64(RegionSize)); err != nil {
		return r.createError(err, "truncate")
	}

	mem, err := mapFile(f, RegionSize)
	if err != nil {
		return r.createError(err, "mmap")
	}

	l := layoutAt(mem)
	l.windowOpen.Store(true)
	l.engineRunning.Store(true)

	r.mem = mem
	r.view.Store(l)

	GetLogger().Info("shared region created",
		logger.String("path", r.path),
		logger.Int("size", RegionSize))
	return nil
}

func (r *Region) createError(err error, op string) error {
	return errors.New(fmt.Errorf("%w: %s: %w", ErrRegionCreate, op, err)).
		Component("shm").
		Category(errors.CategorySystem).
		Context("operation", "region_"+op).
		FileContext(r.path, 0).
		Build()
}

func (r *Region) attach() error {
	f, err := os.OpenFile(r.path, os.O_RDWR, 0) //nolint:gosec // path from config
	if err != nil {
		return ErrRegionAbsent
	}
	defer f.Close()

	// Stat the open handle so size and identity describe the file we map,
	// even if the engine replaces the path meanwhile.
	info, err := f.Stat()
	if err != nil {
		return ErrRegionAbsent
	}
	if info.Size() != int64(RegionSize) {
		return errors.New(fmt.Errorf("%w: expected %d bytes, found %d", ErrRegionMismatch, RegionSize, info.Size())).
			Component("shm").
			Category(errors.CategoryVersionMismatch).
			RegionContext(r.role.String(), int64(RegionSize), info.Size()).
			Build()
	}

	mem, err := mapFile(f, RegionSize)
	if err != nil {
		return fmt.Errorf("%w: mmap: %w", ErrRegionAbsent, err)
	}

	l := layoutAt(mem)
	// Markers published before we attached refer to audio we never saw.
	r.flushSeen.Store(uint32(l.flushMarker.Load() >> 32))
	r.mem = mem
	r.mapped = info
	r.view.Store(l)
	return nil
}

// Superseded reports whether the file behind a client mapping has been
// removed or replaced since it was attached. An engine that dies without
// Close leaves engineRunning set in the old mapping; a relaunched engine
// recreates the file, so the identity check is what reveals the restart.
func (r *Region) Superseded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.supersededLocked()
}

func (r *Region) supersededLocked() bool {
	if r.role != RoleClient || r.mapped == nil {
		return false
	}
	info, err := os.Stat(r.path)
	return err != nil || !os.SameFile(r.mapped, info)
}

// MappedFile returns the identity of the file behind a client mapping, or
// nil when unmapped.
func (r *Region) MappedFile() os.FileInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mapped
}

// IsConnected reports whether the region is mapped and the engine has
// marked itself running.
func (r *Region) IsConnected() bool {
	l := r.acquire()
	if l == nil {
		return false
	}
	defer r.release()
	return l.engineRunning.Load()
}

// IsMapped reports whether this handle currently holds a mapping.
func (r *Region) IsMapped() bool {
	return r.view.Load() != nil
}

// Close unmaps the region. In the engine role it first clears the running
// flag and afterwards deletes the backing file.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.view.Load()
	if l == nil {
		return nil
	}
	if r.role == RoleEngine {
		l.engineRunning.Store(false)
	}

	err := r.detachLocked()

	if r.role == RoleEngine {
		if rmErr := os.Remove(r.path); rmErr != nil && !os.IsNotExist(rmErr) {
			err = errors.Join(err, rmErr)
		}
		GetLogger().Info("shared region removed", logger.String("path", r.path))
	}
	return err
}

// detachLocked unpublishes the view, waits for in-flight data-path calls
// to finish and unmaps. Caller holds r.mu.
func (r *Region) detachLocked() error {
	r.view.Store(nil)
	for r.inflight.Load() != 0 {
		runtime.Gosched()
	}
	mem := r.mem
	r.mem = nil
	r.mapped = nil
	if mem == nil {
		return nil
	}
	return unmapFile(mem)
}

// acquire pins the current view for the duration of one data-path call.
// A nil result means unmapped; release must not be called then.
func (r *Region) acquire() *layout {
	r.inflight.Add(1)
	l := r.view.Load()
	if l == nil {
		r.inflight.Add(-1)
	}
	return l
}

func (r *Region) release() {
	r.inflight.Add(-1)
}
