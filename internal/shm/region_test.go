//go:build unix

package shm

import (
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/deckbridge/internal/errors"
)

// newPair creates an engine region and a client attached to it.
func newPair(t *testing.T) (engine, client *Region) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "region.dat")

	engine = NewRegion(RoleEngine, path)
	require.NoError(t, engine.Initialize())
	t.Cleanup(func() { _ = engine.Close() })

	client = NewRegion(RoleClient, path)
	require.NoError(t, client.Initialize())
	t.Cleanup(func() { _ = client.Close() })
	return engine, client
}

func TestLayoutGeometry(t *testing.T) {
	t.Parallel()

	var l layout
	assert.Zero(t, unsafe.Offsetof(l.engineRunning))
	assert.Equal(t, uintptr(24), unsafe.Offsetof(l.lengthMs), "64-bit fields must stay 8-byte aligned")
	assert.Equal(t, uintptr(40), unsafe.Offsetof(l.flushMarker))
	assert.Equal(t, uintptr(headerBytes), unsafe.Offsetof(l.flushMarker)+unsafe.Sizeof(l.flushMarker))
	assert.Equal(t, uintptr(cacheLine), unsafe.Offsetof(l.audioWritePos), "header padding fills one cache line")
	assert.Zero(t, unsafe.Offsetof(l.audioWritePos)%cacheLine)
	assert.Zero(t, unsafe.Offsetof(l.audioReadPos)%cacheLine)
	assert.Zero(t, unsafe.Offsetof(l.commandWriteIndex)%cacheLine)
	assert.Zero(t, unsafe.Offsetof(l.commandReadIndex)%cacheLine)
	assert.Equal(t, 591168, RegionSize)
}

func TestEngineCreateAndClientAttach(t *testing.T) {
	t.Parallel()

	engine, client := newPair(t)

	info, err := os.Stat(engine.Path())
	require.NoError(t, err)
	assert.Equal(t, int64(RegionSize), info.Size())

	assert.True(t, engine.IsConnected())
	assert.True(t, client.IsConnected())
	assert.True(t, client.EngineStatus().WindowOpen, "window flag starts open")

	// idempotent
	require.NoError(t, engine.Initialize())
	require.NoError(t, client.Initialize())
}

func TestClientAbsentAndMismatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	absent := NewRegion(RoleClient, filepath.Join(dir, "missing.dat"))
	err := absent.Initialize()
	require.ErrorIs(t, err, ErrRegionAbsent)
	assert.True(t, errors.IsCategory(err, errors.CategoryConnection))
	assert.False(t, absent.IsConnected())

	small := filepath.Join(dir, "small.dat")
	require.NoError(t, os.WriteFile(small, make([]byte, 4096), 0o600))
	mismatch := NewRegion(RoleClient, small)
	err = mismatch.Initialize()
	require.ErrorIs(t, err, ErrRegionMismatch)
	assert.True(t, errors.IsCategory(err, errors.CategoryVersionMismatch))
	assert.False(t, mismatch.IsMapped())

	var ee *errors.EnhancedError
	require.True(t, errors.As(err, &ee))
	ctx := ee.GetContext()
	assert.Equal(t, "client", ctx["region_role"])
	assert.Equal(t, int64(RegionSize), ctx["expected_size"])
	assert.Equal(t, int64(4096), ctx["actual_size"])
}

func TestEngineReplacesStaleFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "region.dat")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o600))

	engine := NewRegion(RoleEngine, path)
	require.NoError(t, engine.Initialize())
	defer engine.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(RegionSize), info.Size())
}

func TestEngineCloseDisconnectsClient(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "region.dat")
	engine := NewRegion(RoleEngine, path)
	require.NoError(t, engine.Initialize())

	client := NewRegion(RoleClient, path)
	require.NoError(t, client.Initialize())
	defer client.Close()
	require.True(t, client.IsConnected())

	require.NoError(t, engine.Close())
	assert.False(t, client.IsConnected(), "client sees engineRunning cleared")
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "engine deletes the backing file")

	// Nothing to re-attach to: the stale mapping is dropped.
	require.ErrorIs(t, client.Initialize(), ErrRegionAbsent)
	assert.False(t, client.IsMapped())

	// A restarted engine is picked up.
	engine2 := NewRegion(RoleEngine, path)
	require.NoError(t, engine2.Initialize())
	defer engine2.Close()
	require.NoError(t, client.Initialize())
	assert.True(t, client.IsConnected())
}

func TestClientFollowsEngineRelaunchAfterCrash(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "region.dat")
	crashed := NewRegion(RoleEngine, path)
	require.NoError(t, crashed.Initialize())
	// Never closed before the relaunch: engineRunning stays set in the old file.
	t.Cleanup(func() { _ = crashed.Close() })

	client := NewRegion(RoleClient, path)
	require.NoError(t, client.Initialize())
	defer client.Close()
	require.True(t, client.IsConnected())
	assert.False(t, client.Superseded())

	relaunched := NewRegion(RoleEngine, path)
	require.NoError(t, relaunched.Initialize())
	defer relaunched.Close()

	assert.True(t, client.IsConnected(), "the old mapping still claims a running engine")
	assert.True(t, client.Superseded())

	require.NoError(t, client.Initialize())
	assert.False(t, client.Superseded())
	require.True(t, client.IsConnected())

	require.True(t, client.SendCommand([]byte(`{"type":"heartbeat"}`)))
	assert.JSONEq(t, `{"type":"heartbeat"}`, relaunched.GetNextCommand(), "commands reach the relaunched engine")
	assert.Empty(t, crashed.GetNextCommand())
}

func TestSupersededWhenFileRemoved(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "region.dat")
	engine := NewRegion(RoleEngine, path)
	require.NoError(t, engine.Initialize())
	t.Cleanup(func() { _ = engine.Close() })

	client := NewRegion(RoleClient, path)
	require.NoError(t, client.Initialize())
	defer client.Close()

	require.NoError(t, os.Remove(path))
	assert.True(t, client.Superseded())
	require.ErrorIs(t, client.Initialize(), ErrRegionAbsent)
	assert.False(t, client.IsMapped())
	assert.False(t, engine.Superseded(), "only client mappings are checked")
}

func TestUnmappedRegionIsInert(t *testing.T) {
	t.Parallel()

	r := NewRegion(RoleClient, filepath.Join(t.TempDir(), "none.dat"))
	dst := [][]float32{{1, 1}, {1, 1}}

	assert.False(t, r.PopAudio(dst))
	assert.Equal(t, []float32{0, 0}, dst[0])
	r.PushAudio(dst, 2)
	assert.False(t, r.SendCommand([]byte(`{"type":"play"}`)))
	assert.Empty(t, r.GetNextCommand())
	assert.Equal(t, Status{}, r.EngineStatus())
	assert.Zero(t, r.DawSampleRate())
	assert.NoError(t, r.Close())
}
