//go:build unix

package client

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/deckbridge/internal/command"
	"github.com/tphakala/deckbridge/internal/conf"
	"github.com/tphakala/deckbridge/internal/errors"
	"github.com/tphakala/deckbridge/internal/observability/metrics"
	"github.com/tphakala/deckbridge/internal/shm"
)

// fakeLauncher records launches without starting anything. If region is
// set, Start brings up an engine region like a real engine would.
type fakeLauncher struct {
	mu        sync.Mutex
	starts    int
	kills     int
	running   bool
	exitAfter int // Running polls before a running engine exits; 0 never
	polls     int
	region    *shm.Region
	startErr  error
}

func (f *fakeLauncher) Start(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	if f.region != nil {
		return f.region.Initialize()
	}
	return nil
}

func (f *fakeLauncher) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.running && f.exitAfter > 0 && f.polls >= f.exitAfter {
		f.running = false
	}
	return f.running
}

func (f *fakeLauncher) Kill() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills++
	f.running = false
	return nil
}

// exit simulates the engine process dying without closing its region. The
// next Start brings up next instead.
func (f *fakeLauncher) exit(next *shm.Region) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.region = next
}

func (f *fakeLauncher) counts() (starts, kills int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.kills
}

func testClientSettings() conf.ClientSettings {
	return conf.ClientSettings{
		RetryInterval:     time.Millisecond,
		ConnectedInterval: 2 * time.Millisecond,
		MaxRetries:        5,
		QuitGrace:         30 * time.Millisecond,
		LaunchEngine:      true,
	}
}

func regionPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "region.dat")
}

// startEngine creates the engine side of the region.
func startEngine(t *testing.T, path string) *shm.Region {
	t.Helper()
	engine := shm.NewRegion(shm.RoleEngine, path)
	require.NoError(t, engine.Initialize())
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

// connectedClient returns a client attached with a single tick, without a
// timer goroutine.
func connectedClient(t *testing.T) (*Client, *shm.Region) {
	t.Helper()
	path := regionPath(t)
	engine := startEngine(t, path)

	c := New(testClientSettings(), shm.NewRegion(shm.RoleClient, path))
	t.Cleanup(func() { _ = c.Close() })
	_, ok := c.tick(t.Context())
	require.True(t, ok)
	require.True(t, c.Connected())
	return c, engine
}

func drain(engine *shm.Region) []command.Command {
	var out []command.Command
	buf := make([]byte, conf.CommandSlotBytes)
	for {
		n, ok := engine.NextCommand(buf)
		if !ok {
			return out
		}
		cmd, err := command.Decode(buf[:n])
		if err == nil {
			out = append(out, cmd)
		}
	}
}

func kinds(cmds []command.Command) []command.Kind {
	out := make([]command.Kind, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, c.Kind)
	}
	return out
}

func TestRetryBoundedWithoutEngine(t *testing.T) {
	t.Parallel()

	launcher := &fakeLauncher{}
	m, err := metrics.NewTransportMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	c := New(testClientSettings(), shm.NewRegion(shm.RoleClient, regionPath(t)),
		WithLauncher(launcher), WithMetrics(m))
	c.Start(t.Context())
	defer func() { require.NoError(t, c.Close()) }()

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.parked
	}, 2*time.Second, time.Millisecond)

	c.mu.Lock()
	retries := c.retries
	c.mu.Unlock()
	assert.Equal(t, 5, retries)

	// Parked: nothing more happens on its own.
	time.Sleep(20 * time.Millisecond)
	c.mu.Lock()
	assert.Equal(t, 5, c.retries)
	c.mu.Unlock()
	assert.False(t, c.Connected())

	// The launcher reports running after the first start, so it is not
	// started again.
	starts, _ := launcher.counts()
	assert.Equal(t, 1, starts)
}

func TestReconnectRearmsRetries(t *testing.T) {
	t.Parallel()

	path := regionPath(t)
	c := New(testClientSettings(), shm.NewRegion(shm.RoleClient, path))
	c.Start(t.Context())
	defer func() { require.NoError(t, c.Close()) }()

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.parked
	}, 2*time.Second, time.Millisecond)

	startEngine(t, path)
	c.Reconnect()
	require.Eventually(t, c.Connected, 2*time.Second, time.Millisecond)
}

func TestLauncherStartsEngineAndClientConnects(t *testing.T) {
	t.Parallel()

	path := regionPath(t)
	engine := shm.NewRegion(shm.RoleEngine, path)
	t.Cleanup(func() { _ = engine.Close() })
	launcher := &fakeLauncher{region: engine}

	cfg := testClientSettings()
	cfg.QuitGrace = 0
	c := New(cfg, shm.NewRegion(shm.RoleClient, path), WithLauncher(launcher))
	c.Start(t.Context())

	require.Eventually(t, c.Connected, 2*time.Second, time.Millisecond)

	require.NoError(t, c.Close())
	_, kills := launcher.counts()
	assert.Equal(t, 1, kills, "an engine that ignores quit is killed")
}

func TestConnectSendsShowWindowThenHeartbeats(t *testing.T) {
	t.Parallel()

	c, engine := connectedClient(t)
	c.tick(t.Context())

	got := kinds(drain(engine))
	require.GreaterOrEqual(t, len(got), 3)
	assert.Equal(t, command.KindShowWindow, got[0])
	assert.Equal(t, command.KindHeartbeat, got[1])
	assert.Equal(t, command.KindHeartbeat, got[2])
	assert.NotContains(t, got[1:], command.KindShowWindow, "show_window is sent once per connection")
}

func TestStatusSnapshotMirrorsEngine(t *testing.T) {
	t.Parallel()

	c, engine := connectedClient(t)
	engine.SetEngineStatus(shm.Status{Playing: true, WindowOpen: true, Position: 0.5, LengthMs: 1234})
	c.tick(t.Context())

	p := NewRemotePlayer(c)
	assert.True(t, p.IsPlaying())
	assert.False(t, p.HasFinished())
	assert.True(t, p.IsWindowOpen())
	assert.InDelta(t, 0.5, p.Position(), 1e-6)
	assert.Equal(t, int64(1234), p.LengthMs())
}

func TestEngineShutdownDisconnects(t *testing.T) {
	t.Parallel()

	c, engine := connectedClient(t)
	require.NoError(t, engine.Close())

	c.tick(t.Context())
	assert.False(t, c.Connected())
	assert.Equal(t, shm.Status{}, c.Status())

	err := NewRemotePlayer(c).Play()
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestRemotePlayerSendsCommands(t *testing.T) {
	t.Parallel()

	c, engine := connectedClient(t)
	drain(engine)
	p := NewRemotePlayer(c)

	require.NoError(t, p.LoadFile("/media/clip.flac", 0.7, 1.5))
	require.NoError(t, p.Play())
	require.NoError(t, p.SetPosition(0.25))
	require.NoError(t, p.SetVolume(0.3))
	require.NoError(t, p.SetRate(0.5))
	require.NoError(t, p.Stop())

	got := drain(engine)
	require.Len(t, got, 6)
	assert.Equal(t, command.Load("/media/clip.flac", 0.7, 1.5), got[0])
	assert.Equal(t, command.Simple(command.KindPlay), got[1])
	assert.Equal(t, command.Seek(0.25), got[2])
	assert.Equal(t, command.Volume(0.3), got[3])
	assert.Equal(t, command.Rate(0.5), got[4])
	assert.Equal(t, command.Simple(command.KindStop), got[5])
}

func TestRemotePlayerValidates(t *testing.T) {
	t.Parallel()

	c, engine := connectedClient(t)
	drain(engine)
	p := NewRemotePlayer(c)

	for _, err := range []error{
		p.LoadFile("", 1, 1),
		p.SetPosition(1.5),
		p.SetVolume(-1),
		p.SetRate(0),
	} {
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation), err.Error())
	}
	assert.Empty(t, drain(engine))
}

// fill returns a stereo block of n frames holding v.
func fill(n int, v float32) [][]float32 {
	block := [][]float32{make([]float32, n), make([]float32, n)}
	for i := range n {
		block[0][i] = v
		block[1][i] = v
	}
	return block
}

func TestDiscontinuitySkipsAudioBeforeEngineMark(t *testing.T) {
	t.Parallel()

	c, engine := connectedClient(t)
	engine.PushAudio(fill(512, 0.1), 512)
	engine.PushAudio(fill(512, 0.1), 512)

	p := NewRemotePlayer(c)
	require.NoError(t, p.Pause())
	assert.Equal(t, 1024, engine.AvailableFrames(), "sending a command leaves the ring alone")

	// The engine pushes one more block before it dequeues the pause.
	engine.PushAudio(fill(256, 0.1), 256)
	engine.MarkDiscontinuity()
	engine.PushAudio(fill(256, 0.5), 256)

	out := [][]float32{make([]float32, 256), make([]float32, 256)}
	c.Render(out)
	assert.InDelta(t, float32(0.5), out[0][0], 0)
	assert.InDelta(t, float32(0.5), out[1][255], 0)
	assert.Zero(t, engine.AvailableFrames())
}

func TestRelaunchedEngineReplacesCrashedOne(t *testing.T) {
	t.Parallel()

	c, crashed := connectedClient(t)
	drain(crashed)

	// The crashed engine never closes, so its running flag stays set.
	relaunched := startEngine(t, c.region.Path())

	c.tick(t.Context())
	require.True(t, c.Connected())
	assert.Empty(t, drain(crashed))
	got := kinds(drain(relaunched))
	require.NotEmpty(t, got)
	assert.Equal(t, command.KindShowWindow, got[0], "a fresh connection to the relaunched engine")
	assert.Contains(t, got, command.KindHeartbeat)
}

func TestLaunchedEngineExitDisconnects(t *testing.T) {
	t.Parallel()

	path := regionPath(t)
	first := shm.NewRegion(shm.RoleEngine, path)
	t.Cleanup(func() { _ = first.Close() })
	launcher := &fakeLauncher{region: first}

	c := New(testClientSettings(), shm.NewRegion(shm.RoleClient, path), WithLauncher(launcher))
	t.Cleanup(func() { _ = c.Close() })

	c.tick(t.Context())
	c.tick(t.Context())
	require.True(t, c.Connected())
	drain(first)

	second := shm.NewRegion(shm.RoleEngine, path)
	t.Cleanup(func() { _ = second.Close() })
	launcher.exit(second)

	c.tick(t.Context())
	assert.False(t, c.Connected(), "an exited engine is not trusted even though its flag is set")
	starts, _ := launcher.counts()
	assert.Equal(t, 2, starts)

	c.tick(t.Context())
	require.True(t, c.Connected())
	assert.Empty(t, drain(first))
	assert.Contains(t, kinds(drain(second)), command.KindHeartbeat)
}

func TestQueueFullReturnsError(t *testing.T) {
	t.Parallel()

	c, _ := connectedClient(t) // show_window + heartbeat already queued
	p := NewRemotePlayer(c)

	sent := 0
	var err error
	for range conf.CommandSlots {
		if err = p.Play(); err != nil {
			break
		}
		sent++
	}
	assert.Equal(t, conf.CommandSlots-3, sent)
	require.ErrorIs(t, err, ErrQueueFull)
	assert.True(t, errors.IsCategory(err, errors.CategoryCommandQueue))
}

func TestTrigger(t *testing.T) {
	t.Parallel()

	c, engine := connectedClient(t)
	drain(engine)
	p := NewRemotePlayer(c)

	require.NoError(t, p.Trigger(NoteTogglePlay))
	engine.SetEngineStatus(shm.Status{Playing: true})
	c.tick(t.Context())
	require.NoError(t, p.Trigger(NoteTogglePlay))
	require.NoError(t, p.Trigger(NoteStop))
	require.NoError(t, p.Trigger(NoteShowWindow))
	require.ErrorIs(t, p.Trigger(60), ErrUnmappedNote)

	var got []command.Kind
	for _, k := range kinds(drain(engine)) {
		if k != command.KindHeartbeat {
			got = append(got, k)
		}
	}
	assert.Equal(t, []command.Kind{
		command.KindPlay, command.KindPause, command.KindStop, command.KindShowWindow,
	}, got)
}

func TestPrepareAndRender(t *testing.T) {
	t.Parallel()

	c, engine := connectedClient(t)

	block := [][]float32{make([]float32, 256), make([]float32, 256)}
	for i := range block[0] {
		block[0][i] = 0.25
		block[1][i] = -0.25
	}
	engine.PushAudio(block, 256)

	c.Prepare(48000, 256)
	assert.Equal(t, 48000, engine.DawSampleRate())
	assert.Zero(t, engine.AvailableFrames(), "prepare flushes the ring")

	engine.PushAudio(block, 256)
	out := [][]float32{make([]float32, 256), make([]float32, 256)}
	c.Render(out)
	assert.InDelta(t, float32(0.25), out[0][100], 0)
	assert.InDelta(t, float32(-0.25), out[1][255], 0)

	// Underrun renders silence.
	c.Render(out)
	assert.Zero(t, out[0][0])
	assert.Zero(t, out[1][255])
}

func TestHostRatePublishedOnConnect(t *testing.T) {
	t.Parallel()

	path := regionPath(t)
	c := New(testClientSettings(), shm.NewRegion(shm.RoleClient, path))
	t.Cleanup(func() { _ = c.Close() })
	c.Prepare(96000, 512)

	engine := startEngine(t, path)
	c.tick(t.Context())
	require.True(t, c.Connected())
	assert.Equal(t, 96000, engine.DawSampleRate())
}

func TestRenderDoesNotAllocate(t *testing.T) {
	c, engine := connectedClient(t)
	c.SetPitchSemitones(7)
	block := [][]float32{make([]float32, 512), make([]float32, 512)}
	out := [][]float32{make([]float32, 512), make([]float32, 512)}

	allocs := testing.AllocsPerRun(50, func() {
		engine.PushAudio(block, 512)
		c.Render(out)
	})
	assert.Zero(t, allocs)
}

func TestCloseQuitsGracefully(t *testing.T) {
	t.Parallel()

	c, engine := connectedClient(t)
	launcher := &fakeLauncher{running: true, exitAfter: 3}
	c.launcher = launcher

	require.NoError(t, c.Close())
	_, kills := launcher.counts()
	assert.Zero(t, kills, "engine exited within the grace period")
	assert.Contains(t, kinds(drain(engine)), command.KindQuit)
	assert.False(t, c.Connected())
	require.NoError(t, c.Close(), "close is idempotent")
}

func TestLaunchFailureIsCounted(t *testing.T) {
	t.Parallel()

	launcher := &fakeLauncher{startErr: errors.NewStd("exec format error")}
	m, err := metrics.NewTransportMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	c := New(testClientSettings(), shm.NewRegion(shm.RoleClient, regionPath(t)),
		WithLauncher(launcher), WithMetrics(m))
	t.Cleanup(func() { _ = c.Close() })

	for range 3 {
		c.tick(t.Context())
	}
	starts, _ := launcher.counts()
	assert.Equal(t, 3, starts, "a failed launch is retried on the next tick")
}
