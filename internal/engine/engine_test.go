package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/deckbridge/internal/command"
	"github.com/tphakala/deckbridge/internal/conf"
	"github.com/tphakala/deckbridge/internal/errors"
	"github.com/tphakala/deckbridge/internal/observability/metrics"
	"github.com/tphakala/deckbridge/internal/shm"
)

// mockBackend is a testify mock of MediaBackend.
type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) AvailableFrames() int      { return m.Called().Int(0) }
func (m *mockBackend) PullBlock(dst [][]float32) { m.Called(dst) }
func (m *mockBackend) Load(path string) bool     { return m.Called(path).Bool(0) }
func (m *mockBackend) Play()                     { m.Called() }
func (m *mockBackend) Pause()                    { m.Called() }
func (m *mockBackend) Stop()                     { m.Called() }
func (m *mockBackend) SetPosition(pos float64)   { m.Called(pos) }
func (m *mockBackend) Position() float64         { return m.Called().Get(0).(float64) }
func (m *mockBackend) LengthMs() int64           { return m.Called().Get(0).(int64) }
func (m *mockBackend) IsPlaying() bool           { return m.Called().Bool(0) }
func (m *mockBackend) HasFinished() bool         { return m.Called().Bool(0) }
func (m *mockBackend) SetVolume(v float64)       { m.Called(v) }
func (m *mockBackend) SetRate(r float64)         { m.Called(r) }
func (m *mockBackend) SetOutputFormat(rate, channels int) error {
	return m.Called(rate, channels).Error(0)
}

// idleBackend returns a mock with no audio and a quiet status.
func idleBackend() *mockBackend {
	b := &mockBackend{}
	b.On("AvailableFrames").Return(0).Maybe()
	b.On("IsPlaying").Return(false).Maybe()
	b.On("HasFinished").Return(false).Maybe()
	b.On("Position").Return(0.0).Maybe()
	b.On("LengthMs").Return(int64(0)).Maybe()
	b.On("Stop").Return().Maybe()
	return b
}

// fakeTransport records what the engine publishes.
type fakeTransport struct {
	mu       sync.Mutex
	commands [][]byte
	pushed   [][]float32
	status   []shm.Status
	dawRate  int
	marks    int
}

func (f *fakeTransport) send(t *testing.T, c command.Command) {
	t.Helper()
	b, err := c.Encode()
	require.NoError(t, err)
	f.sendRaw(b)
}

func (f *fakeTransport) sendRaw(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, b)
}

func (f *fakeTransport) PushAudio(ch [][]float32, frames int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, append([]float32(nil), ch[0][:frames]...))
}

func (f *fakeTransport) MarkDiscontinuity() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks++
}

func (f *fakeTransport) markCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.marks
}

func (f *fakeTransport) NextCommand(buf []byte) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.commands) == 0 {
		return 0, false
	}
	n := copy(buf, f.commands[0])
	f.commands = f.commands[1:]
	return n, true
}

func (f *fakeTransport) SetEngineStatus(s shm.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = append(f.status, s)
}

func (f *fakeTransport) DawSampleRate() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dawRate
}

func (f *fakeTransport) setDawRate(r int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dawRate = r
}

func (f *fakeTransport) Stats() shm.RingStats { return shm.RingStats{} }

func testSettings() conf.EngineSettings {
	return conf.EngineSettings{
		SampleRate:       conf.SampleRate,
		BlockSize:        64,
		LoopInterval:     time.Millisecond,
		HeartbeatTimeout: 50 * time.Millisecond,
		StatusEvery:      8,
		RatePollEvery:    5,
		AVDelayMs:        0,
	}
}

func step(t *testing.T, e *Engine, n int) {
	t.Helper()
	for range n {
		done, err := e.iterate()
		require.NoError(t, err)
		require.False(t, done)
	}
}

// settle steps e until a background load has been applied.
func settle(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for e.loading != nil {
		require.True(t, time.Now().Before(deadline), "load did not finish")
		tr, ok := e.transport.(*fakeTransport)
		if ok {
			tr.send(t, command.Simple(command.KindHeartbeat))
		}
		step(t, e, 1)
		time.Sleep(time.Millisecond)
	}
}

func TestWatchdogExpiresWithoutHeartbeat(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	e := New(testSettings(), tr, idleBackend())

	step(t, e, 50)
	_, err := e.iterate()
	require.Error(t, err)
	require.ErrorIs(t, err, ErrHeartbeatTimeout)
	assert.True(t, errors.IsCategory(err, errors.CategoryLiveness))
}

func TestHeartbeatResetsWatchdog(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	e := New(testSettings(), tr, idleBackend())

	for range 5 {
		step(t, e, 40)
		tr.send(t, command.Simple(command.KindHeartbeat))
	}
	step(t, e, 40)
}

func TestRunReturnsHeartbeatTimeout(t *testing.T) {
	t.Parallel()

	b := idleBackend()
	e := New(testSettings(), &fakeTransport{}, b)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	err := e.Run(ctx)
	require.ErrorIs(t, err, ErrHeartbeatTimeout)
	b.AssertCalled(t, "Stop")
}

func TestRunQuitReturnsNil(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	tr.send(t, command.Simple(command.KindQuit))
	e := New(testSettings(), tr, idleBackend())

	require.NoError(t, e.Run(t.Context()))
}

func TestRunHonoursCancellation(t *testing.T) {
	t.Parallel()

	cfg := testSettings()
	cfg.HeartbeatTimeout = time.Hour
	e := New(cfg, &fakeTransport{}, idleBackend())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, e.Run(ctx), context.Canceled)
}

func TestRatePollReconfiguresBackend(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	b := idleBackend()
	b.On("SetOutputFormat", 48000, 2).Return(nil).Once()
	reg := prometheus.NewRegistry()
	m, err := metrics.NewTransportMetrics(reg)
	require.NoError(t, err)
	e := New(testSettings(), tr, b, WithMetrics(m))

	tr.setDawRate(48000)
	step(t, e, 4)
	b.AssertNotCalled(t, "SetOutputFormat", mock.Anything, mock.Anything)
	step(t, e, 1)
	b.AssertCalled(t, "SetOutputFormat", 48000, 2)

	// Unchanged and implausible rates are ignored.
	step(t, e, 5)
	tr.setDawRate(500)
	step(t, e, 5)
	b.AssertNumberOfCalls(t, "SetOutputFormat", 1)
}

func TestRejectedRateIsRetried(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	b := idleBackend()
	b.On("SetOutputFormat", 48000, 2).Return(errors.NewStd("device busy")).Once()
	b.On("SetOutputFormat", 48000, 2).Return(nil).Once()
	e := New(testSettings(), tr, b)

	tr.setDawRate(48000)
	step(t, e, 5)
	b.AssertNumberOfCalls(t, "SetOutputFormat", 1)
	assert.Equal(t, conf.SampleRate, e.currentRate, "a rejected rate is not adopted")

	step(t, e, 5)
	b.AssertNumberOfCalls(t, "SetOutputFormat", 2)
	assert.Equal(t, 48000, e.currentRate)

	step(t, e, 5)
	b.AssertNumberOfCalls(t, "SetOutputFormat", 2)
}

func TestRunReadsHostRateBeforeLooping(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{dawRate: 96000}
	tr.send(t, command.Simple(command.KindQuit))
	b := idleBackend()
	b.On("SetOutputFormat", 96000, 2).Return(nil).Once()

	e := New(testSettings(), tr, b)
	require.NoError(t, e.Run(t.Context()))
	b.AssertExpectations(t)
}

func TestLoadAppliesSettingsAndShowsDisplay(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	b := idleBackend()
	b.On("Load", "/media/clip.wav").Return(true).Once()
	b.On("SetVolume", 0.5).Return().Once()
	b.On("SetRate", 1.25).Return().Once()
	display := NewHeadlessDisplay()
	e := New(testSettings(), tr, b, WithDisplay(display))

	tr.send(t, command.Load("/media/clip.wav", 0.5, 1.25))
	step(t, e, 1)
	settle(t, e)

	b.AssertExpectations(t)
	b.AssertCalled(t, "Stop")
	assert.Equal(t, 1, display.ShowCount())
}

func TestLoadFailureLeavesPlaybackStopped(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	b := idleBackend()
	b.On("Load", "missing.wav").Return(false).Once()
	display := NewHeadlessDisplay()
	e := New(testSettings(), tr, b, WithDisplay(display))

	tr.send(t, command.Load("missing.wav", 1, 1))
	step(t, e, 1)
	settle(t, e)

	b.AssertNotCalled(t, "SetVolume", mock.Anything)
	b.AssertNotCalled(t, "Play")
	assert.Zero(t, display.ShowCount())
}

func TestPumpRunsWhileLoadDecodes(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	b := idleBackend()
	release := make(chan struct{})
	b.On("Load", "/media/long.flac").Run(func(mock.Arguments) { <-release }).Return(true).Once()
	b.On("SetVolume", 1.0).Return().Once()
	b.On("SetRate", 1.0).Return().Once()
	b.On("Play").Return().Once()
	display := NewHeadlessDisplay()
	e := New(testSettings(), tr, b, WithDisplay(display))

	tr.send(t, command.Load("/media/long.flac", 1, 1))
	tr.send(t, command.Simple(command.KindPlay))
	tr.send(t, command.Simple(command.KindShowWindow))
	tr.send(t, command.Simple(command.KindHeartbeat))
	step(t, e, 4)

	// Heartbeats and show_window are served; play waits for the track.
	assert.LessOrEqual(t, e.sinceHeartbeat, 1)
	assert.Equal(t, 1, display.ShowCount())
	b.AssertNotCalled(t, "Play")
	assert.Equal(t, 1, tr.markCount(), "the load marks a discontinuity when it starts")

	close(release)
	settle(t, e)
	b.AssertExpectations(t)
	assert.Equal(t, 2, display.ShowCount())
}

func TestQuitWaitsForLoad(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	b := idleBackend()
	release := make(chan struct{})
	b.On("Load", "/media/long.flac").Run(func(mock.Arguments) { <-release }).Return(true).Once()
	e := New(testSettings(), tr, b)

	tr.send(t, command.Load("/media/long.flac", 1, 1))
	tr.send(t, command.Simple(command.KindPlay))
	tr.send(t, command.Simple(command.KindQuit))

	done := make(chan error, 1)
	go func() { done <- e.Run(t.Context()) }()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("Run returned while the decoder still held the backend")
	default:
	}
	close(release)
	require.NoError(t, <-done)
	b.AssertNotCalled(t, "Play")
}

func TestDispatchTransportCommands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		cmd   command.Command
		setup func(b *mockBackend)
		marks int
	}{
		{"play", command.Simple(command.KindPlay), func(b *mockBackend) { b.On("Play").Return().Once() }, 0},
		{"pause", command.Simple(command.KindPause), func(b *mockBackend) { b.On("Pause").Return().Once() }, 1},
		{"seek", command.Seek(0.25), func(b *mockBackend) { b.On("SetPosition", 0.25).Return().Once() }, 1},
		{"volume", command.Volume(0.8), func(b *mockBackend) { b.On("SetVolume", 0.8).Return().Once() }, 0},
		{"rate", command.Rate(2), func(b *mockBackend) { b.On("SetRate", 2.0).Return().Once() }, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr := &fakeTransport{}
			b := idleBackend()
			tt.setup(b)
			e := New(testSettings(), tr, b)

			tr.send(t, tt.cmd)
			step(t, e, 1)
			b.AssertExpectations(t)
			assert.Equal(t, tt.marks, tr.markCount(), "discontinuity marked after the command is applied")
		})
	}
}

func TestMalformedAndUnknownCommandsAreIgnored(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	b := idleBackend()
	m, err := metrics.NewTransportMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	e := New(testSettings(), tr, b, WithMetrics(m))

	tr.sendRaw([]byte(`{"type":"lo`))
	tr.sendRaw([]byte(`{"type":"eject"}`))
	tr.sendRaw([]byte(`not json`))
	step(t, e, 3)

	b.AssertNotCalled(t, "Load", mock.Anything)
	b.AssertNotCalled(t, "Play")
}

func TestAudioPumpedThroughDelay(t *testing.T) {
	t.Parallel()

	cfg := testSettings()
	cfg.SampleRate = 1000
	cfg.AVDelayMs = 64 // one block at 1 kHz
	tr := &fakeTransport{}
	b := &mockBackend{}
	b.On("AvailableFrames").Return(64)
	b.On("PullBlock", mock.Anything).Run(func(args mock.Arguments) {
		dst := args.Get(0).([][]float32)
		for i := range dst[0] {
			dst[0][i] = 0.5
			dst[1][i] = -0.5
		}
	})
	b.On("IsPlaying").Return(true).Maybe()
	b.On("HasFinished").Return(false).Maybe()
	b.On("Position").Return(0.5).Maybe()
	b.On("LengthMs").Return(int64(1000)).Maybe()

	e := New(cfg, tr, b)
	tr.send(t, command.Simple(command.KindHeartbeat))
	step(t, e, 3)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Len(t, tr.pushed, 3)
	assert.Zero(t, tr.pushed[0][0], "first block primes the delay")
	assert.InDelta(t, float32(0.5), tr.pushed[1][0], 0)
	assert.InDelta(t, float32(0.5), tr.pushed[2][63], 0)
}

func TestNoPushBelowOneBlock(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	b := &mockBackend{}
	b.On("AvailableFrames").Return(63)

	e := New(testSettings(), tr, b)
	step(t, e, 3)
	b.AssertNotCalled(t, "PullBlock", mock.Anything)
	assert.Empty(t, tr.pushed)
}

func TestStatusPublishedEveryNIterations(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	b := &mockBackend{}
	b.On("AvailableFrames").Return(0)
	b.On("IsPlaying").Return(true)
	b.On("HasFinished").Return(false)
	b.On("Position").Return(0.25)
	b.On("LengthMs").Return(int64(90000))

	e := New(testSettings(), tr, b)
	step(t, e, 17)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	require.Len(t, tr.status, 2)
	assert.Equal(t, shm.Status{
		Playing:    true,
		WindowOpen: true,
		Position:   0.25,
		LengthMs:   90000,
	}, tr.status[1])
}

func TestSetAudioDelayAppliesOnNextIteration(t *testing.T) {
	t.Parallel()

	cfg := testSettings()
	cfg.AVDelayMs = 260
	e := New(cfg, &fakeTransport{}, idleBackend())
	e.SetAudioDelay(100)
	assert.Equal(t, 260, e.delay.DelayMs())

	step(t, e, 1)
	assert.Equal(t, 100, e.delay.DelayMs())
	assert.Equal(t, 4410, e.delay.DelayFrames())
}

func TestSessionIDIsStable(t *testing.T) {
	t.Parallel()

	e := New(testSettings(), &fakeTransport{}, idleBackend())
	assert.Len(t, e.SessionID(), 36)

	e = New(testSettings(), &fakeTransport{}, idleBackend(), WithSessionID("fixed"))
	assert.Equal(t, "fixed", e.SessionID())
}
