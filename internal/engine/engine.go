// Package engine runs the media engine's pump loop: it applies client
// commands to the media backend, moves decoded audio through the A/V delay
// line into the shared ring, mirrors status back and enforces the
// heartbeat watchdog.
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tphakala/deckbridge/internal/command"
	"github.com/tphakala/deckbridge/internal/conf"
	"github.com/tphakala/deckbridge/internal/errors"
	"github.com/tphakala/deckbridge/internal/logger"
	"github.com/tphakala/deckbridge/internal/observability/metrics"
	"github.com/tphakala/deckbridge/internal/shm"
)

// minHostRate filters out unset or bogus host rates before reconfiguring.
const minHostRate = 1000

// maxDeferred bounds the commands held back while a load is decoding.
const maxDeferred = 64

// Engine owns the pump loop. It is not safe for concurrent use apart from
// SetAudioDelay and SessionID.
type Engine struct {
	cfg       conf.EngineSettings
	transport Transport
	backend   MediaBackend
	display   Display
	metrics   *metrics.TransportMetrics
	log       logger.Logger
	sessionID string

	delay        *DelayLine
	pendingDelay atomic.Int64 // ms, -1 when unchanged
	block        [][]float32
	cmdBuf       []byte

	iteration      uint64
	sinceHeartbeat int
	heartbeatLimit int
	currentRate    int
	malformedLimit *rate.Limiter

	// A load decodes off the pump. Commands that touch the backend wait in
	// deferred until it finishes.
	loading  chan bool
	loadCmd  command.Command
	deferred []command.Command
}

// Option configures an Engine.
type Option func(*Engine)

// WithDisplay replaces the headless display.
func WithDisplay(d Display) Option {
	return func(e *Engine) { e.display = d }
}

// WithMetrics enables pump metrics.
func WithMetrics(m *metrics.TransportMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSessionID overrides the generated session identifier.
func WithSessionID(id string) Option {
	return func(e *Engine) { e.sessionID = id }
}

// New returns an engine pumping backend into transport. Zero values in cfg
// fall back to the transport constants.
func New(cfg conf.EngineSettings, transport Transport, backend MediaBackend, opts ...Option) *Engine {
	cfg = withDefaults(cfg)

	e := &Engine{
		cfg:            cfg,
		transport:      transport,
		backend:        backend,
		display:        NewHeadlessDisplay(),
		sessionID:      uuid.NewString(),
		delay:          NewDelayLine(conf.RingFrames, cfg.BlockSize, cfg.SampleRate, cfg.AVDelayMs),
		cmdBuf:         make([]byte, conf.CommandSlotBytes),
		heartbeatLimit: int(cfg.HeartbeatTimeout / cfg.LoopInterval),
		currentRate:    cfg.SampleRate,
		malformedLimit: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
	e.block = make([][]float32, conf.NumChannels)
	for ch := range e.block {
		e.block[ch] = make([]float32, cfg.BlockSize)
	}
	e.pendingDelay.Store(-1)

	for _, opt := range opts {
		opt(e)
	}
	e.log = GetLogger().With(logger.String("session_id", e.sessionID))
	if e.metrics != nil {
		e.metrics.SetEngineSession(e.sessionID)
	}
	return e
}

func withDefaults(cfg conf.EngineSettings) conf.EngineSettings {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = conf.SampleRate
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = conf.BlockSize
	}
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = time.Millisecond
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 10 * time.Second
	}
	if cfg.StatusEvery <= 0 {
		cfg.StatusEvery = 8
	}
	if cfg.RatePollEvery <= 0 {
		cfg.RatePollEvery = 500
	}
	return cfg
}

// SessionID identifies this engine run in logs, metrics and telemetry.
func (e *Engine) SessionID() string { return e.sessionID }

// SetAudioDelay retunes the A/V offset. It takes effect on the next pump
// iteration and may be called from any goroutine.
func (e *Engine) SetAudioDelay(ms int) {
	e.pendingDelay.Store(int64(max(0, ms)))
}

// Run pumps until the client sends quit, the heartbeat watchdog expires or
// ctx is cancelled. It returns nil on quit, ErrHeartbeatTimeout on
// watchdog expiry and ctx.Err() on cancellation.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine pump starting",
		logger.Int("block_size", e.cfg.BlockSize),
		logger.Duration("loop_interval", e.cfg.LoopInterval),
		logger.Duration("heartbeat_timeout", e.cfg.HeartbeatTimeout),
		logger.Int("av_delay_ms", e.delay.DelayMs()))

	// A client that was already attached published its rate before we
	// started; pick it up before the first block is rendered.
	e.pollRate()

	ticker := time.NewTicker(e.cfg.LoopInterval)
	defer ticker.Stop()
	defer e.backend.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine pump cancelled")
			return ctx.Err()
		case <-ticker.C:
		}

		done, err := e.iterate()
		if err != nil {
			return err
		}
		if done {
			e.log.Info("quit received, engine pump stopping")
			return nil
		}
	}
}

// iterate runs one pump iteration. done is true after a quit command.
func (e *Engine) iterate() (done bool, err error) {
	e.applyPendingDelay()
	e.pollLoad()
	e.iteration++
	if e.metrics != nil {
		e.metrics.RecordPumpIteration()
	}

	if n, ok := e.transport.NextCommand(e.cmdBuf); ok {
		if e.handleCommand(e.cmdBuf[:n]) {
			return true, nil
		}
	}

	e.sinceHeartbeat++
	if e.sinceHeartbeat > e.heartbeatLimit {
		return false, e.heartbeatExpired()
	}

	if e.iteration%uint64(e.cfg.RatePollEvery) == 0 { //nolint:gosec // validated positive
		e.pollRate()
	}

	if e.backend.AvailableFrames() >= e.cfg.BlockSize {
		for _, ch := range e.block {
			clear(ch)
		}
		e.backend.PullBlock(e.block)
		e.delay.Process(e.block)
		e.transport.PushAudio(e.block, e.cfg.BlockSize)
		if e.metrics != nil {
			e.metrics.RecordBlockPushed()
		}
	}

	if e.iteration%uint64(e.cfg.StatusEvery) == 0 { //nolint:gosec // validated positive
		e.publishStatus()
	}
	return false, nil
}

// handleCommand decodes and applies one payload. It reports whether the
// payload was quit.
func (e *Engine) handleCommand(payload []byte) bool {
	cmd, err := command.Decode(payload)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordMalformedCommand()
		}
		if e.malformedLimit.Allow() {
			e.log.Warn("ignoring malformed command",
				logger.Int("bytes", len(payload)),
				logger.Error(err))
		}
		return false
	}
	if e.metrics != nil {
		e.metrics.RecordCommandReceived(string(cmd.Kind))
	}

	switch cmd.Kind {
	case command.KindHeartbeat:
		e.sinceHeartbeat = 0
	case command.KindQuit:
		return true
	case command.KindUnknown:
		e.log.Debug("ignoring unknown command type")
	case command.KindShowWindow:
		e.display.Show()
	default:
		if e.loading != nil {
			e.deferCommand(cmd)
			return false
		}
		e.dispatch(cmd)
	}
	return false
}

func (e *Engine) deferCommand(cmd command.Command) {
	if len(e.deferred) >= maxDeferred {
		e.log.Warn("dropping command received during load",
			logger.String("kind", string(cmd.Kind)),
			logger.String("path", e.loadCmd.Path))
		return
	}
	e.deferred = append(e.deferred, cmd)
}

func (e *Engine) dispatch(cmd command.Command) {
	switch cmd.Kind {
	case command.KindLoad:
		e.load(cmd)
	case command.KindPlay:
		e.backend.Play()
	case command.KindPause:
		e.backend.Pause()
	case command.KindStop:
		e.backend.Stop()
	case command.KindSeek:
		e.backend.SetPosition(cmd.Position)
	case command.KindVolume:
		e.backend.SetVolume(cmd.Value)
	case command.KindRate:
		e.backend.SetRate(cmd.Value)
	}

	if cmd.Discontinuous() {
		e.delay.Flush()
		e.transport.MarkDiscontinuity()
	}
}

// load stops playback and starts decoding cmd.Path in the background. The
// pump keeps servicing heartbeats and the ring until pollLoad sees the
// result.
func (e *Engine) load(cmd command.Command) {
	e.backend.Stop()
	done := make(chan bool, 1)
	e.loading = done
	e.loadCmd = cmd
	go func() { done <- e.backend.Load(cmd.Path) }()
}

// pollLoad applies a finished load, then replays the commands that arrived
// while it was decoding.
func (e *Engine) pollLoad() {
	if e.loading == nil {
		return
	}
	select {
	case ok := <-e.loading:
		e.finishLoad(ok)
	default:
		return
	}

	pending := e.deferred
	e.deferred = nil
	for i, cmd := range pending {
		e.dispatch(cmd)
		if e.loading != nil {
			e.deferred = append(e.deferred, pending[i+1:]...)
			return
		}
	}
}

// waitLoad blocks until an in-flight decode returns so the backend is not
// used after Run.
func (e *Engine) waitLoad() {
	if e.loading == nil {
		return
	}
	ok := <-e.loading
	if e.metrics != nil {
		e.metrics.RecordMediaLoad(ok)
	}
	e.loading = nil
	e.deferred = nil
}

func (e *Engine) finishLoad(ok bool) {
	cmd := e.loadCmd
	e.loading = nil
	e.loadCmd = command.Command{}
	if e.metrics != nil {
		e.metrics.RecordMediaLoad(ok)
	}
	if !ok {
		e.log.Warn("media load failed, playback stays stopped", logger.String("path", cmd.Path))
		return
	}
	e.backend.SetVolume(cmd.Volume)
	e.backend.SetRate(cmd.Rate)
	e.display.Show()
	e.log.Info("media loaded",
		logger.String("path", cmd.Path),
		logger.Float64("volume", cmd.Volume),
		logger.Float64("rate", cmd.Rate),
		logger.Int64("length_ms", e.backend.LengthMs()))
}

// pollRate follows the host's sample rate published by the client. A rate
// the backend rejects is retried on the next poll.
func (e *Engine) pollRate() {
	r := e.transport.DawSampleRate()
	if r == e.currentRate || r <= minHostRate {
		return
	}
	err := e.backend.SetOutputFormat(r, conf.NumChannels)
	if e.metrics != nil {
		e.metrics.RecordBackendReconfigure(err)
	}
	if err != nil {
		e.log.Warn("backend rejected output format",
			logger.Int("sample_rate", r),
			logger.Error(err))
		return
	}
	e.log.Info("output rate changed",
		logger.Int("from", e.currentRate),
		logger.Int("to", r))
	e.currentRate = r
	e.delay.SetSampleRate(r)
	e.delay.Flush()
}

func (e *Engine) publishStatus() {
	e.transport.SetEngineStatus(shm.Status{
		Playing:    e.backend.IsPlaying(),
		Finished:   e.backend.HasFinished(),
		WindowOpen: e.display.IsOpen(),
		Position:   float32(e.backend.Position()),
		LengthMs:   e.backend.LengthMs(),
	})
	if e.metrics != nil {
		st := e.transport.Stats()
		e.metrics.SetRingStats(st.AvailableFrames, st.Underruns, st.Overruns)
	}
}

func (e *Engine) applyPendingDelay() {
	ms := e.pendingDelay.Swap(-1)
	if ms < 0 {
		return
	}
	e.delay.SetDelayMs(int(ms))
	e.delay.Flush()
	e.log.Info("A/V delay changed",
		logger.Int64("delay_ms", ms),
		logger.Int("delay_frames", e.delay.DelayFrames()))
}

func (e *Engine) heartbeatExpired() error {
	if e.metrics != nil {
		e.metrics.RecordWatchdogExpired()
	}
	waited := time.Duration(e.sinceHeartbeat) * e.cfg.LoopInterval
	e.log.Warn("no heartbeat from client, shutting down",
		logger.Duration("waited", waited))
	return errors.New(ErrHeartbeatTimeout).
		Component("engine").
		Category(errors.CategoryLiveness).
		Timing("heartbeat-wait", waited).
		Build()
}
