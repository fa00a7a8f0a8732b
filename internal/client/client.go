// Package client is the host side of the transport. It keeps the shared
// region attached across engine restarts, launches the engine when it is
// missing, sends heartbeats and commands, and feeds the host's real-time
// callback from the audio ring through the pitch shifter.
package client

import (
	"context"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/deckbridge/internal/command"
	"github.com/tphakala/deckbridge/internal/conf"
	"github.com/tphakala/deckbridge/internal/dsp"
	"github.com/tphakala/deckbridge/internal/errors"
	"github.com/tphakala/deckbridge/internal/logger"
	"github.com/tphakala/deckbridge/internal/observability/metrics"
	"github.com/tphakala/deckbridge/internal/shm"
)

// quitPollInterval is how often Close checks whether the engine exited.
const quitPollInterval = 50 * time.Millisecond

// Client maintains the connection to the engine.
type Client struct {
	cfg      conf.ClientSettings
	region   *shm.Region
	launcher Launcher
	metrics  *metrics.TransportMetrics
	pitch    *dsp.PitchShifter
	log      logger.Logger

	heartbeat []byte

	mu        sync.Mutex
	status    shm.Status
	connected bool
	retries   int
	parked    bool        // retry budget exhausted, waiting for Reconnect
	launched  bool        // the launcher started an engine at least once
	deadFile  os.FileInfo // region file whose engine process exited
	hostRate  int

	queueFullLimit *rate.Limiter

	wake      chan struct{}
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithLauncher enables launching the engine when it is not running.
func WithLauncher(l Launcher) Option {
	return func(c *Client) { c.launcher = l }
}

// WithMetrics enables client metrics.
func WithMetrics(m *metrics.TransportMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New returns a client for region. Call Start to begin connecting.
func New(cfg conf.ClientSettings, region *shm.Region, opts ...Option) *Client {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 200 * time.Millisecond
	}
	if cfg.ConnectedInterval <= 0 {
		cfg.ConnectedInterval = 40 * time.Millisecond
	}

	heartbeat, _ := command.Simple(command.KindHeartbeat).Encode()
	c := &Client{
		cfg:            cfg,
		region:         region,
		pitch:          dsp.NewPitchShifter(conf.NumChannels),
		log:            GetLogger(),
		heartbeat:      heartbeat,
		queueFullLimit: rate.NewLimiter(rate.Every(time.Second), 1),
		wake:           make(chan struct{}, 1),
		stop:           make(chan struct{}),
	}
	c.pitch.SetSemitones(cfg.PitchSemitones)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start runs the connection timer until ctx is cancelled or Close is called.
func (c *Client) Start(ctx context.Context) {
	c.wg.Go(func() { c.run(ctx) })
}

func (c *Client) run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-c.wake:
		case <-timer.C:
		}

		if next, ok := c.tick(ctx); ok {
			timer.Reset(next)
		} else {
			timer.Stop()
		}
	}
}

// tick runs one timer step and returns the delay until the next one. ok
// is false when retries are exhausted and the timer should park.
func (c *Client) tick(ctx context.Context) (next time.Duration, ok bool) {
	if c.region.IsConnected() && !c.engineLost() {
		c.mu.Lock()
		first := !c.connected
		c.mu.Unlock()
		if first {
			c.onConnected()
		}
		c.refresh()
		return c.cfg.ConnectedInterval, true
	}

	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()
	if wasConnected {
		c.onDisconnected()
	}

	if c.attempt(ctx) {
		c.onConnected()
		c.refresh()
		return c.cfg.ConnectedInterval, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.retries++
	if c.cfg.MaxRetries > 0 && c.retries >= c.cfg.MaxRetries {
		if !c.parked {
			c.log.Warn("engine not reachable, giving up until reconnect",
				logger.Int("attempts", c.retries),
				logger.String("region", c.region.Path()))
		}
		c.parked = true
		return 0, false
	}
	return c.cfg.RetryInterval, true
}

// attempt tries to attach once, launching the engine if it is not running.
func (c *Client) attempt(ctx context.Context) bool {
	err := c.region.Initialize()
	if err == nil && c.region.IsConnected() && !c.engineLost() {
		c.recordAttempt(metrics.ConnectResultConnected)
		return true
	}

	switch {
	case err == nil, errors.Is(err, shm.ErrRegionAbsent):
		c.recordAttempt(metrics.ConnectResultAbsent)
	case errors.Is(err, shm.ErrRegionMismatch):
		c.recordAttempt(metrics.ConnectResultMismatch)
		c.log.Debug("region size mismatch, treating engine as absent")
	default:
		c.recordAttempt(metrics.ConnectResultError)
		c.log.Debug("region attach failed", logger.Error(err))
	}

	if c.launcher != nil && c.cfg.LaunchEngine && !c.launcher.Running() {
		err := c.launcher.Start(ctx)
		if c.metrics != nil {
			c.metrics.RecordEngineLaunch(err)
		}
		if err != nil {
			c.log.Error("failed to launch engine", logger.Error(err))
		} else {
			c.mu.Lock()
			c.launched = true
			c.mu.Unlock()
		}
	}
	return false
}

// engineLost reports whether the mapped region no longer has a live engine
// behind it even though its running flag is still set. A crashed engine
// never clears the flag, so the client relies on the launched process
// having exited or on a relaunched engine having replaced the file. The
// file of an exited engine is remembered until a different one is mapped.
func (c *Client) engineLost() bool {
	if c.region.Superseded() {
		return true
	}
	cur := c.region.MappedFile()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deadFile != nil && cur != nil {
		if os.SameFile(c.deadFile, cur) {
			return true
		}
		c.deadFile = nil
	}
	if c.launched && c.launcher != nil && !c.launcher.Running() {
		if cur != nil {
			c.deadFile = cur
		}
		return true
	}
	return false
}

func (c *Client) recordAttempt(result string) {
	if c.metrics != nil {
		c.metrics.RecordConnectAttempt(result)
	}
}

func (c *Client) onConnected() {
	c.mu.Lock()
	c.connected = true
	c.retries = 0
	c.parked = false
	hostRate := c.hostRate
	c.mu.Unlock()

	if hostRate > 0 {
		c.region.SetDawSampleRate(hostRate)
	}
	if c.metrics != nil {
		c.metrics.SetConnected(true)
	}
	c.log.Info("connected to engine", logger.String("region", c.region.Path()))

	show, _ := command.Simple(command.KindShowWindow).Encode()
	c.region.SendCommand(show)
}

func (c *Client) onDisconnected() {
	if err := c.region.Close(); err != nil {
		c.log.Warn("failed to unmap region", logger.Error(err))
	}
	c.mu.Lock()
	c.status = shm.Status{}
	c.retries = 0
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.SetConnected(false)
	}
	c.log.Info("engine went away, reconnecting")
}

// refresh snapshots the status and sends a heartbeat.
func (c *Client) refresh() {
	st := c.region.EngineStatus()
	c.mu.Lock()
	c.status = st
	c.mu.Unlock()

	if !c.region.SendCommand(c.heartbeat) {
		c.queueFull(command.KindHeartbeat)
	}
	if c.metrics != nil {
		rs := c.region.Stats()
		c.metrics.SetRingStats(rs.AvailableFrames, rs.Underruns, rs.Overruns)
	}
}

func (c *Client) queueFull(kind command.Kind) {
	if c.metrics != nil {
		c.metrics.RecordCommandSent(string(kind), metrics.CommandStatusQueueFull)
	}
	if c.queueFullLimit.Allow() {
		c.log.Warn("command queue full, dropping command", logger.String("kind", string(kind)))
	}
}

// Reconnect re-arms the retry budget after it was exhausted.
func (c *Client) Reconnect() {
	c.mu.Lock()
	c.retries = 0
	c.parked = false
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Connected reports whether an engine is attached.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Status returns the last status snapshot.
func (c *Client) Status() shm.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Send encodes and enqueues cmd.
func (c *Client) Send(cmd command.Command) error {
	if !c.Connected() {
		if c.metrics != nil {
			c.metrics.RecordCommandSent(string(cmd.Kind), metrics.CommandStatusDisconnected)
		}
		return ErrNotConnected
	}
	payload, err := cmd.Encode()
	if err != nil {
		return err
	}
	if !c.region.SendCommand(payload) {
		c.queueFull(cmd.Kind)
		return ErrQueueFull
	}
	if c.metrics != nil {
		c.metrics.RecordCommandSent(string(cmd.Kind), metrics.CommandStatusOK)
	}
	return nil
}

// Prepare is called when the host (re)configures its audio stream. It
// publishes the host rate, drops buffered audio and resets the pitch
// shifter. It must not overlap Render.
func (c *Client) Prepare(sampleRate, blockSize int) {
	c.mu.Lock()
	c.hostRate = sampleRate
	c.mu.Unlock()

	c.region.SetDawSampleRate(sampleRate)
	c.region.FlushAudioBuffer()
	c.pitch.Reset()
	c.log.Info("host stream prepared",
		logger.Int("sample_rate", sampleRate),
		logger.Int("block_size", blockSize))
}

// Render fills out with engine audio for one host callback. It never
// blocks, allocates or logs; on underrun out is silent.
func (c *Client) Render(out [][]float32) {
	var start time.Time
	if c.metrics != nil {
		start = time.Now()
	}
	c.region.PopAudio(out)
	c.pitch.Process(out)
	if c.metrics != nil {
		c.metrics.ObserveRender(time.Since(start).Seconds())
	}
}

// SetPitchSemitones sets the client-side pitch shift.
func (c *Client) SetPitchSemitones(st float64) { c.pitch.SetSemitones(st) }

// PitchSemitones returns the pitch shift.
func (c *Client) PitchSemitones() float64 { return c.pitch.Semitones() }

// Close stops the timer and terminates the engine: quit, a grace period,
// then kill. The region is unmapped last.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		c.wg.Wait()
		err = c.terminate()
	})
	return err
}

func (c *Client) terminate() error {
	if c.region.IsConnected() {
		quit, _ := command.Simple(command.KindQuit).Encode()
		c.region.SendCommand(quit)
	}

	var killErr error
	if c.launcher != nil && c.launcher.Running() {
		deadline := time.Now().Add(c.cfg.QuitGrace)
		for c.launcher.Running() && time.Now().Before(deadline) {
			time.Sleep(quitPollInterval)
		}
		if c.launcher.Running() {
			c.log.Warn("engine did not quit in time, killing it",
				logger.Duration("grace", c.cfg.QuitGrace))
			killErr = c.launcher.Kill()
		}
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.SetConnected(false)
	}
	return errors.Join(killErr, c.region.Close())
}
