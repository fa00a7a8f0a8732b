// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, check := range []func(*Settings) []string{
		validateEngineSettings,
		validateClientSettings,
		validateHostSettings,
		validateListeners,
	} {
		ve.Errors = append(ve.Errors, check(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateEngineSettings(s *Settings) []string {
	e := &s.Engine
	var errs []string

	switch e.Backend {
	case "file", "gstreamer":
	default:
		errs = append(errs, fmt.Sprintf("engine.backend must be file or gstreamer, got %q", e.Backend))
	}
	if e.SampleRate < 8000 {
		errs = append(errs, "engine.sample_rate must be at least 8000")
	}
	if e.BlockSize <= 0 || e.BlockSize > RingFrames/4 {
		errs = append(errs, fmt.Sprintf("engine.block_size must be between 1 and %d", RingFrames/4))
	}
	if e.LoopInterval <= 0 {
		errs = append(errs, "engine.loop_interval must be positive")
	}
	if e.HeartbeatTimeout < e.LoopInterval {
		errs = append(errs, "engine.heartbeat_timeout must be at least one loop interval")
	}
	if e.StatusEvery <= 0 {
		errs = append(errs, "engine.status_every must be positive")
	}
	if e.RatePollEvery <= 0 {
		errs = append(errs, "engine.rate_poll_every must be positive")
	}
	if e.AVDelayMs < 0 {
		errs = append(errs, "engine.av_delay_ms must not be negative")
	}
	if e.FIFOFrames < e.BlockSize {
		errs = append(errs, "engine.fifo_frames must hold at least one block")
	}
	return errs
}

func validateClientSettings(s *Settings) []string {
	c := &s.Client
	var errs []string

	if c.RetryInterval <= 0 || c.ConnectedInterval <= 0 {
		errs = append(errs, "client intervals must be positive")
	}
	// The heartbeat cadence has to stay well inside the engine watchdog.
	if s.Engine.HeartbeatTimeout > 0 && c.ConnectedInterval*4 > s.Engine.HeartbeatTimeout {
		errs = append(errs, fmt.Sprintf("client.connected_interval %s is too slow for engine.heartbeat_timeout %s",
			c.ConnectedInterval, s.Engine.HeartbeatTimeout))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, "client.max_retries must not be negative")
	}
	if c.QuitGrace < 0 || c.QuitGrace > time.Minute {
		errs = append(errs, "client.quit_grace must be between 0 and 1m")
	}
	if c.PitchSemitones < -24 || c.PitchSemitones > 24 {
		errs = append(errs, "client.pitch_semitones must be within +-24")
	}
	return errs
}

func validateHostSettings(s *Settings) []string {
	h := &s.Host
	var errs []string

	switch h.Backend {
	case "", "alsa", "pulse", "wasapi", "coreaudio":
	default:
		errs = append(errs, fmt.Sprintf("host.backend %q is not supported", h.Backend))
	}
	if h.SampleRate < 8000 {
		errs = append(errs, "host.sample_rate must be at least 8000")
	}
	if h.PeriodFrames <= 0 {
		errs = append(errs, "host.period_frames must be positive")
	}
	return errs
}

func validateListeners(s *Settings) []string {
	var errs []string
	if s.Control.Enabled {
		if _, _, err := net.SplitHostPort(s.Control.Listen); err != nil {
			errs = append(errs, fmt.Sprintf("control.listen: %v", err))
		}
	}
	if s.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(s.Metrics.Listen); err != nil {
			errs = append(errs, fmt.Sprintf("metrics.listen: %v", err))
		}
	}
	if s.Telemetry.Sentry.Enabled && s.Telemetry.Sentry.DSN == "" {
		errs = append(errs, "telemetry.sentry.dsn is required when sentry is enabled")
	}
	return errs
}
