// Package telemetry provides privacy-compliant error tracking
package telemetry

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/deckbridge/internal/buildinfo"
	"github.com/tphakala/deckbridge/internal/conf"
	"github.com/tphakala/deckbridge/internal/errors"
	"github.com/tphakala/deckbridge/internal/logger"
	"github.com/tphakala/deckbridge/internal/privacy"
)

// Process describes the process reporting errors.
type Process struct {
	Role      string // "engine" or "client"
	SessionID string // engine session, empty on the client until connected
	Build     *buildinfo.Context
}

var sentryInitialized atomic.Bool

// InitSentry initializes Sentry with privacy-compliant settings. It is a
// no-op unless telemetry.sentry.enabled is set.
func InitSentry(settings *conf.Settings, proc Process) error {
	s := settings.Telemetry.Sentry
	if !s.Enabled {
		GetLogger().Debug("sentry telemetry is disabled (opt-in required)")
		return nil
	}
	if s.DSN == "" {
		return errors.Newf("sentry enabled without a DSN").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	env := s.Environment
	if env == "" {
		env = "production"
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              s.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      env,
		ServerName:       "", // never leak the hostname
		Release:          proc.Build.Release(conf.AppName),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}

	tags := scopeTags(proc)
	configureSentryScope(proc, tags)
	errors.SetPrivacyScrubber(privacy.ScrubMessage)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true, tags))
	sentryInitialized.Store(true)

	GetLogger().Info("sentry telemetry initialized",
		logger.String("role", proc.Role),
		logger.String("environment", env),
		logger.String("release", proc.Build.Release(conf.AppName)))
	return nil
}

// applyPrivacyFilters strips anything that could identify the machine or
// user from an outgoing event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Message = privacy.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	return event
}

func scopeTags(proc Process) map[string]string {
	tags := map[string]string{
		"role":      proc.Role,
		"system_id": proc.Build.SystemID(),
		"os":        runtime.GOOS,
		"arch":      runtime.GOARCH,
	}
	if proc.SessionID != "" {
		tags["session_id"] = proc.SessionID
	}
	return tags
}

func configureSentryScope(proc Process, tags map[string]string) {
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		scope.SetContext("application", map[string]any{
			"name":       conf.AppName,
			"version":    proc.Build.Version(),
			"build_date": proc.Build.BuildDate(),
		})
		scope.SetContext("platform", map[string]any{
			"os":           runtime.GOOS,
			"architecture": runtime.GOARCH,
			"num_cpu":      runtime.NumCPU(),
			"go_version":   runtime.Version(),
		})
	})
}

// CaptureMessage sends an informational message when Sentry is enabled.
func CaptureMessage(message string, level sentry.Level, component string) {
	if !sentryInitialized.Load() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		scope.SetLevel(level)
		sentry.CaptureMessage(message)
	})
}

// Flush waits for queued events to be delivered.
func Flush(timeout time.Duration) {
	if !sentryInitialized.Load() {
		return
	}
	if !sentry.Flush(timeout) {
		GetLogger().Warn("sentry flush timed out", logger.Duration("timeout", timeout))
	}
}

// IsEnabled reports whether InitSentry succeeded.
func IsEnabled() bool {
	return sentryInitialized.Load()
}

// GetLogger returns the telemetry logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}
