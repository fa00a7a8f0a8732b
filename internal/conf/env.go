// env.go - environment variable bindings and validation
package conf

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

// getEnvBindings lists the variables that get explicit validation. Every
// other key is still reachable through DECKBRIDGE_<KEY> via AutomaticEnv.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "DECKBRIDGE_DEBUG", validateEnvBool},
		{"transport.dir", "DECKBRIDGE_TRANSPORT_DIR", validateEnvDir},
		{"engine.backend", "DECKBRIDGE_ENGINE_BACKEND", validateEnvBackend},
		{"engine.av_delay_ms", "DECKBRIDGE_ENGINE_AV_DELAY_MS", validateEnvNonNegativeInt},
		{"engine.heartbeat_timeout", "DECKBRIDGE_ENGINE_HEARTBEAT_TIMEOUT", validateEnvDuration},
		{"client.launch_engine", "DECKBRIDGE_CLIENT_LAUNCH_ENGINE", validateEnvBool},
		{"client.engine_path", "DECKBRIDGE_CLIENT_ENGINE_PATH", nil},
		{"client.pitch_semitones", "DECKBRIDGE_CLIENT_PITCH_SEMITONES", validateEnvFloat},
		{"control.listen", "DECKBRIDGE_CONTROL_LISTEN", validateEnvListen},
		{"metrics.listen", "DECKBRIDGE_METRICS_LISTEN", validateEnvListen},
		{"telemetry.sentry.dsn", "DECKBRIDGE_SENTRY_DSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}
		if binding.Validate == nil {
			continue
		}
		if value := os.Getenv(binding.EnvVar); value != "" {
			if err := binding.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, value, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fmt.Errorf("must be a non-negative integer")
	}
	return nil
}

func validateEnvFloat(value string) error {
	if _, err := strconv.ParseFloat(value, 64); err != nil {
		return fmt.Errorf("must be a number")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fmt.Errorf("must be a positive duration such as 10s")
	}
	return nil
}

func validateEnvBackend(value string) error {
	switch value {
	case "file", "gstreamer":
		return nil
	}
	return fmt.Errorf("must be file or gstreamer")
}

func validateEnvListen(value string) error {
	if _, _, err := net.SplitHostPort(value); err != nil {
		return fmt.Errorf("must be host:port: %w", err)
	}
	return nil
}

func validateEnvDir(value string) error {
	info, err := os.Stat(value)
	if err != nil {
		return fmt.Errorf("directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory")
	}
	return nil
}
