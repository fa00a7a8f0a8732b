// config.go: settings struct and viper loading
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/deckbridge/internal/logger"
)

// Settings contains all configuration options for both processes.
type Settings struct {
	Debug bool `yaml:"debug" mapstructure:"debug"`

	Transport TransportSettings    `yaml:"transport" mapstructure:"transport"`
	Engine    EngineSettings       `yaml:"engine" mapstructure:"engine"`
	Client    ClientSettings       `yaml:"client" mapstructure:"client"`
	Host      HostSettings         `yaml:"host" mapstructure:"host"`
	Control   ControlSettings      `yaml:"control" mapstructure:"control"`
	Metrics   MetricsSettings      `yaml:"metrics" mapstructure:"metrics"`
	Telemetry TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry"`
	Logging   logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// TransportSettings locates the shared region backing file.
type TransportSettings struct {
	Dir  string `yaml:"dir" mapstructure:"dir"`   // empty means os.TempDir()
	Name string `yaml:"name" mapstructure:"name"` // file name inside Dir
}

// EngineSettings tunes the media engine process.
type EngineSettings struct {
	Backend          string        `yaml:"backend" mapstructure:"backend"` // file or gstreamer
	SampleRate       int           `yaml:"sample_rate" mapstructure:"sample_rate"`
	BlockSize        int           `yaml:"block_size" mapstructure:"block_size"`
	LoopInterval     time.Duration `yaml:"loop_interval" mapstructure:"loop_interval"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout" mapstructure:"heartbeat_timeout"`
	StatusEvery      int           `yaml:"status_every" mapstructure:"status_every"`       // pump iterations between status publishes
	RatePollEvery    int           `yaml:"rate_poll_every" mapstructure:"rate_poll_every"` // pump iterations between host rate checks
	AVDelayMs        int           `yaml:"av_delay_ms" mapstructure:"av_delay_ms"`
	FIFOFrames       int           `yaml:"fifo_frames" mapstructure:"fifo_frames"` // decoded audio buffered ahead of the pump
}

// ClientSettings tunes the host-side client.
type ClientSettings struct {
	RetryInterval     time.Duration `yaml:"retry_interval" mapstructure:"retry_interval"`
	ConnectedInterval time.Duration `yaml:"connected_interval" mapstructure:"connected_interval"`
	MaxRetries        int           `yaml:"max_retries" mapstructure:"max_retries"`
	QuitGrace         time.Duration `yaml:"quit_grace" mapstructure:"quit_grace"`
	LaunchEngine      bool          `yaml:"launch_engine" mapstructure:"launch_engine"`
	EnginePath        string        `yaml:"engine_path" mapstructure:"engine_path"` // empty means this executable
	PitchSemitones    float64       `yaml:"pitch_semitones" mapstructure:"pitch_semitones"`
}

// HostSettings configures the playback device that stands in for the host.
type HostSettings struct {
	Backend      string `yaml:"backend" mapstructure:"backend"` // empty, alsa, pulse, wasapi or coreaudio
	SampleRate   int    `yaml:"sample_rate" mapstructure:"sample_rate"`
	PeriodFrames int    `yaml:"period_frames" mapstructure:"period_frames"`
}

// ControlSettings configures the HTTP control API.
type ControlSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Listen  string `yaml:"listen" mapstructure:"listen"`
}

// TelemetrySettings configures error reporting.
type TelemetrySettings struct {
	Sentry SentrySettings `yaml:"sentry" mapstructure:"sentry"`
}

// SentrySettings configures the Sentry reporter.
type SentrySettings struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	Environment string `yaml:"environment" mapstructure:"environment"`
}

// RegionPath returns the absolute path of the shared region backing file.
func (t TransportSettings) RegionPath() string {
	dir := t.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	name := t.Name
	if name == "" {
		name = DefaultRegionName()
	}
	return filepath.Join(dir, name)
}

// DefaultRegionName returns the version-tagged backing file name.
func DefaultRegionName() string {
	return fmt.Sprintf("%s_shm_v%d.dat", AppName, RegionVersion)
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables.
// A missing config file is not an error; defaults apply.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings, err := decode(viper.GetViper())
	if err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// decode unmarshals and validates the settings held by v.
func decode(v *viper.Viper) (*Settings, error) {
	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	return settings, nil
}

func initViper() error {
	viper.SetConfigName(strings.TrimSuffix(ConfigFileName, ".yaml"))
	viper.SetConfigType("yaml")

	dirs, err := SearchDirs()
	if err != nil {
		return fmt.Errorf("error resolving config search paths: %w", err)
	}
	for _, dir := range dirs {
		viper.AddConfigPath(dir)
	}

	setDefaultConfig()

	viper.SetEnvPrefix("DECKBRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	if err := bindEnvVars(); err != nil {
		// Invalid env values are reported but do not stop startup; validation
		// of the decoded settings catches anything unusable.
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// GetSettings returns the most recently loaded settings
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// DefaultSettings returns the built-in defaults without reading any file.
func DefaultSettings() (*Settings, error) {
	v := viper.New()
	applyDefaults(v)
	return decode(v)
}

// SaveYAMLConfig writes settings to configPath atomically. Comments in an
// existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
