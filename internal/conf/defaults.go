// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig installs defaults on the global viper instance.
func setDefaultConfig() {
	applyDefaults(viper.GetViper())
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("transport.dir", "")
	v.SetDefault("transport.name", DefaultRegionName())

	v.SetDefault("engine.backend", "file")
	v.SetDefault("engine.sample_rate", SampleRate)
	v.SetDefault("engine.block_size", BlockSize)
	v.SetDefault("engine.loop_interval", time.Millisecond)
	v.SetDefault("engine.heartbeat_timeout", 10*time.Second)
	v.SetDefault("engine.status_every", 8)
	v.SetDefault("engine.rate_poll_every", 500)
	v.SetDefault("engine.av_delay_ms", 260)
	v.SetDefault("engine.fifo_frames", 8192)

	v.SetDefault("client.retry_interval", 200*time.Millisecond)
	v.SetDefault("client.connected_interval", 40*time.Millisecond)
	v.SetDefault("client.max_retries", 20)
	v.SetDefault("client.quit_grace", 2*time.Second)
	v.SetDefault("client.launch_engine", true)
	v.SetDefault("client.engine_path", "")
	v.SetDefault("client.pitch_semitones", 0.0)

	v.SetDefault("host.backend", "")
	v.SetDefault("host.sample_rate", SampleRate)
	v.SetDefault("host.period_frames", BlockSize)

	v.SetDefault("control.enabled", true)
	v.SetDefault("control.listen", "127.0.0.1:8787")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9787")

	v.SetDefault("telemetry.sentry.enabled", false)
	v.SetDefault("telemetry.sentry.dsn", "")
	v.SetDefault("telemetry.sentry.environment", "production")

	v.SetDefault("logging.default_level", "info")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", true)
	v.SetDefault("logging.console.level", "info")
	v.SetDefault("logging.file_output.enabled", false)
	v.SetDefault("logging.file_output.path", "logs/deckbridge.log")
	v.SetDefault("logging.file_output.level", "debug")
}
