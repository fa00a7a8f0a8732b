package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/deckbridge/cmd/config"
	enginecmd "github.com/tphakala/deckbridge/cmd/engine"
	"github.com/tphakala/deckbridge/cmd/host"
	"github.com/tphakala/deckbridge/cmd/probe"
	"github.com/tphakala/deckbridge/internal/buildinfo"
	"github.com/tphakala/deckbridge/internal/conf"
	"github.com/tphakala/deckbridge/internal/engine"
	"github.com/tphakala/deckbridge/internal/errors"
	"github.com/tphakala/deckbridge/internal/logger"
)

// Process exit codes.
const (
	ExitOK               = 0
	ExitError            = 1
	ExitHeartbeatTimeout = 3
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           conf.AppName,
		Short:         "Out-of-process media engine bridged to a host audio callback",
		Version:       build.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		panic(err)
	}

	configCmd := config.Command(settings)
	probeCmd := probe.Command()

	rootCmd.AddCommand(
		enginecmd.Command(settings, build),
		host.Command(settings, build),
		configCmd,
		probeCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// config and probe print to stdout and need no logger setup.
		if cmd.Parent() == configCmd || cmd == probeCmd {
			return nil
		}
		return initialize(settings)
	}

	return rootCmd
}

// initialize installs the global logger once flags are parsed.
func initialize(settings *conf.Settings) error {
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}

	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(cl)
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Transport.Dir, "transport-dir", viper.GetString("transport.dir"), "Directory holding the shared region file")
	rootCmd.PersistentFlags().BoolVar(&settings.Metrics.Enabled, "metrics", viper.GetBool("metrics.enabled"), "Serve Prometheus metrics")
	rootCmd.PersistentFlags().StringVar(&settings.Metrics.Listen, "metrics-listen", viper.GetString("metrics.listen"), "Listen address of the metrics endpoint")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, engine.ErrHeartbeatTimeout):
		return ExitHeartbeatTimeout
	}
	return ExitError
}
