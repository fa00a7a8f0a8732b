// Package host implements the `deckbridge host` subcommand. It plays the
// part of the plugin host: it opens a playback device, launches and
// supervises the engine, and exposes the control surface.
package host

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/deckbridge/internal/buildinfo"
	"github.com/tphakala/deckbridge/internal/client"
	"github.com/tphakala/deckbridge/internal/conf"
	"github.com/tphakala/deckbridge/internal/console"
	"github.com/tphakala/deckbridge/internal/controlapi"
	"github.com/tphakala/deckbridge/internal/errors"
	"github.com/tphakala/deckbridge/internal/hostaudio"
	"github.com/tphakala/deckbridge/internal/logger"
	"github.com/tphakala/deckbridge/internal/observability"
	"github.com/tphakala/deckbridge/internal/shm"
	"github.com/tphakala/deckbridge/internal/telemetry"
)

// Options holds flags that do not map onto settings.
type Options struct {
	Console bool
	Load    string // media to load once connected
}

// Command creates the host subcommand.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Run the host side: audio output, engine supervision and control",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), settings, build, opts)
		},
	}

	if err := setupFlags(cmd, settings, &opts); err != nil {
		panic(err)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings, opts *Options) error {
	cmd.Flags().BoolVar(&opts.Console, "console", false, "Start the interactive console")
	cmd.Flags().StringVar(&opts.Load, "load", "", "Media file to load once the engine is connected")
	cmd.Flags().Float64Var(&settings.Client.PitchSemitones, "pitch", viper.GetFloat64("client.pitch_semitones"), "Pitch shift in semitones")
	cmd.Flags().BoolVar(&settings.Client.LaunchEngine, "launch-engine", viper.GetBool("client.launch_engine"), "Launch the engine process if it is not running")
	cmd.Flags().StringVar(&settings.Host.Backend, "audio-backend", viper.GetString("host.backend"), "Playback backend (alsa, pulse, jack, wasapi, coreaudio, null)")
	cmd.Flags().BoolVar(&settings.Control.Enabled, "control", viper.GetBool("control.enabled"), "Serve the HTTP control API")
	cmd.Flags().StringVar(&settings.Control.Listen, "listen", viper.GetString("control.listen"), "Listen address of the HTTP control API")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

// Run drives the host side until ctx is cancelled or the console quits.
func Run(ctx context.Context, settings *conf.Settings, build *buildinfo.Context, opts Options) error {
	log := client.GetLogger()

	if err := telemetry.InitSentry(settings, telemetry.Process{
		Role:  shm.RoleClient.String(),
		Build: build,
	}); err != nil {
		log.Warn("error reporting disabled", logger.Error(err))
	}
	defer telemetry.Flush(2 * time.Second)

	var clientOpts []client.Option
	if settings.Client.LaunchEngine {
		launcher, err := client.NewExecLauncher(settings.Client.EnginePath, engineArgs(settings)...)
		if err != nil {
			return err
		}
		clientOpts = append(clientOpts, client.WithLauncher(launcher))
	}

	var endpoint *observability.Endpoint
	if settings.Metrics.Enabled {
		m, err := observability.NewMetrics()
		if err != nil {
			return err
		}
		if endpoint, err = observability.NewEndpoint(settings, m); err != nil {
			return err
		}
		clientOpts = append(clientOpts, client.WithMetrics(m.Transport))
	}

	region := shm.NewRegion(shm.RoleClient, settings.Transport.RegionPath())
	c := client.New(settings.Client, region, clientOpts...)
	defer func() {
		if err := c.Close(); err != nil {
			log.Warn("engine shutdown incomplete", logger.Error(err))
		}
	}()

	dev, err := hostaudio.Open(settings.Host, c)
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			log.Warn("failed to close playback device", logger.Error(err))
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.Start(runCtx)
	if err := dev.Start(); err != nil {
		return err
	}

	player := client.NewRemotePlayer(c)
	log.Info("host started",
		logger.String("version", build.Version()),
		logger.String("region", region.Path()),
		logger.Int("sample_rate", dev.SampleRate()))

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if opts.Load != "" {
		g.Go(func() error { return loadWhenConnected(gctx, player, opts.Load) })
	}
	if settings.Control.Enabled {
		srv := controlapi.New(settings.Control, player)
		g.Go(func() error { return srv.Run(gctx) })
	}
	if endpoint != nil {
		g.Go(func() error { return endpoint.Run(gctx) })
	}
	if opts.Console {
		g.Go(func() error {
			// Leaving the console ends the session.
			defer cancel()
			return console.New(player, os.Stdout).Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("host stopping")
	return nil
}

// engineArgs forwards the settings the launched engine must share with
// this process.
func engineArgs(settings *conf.Settings) []string {
	var args []string
	if settings.Transport.Dir != "" {
		args = append(args, "--transport-dir", settings.Transport.Dir)
	}
	if settings.Debug {
		args = append(args, "--debug")
	}
	return args
}

// loadWhenConnected waits for the engine and then loads path. Waiting ends
// with ctx.
func loadWhenConnected(ctx context.Context, player *client.RemotePlayer, path string) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if !player.Connected() {
			continue
		}
		if err := player.LoadFile(path, 1, 1); err != nil {
			client.GetLogger().Warn("initial load failed", logger.String("path", path), logger.Error(err))
			return nil
		}
		return player.Play()
	}
}
