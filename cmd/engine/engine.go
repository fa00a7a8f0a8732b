// Package engine implements the `deckbridge engine` subcommand: the media
// engine process that the host client launches and supervises.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/deckbridge/internal/buildinfo"
	"github.com/tphakala/deckbridge/internal/conf"
	"github.com/tphakala/deckbridge/internal/engine"
	"github.com/tphakala/deckbridge/internal/errors"
	"github.com/tphakala/deckbridge/internal/logger"
	"github.com/tphakala/deckbridge/internal/media"
	"github.com/tphakala/deckbridge/internal/observability"
	"github.com/tphakala/deckbridge/internal/shm"
	"github.com/tphakala/deckbridge/internal/telemetry"
)

// Compile-time check that the built-in player satisfies the backend contract.
var _ engine.MediaBackend = (*media.FilePlayer)(nil)

const (
	backendFile      = "file"
	backendGStreamer = "gstreamer"
)

// Command creates the engine subcommand.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engine",
		Short: "Run the media engine process",
		Long:  "Create the shared region and pump decoded audio to the host client until it quits or stops sending heartbeats.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), settings, build)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		panic(err)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().IntVar(&settings.Engine.AVDelayMs, "av-delay", viper.GetInt("engine.av_delay_ms"), "Audio delay in milliseconds to line up with the video output")
	cmd.Flags().StringVar(&settings.Engine.Backend, "backend", viper.GetString("engine.backend"), "Media backend (file or gstreamer)")
	cmd.Flags().DurationVar(&settings.Engine.HeartbeatTimeout, "heartbeat-timeout", viper.GetDuration("engine.heartbeat_timeout"), "Exit when the client is silent for this long")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}

// Run hosts the engine until the client quits, the heartbeat expires or
// ctx is cancelled.
func Run(ctx context.Context, settings *conf.Settings, build *buildinfo.Context) error {
	log := engine.GetLogger()

	region := shm.NewRegion(shm.RoleEngine, settings.Transport.RegionPath())
	if err := region.Initialize(); err != nil {
		return err
	}
	defer func() {
		if err := region.Close(); err != nil {
			log.Warn("failed to close shared region", logger.Error(err))
		}
	}()

	backend, closeBackend, err := newBackend(settings.Engine)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeBackend(); err != nil {
			log.Warn("failed to close media backend", logger.Error(err))
		}
	}()

	opts := []engine.Option{engine.WithDisplay(engine.NewHeadlessDisplay())}

	var endpoint *observability.Endpoint
	if settings.Metrics.Enabled {
		m, err := observability.NewMetrics()
		if err != nil {
			return err
		}
		if endpoint, err = observability.NewEndpoint(settings, m); err != nil {
			return err
		}
		opts = append(opts, engine.WithMetrics(m.Transport))
	}

	eng := engine.New(settings.Engine, region, backend, opts...)

	if err := telemetry.InitSentry(settings, telemetry.Process{
		Role:      shm.RoleEngine.String(),
		SessionID: eng.SessionID(),
		Build:     build,
	}); err != nil {
		log.Warn("error reporting disabled", logger.Error(err))
	}
	defer telemetry.Flush(2 * time.Second)

	ctx = logger.WithSession(ctx, eng.SessionID())
	log = log.WithContext(ctx)
	log.Info("engine starting",
		logger.String("version", build.Version()),
		logger.String("region", region.Path()),
		logger.String("backend", settings.Engine.Backend),
		logger.Int("av_delay_ms", settings.Engine.AVDelayMs))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		// Stop the endpoint once the pump returns for any reason.
		defer cancel()
		return eng.Run(gctx)
	})
	if endpoint != nil {
		g.Go(func() error { return endpoint.Run(gctx) })
	}

	err = g.Wait()
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		log.Info("engine stopped")
		return nil
	case errors.Is(err, engine.ErrHeartbeatTimeout):
		log.Warn("client went silent, exiting", logger.Error(err))
		telemetry.CaptureMessage("engine heartbeat watchdog expired", sentry.LevelWarning, "engine")
	default:
		log.Error("engine failed", logger.Error(err))
	}
	return err
}

func newBackend(s conf.EngineSettings) (engine.MediaBackend, func() error, error) {
	switch s.Backend {
	case "", backendFile:
		p := media.NewFilePlayer(s.FIFOFrames)
		return p, func() error { return nil }, nil
	case backendGStreamer:
		return newGStreamerBackend(s.FIFOFrames)
	}
	return nil, nil, errors.Newf("unknown media backend %q", s.Backend).
		Component("engine").
		Category(errors.CategoryConfiguration).
		Build()
}
