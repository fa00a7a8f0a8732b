package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/tphakala/deckbridge/internal/conf"
	"github.com/tphakala/deckbridge/internal/logger"
	metricspkg "github.com/tphakala/deckbridge/internal/observability/metrics"
	"github.com/tphakala/deckbridge/internal/telemetry"
)

// Endpoint serves /metrics and the pprof debug routes.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
}

// NewEndpoint creates a new instance of the metrics Endpoint.
//
// It returns an error if metrics are not enabled in the settings. The
// function does not create new metrics but uses the provided instance.
func NewEndpoint(settings *conf.Settings, metrics *Metrics) (*Endpoint, error) {
	if !settings.Metrics.Enabled {
		return nil, fmt.Errorf("metrics not enabled in settings")
	}

	mux := http.NewServeMux()
	metrics.RegisterHandlers(mux)
	telemetry.RegisterDebugHandlers(mux)

	return &Endpoint{
		listenAddress: settings.Metrics.Listen,
		metrics:       metrics,
		server: &http.Server{
			Addr:              settings.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Run serves until ctx is cancelled, then shuts the server down.
func (e *Endpoint) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.listenAddress)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", e.listenAddress, err)
	}
	return e.Serve(ctx, ln)
}

// Serve runs the server on an existing listener.
func (e *Endpoint) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		GetLogger().Info("metrics endpoint starting", logger.String("address", ln.Addr().String()))
		errCh <- e.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	GetLogger().Info("stopping metrics endpoint")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), metricspkg.ShutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(shutdownCtx); err != nil {
		GetLogger().Error("metrics server shutdown error", logger.Error(err))
		return err
	}
	<-errCh
	return nil
}

// GetMetrics returns the Metrics instance associated with this Endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
