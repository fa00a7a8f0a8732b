// Package controlapi exposes the remote player over a small JSON HTTP API.
package controlapi

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/deckbridge/internal/client"
	"github.com/tphakala/deckbridge/internal/conf"
	"github.com/tphakala/deckbridge/internal/errors"
	"github.com/tphakala/deckbridge/internal/logger"
)

const shutdownTimeout = 5 * time.Second

// Player is the control surface driven by the API.
type Player interface {
	LoadFile(path string, volume, rate float64) error
	Play() error
	Pause() error
	Stop() error
	ShowWindow() error
	SetVolume(v float64) error
	SetRate(r float64) error
	SetPosition(pos float64) error
	Trigger(note int) error

	SetPitchSemitones(st float64)
	PitchSemitones() float64

	Connected() bool
	IsPlaying() bool
	HasFinished() bool
	Position() float64
	LengthMs() int64
	IsWindowOpen() bool
}

var _ Player = (*client.RemotePlayer)(nil)

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Connected      bool    `json:"connected"`
	Playing        bool    `json:"playing"`
	Finished       bool    `json:"finished"`
	WindowOpen     bool    `json:"window_open"`
	Position       float64 `json:"position"`
	LengthMs       int64   `json:"length_ms"`
	PitchSemitones float64 `json:"pitch_semitones"`
}

// LoadRequest is the body of POST /api/v1/load. Volume and rate default
// to 1.
type LoadRequest struct {
	Path   string   `json:"path"`
	Volume *float64 `json:"volume"`
	Rate   *float64 `json:"rate"`
}

// ValueRequest is the body of the PUT endpoints.
type ValueRequest struct {
	Value *float64 `json:"value"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// Server serves the control API.
type Server struct {
	echo   *echo.Echo
	player Player
	listen string
	log    logger.Logger
}

// New builds the API for player.
func New(settings conf.ControlSettings, player Player) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, player: player, listen: settings.Listen, log: GetLogger()}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Debug("request",
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency))
			return nil
		},
	}))

	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	g := s.echo.Group("/api/v1")

	g.GET("/status", s.GetStatus)
	g.POST("/load", s.Load)
	g.POST("/play", s.action(s.player.Play))
	g.POST("/pause", s.action(s.player.Pause))
	g.POST("/stop", s.action(s.player.Stop))
	g.POST("/show", s.action(s.player.ShowWindow))
	g.PUT("/volume", s.value(s.player.SetVolume))
	g.PUT("/rate", s.value(s.player.SetRate))
	g.PUT("/position", s.value(s.player.SetPosition))
	g.PUT("/pitch", s.value(func(v float64) error {
		s.player.SetPitchSemitones(v)
		return nil
	}))
	g.POST("/trigger/:note", s.Trigger)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Run serves on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.listen)
	if err != nil {
		return errors.New(err).
			Component("controlapi").
			Category(errors.CategoryHTTP).
			Context("listen", s.listen).
			Build()
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("control API listening", logger.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

// GetStatus handles GET /api/v1/status.
func (s *Server) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Connected:      s.player.Connected(),
		Playing:        s.player.IsPlaying(),
		Finished:       s.player.HasFinished(),
		WindowOpen:     s.player.IsWindowOpen(),
		Position:       s.player.Position(),
		LengthMs:       s.player.LengthMs(),
		PitchSemitones: s.player.PitchSemitones(),
	})
}

// Load handles POST /api/v1/load.
func (s *Server) Load(c echo.Context) error {
	var req LoadRequest
	if err := c.Bind(&req); err != nil {
		return s.handleError(c, err, "invalid request body", http.StatusBadRequest)
	}
	volume, rate := 1.0, 1.0
	if req.Volume != nil {
		volume = *req.Volume
	}
	if req.Rate != nil {
		rate = *req.Rate
	}
	return s.respond(c, s.player.LoadFile(req.Path, volume, rate))
}

// Trigger handles POST /api/v1/trigger/:note.
func (s *Server) Trigger(c echo.Context) error {
	note, err := strconv.Atoi(c.Param("note"))
	if err != nil {
		return s.handleError(c, err, "note must be an integer", http.StatusBadRequest)
	}
	return s.respond(c, s.player.Trigger(note))
}

func (s *Server) action(fn func() error) echo.HandlerFunc {
	return func(c echo.Context) error {
		return s.respond(c, fn())
	}
}

func (s *Server) value(fn func(float64) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req ValueRequest
		if err := c.Bind(&req); err != nil {
			return s.handleError(c, err, "invalid request body", http.StatusBadRequest)
		}
		if req.Value == nil {
			return s.handleError(c, nil, "value is required", http.StatusBadRequest)
		}
		return s.respond(c, fn(*req.Value))
	}
}

// respond maps a player error to a status code, or returns the status.
func (s *Server) respond(c echo.Context, err error) error {
	switch {
	case err == nil:
		return s.GetStatus(c)
	case errors.IsCategory(err, errors.CategoryValidation):
		return s.handleError(c, err, "invalid argument", http.StatusBadRequest)
	case errors.Is(err, client.ErrNotConnected):
		return s.handleError(c, err, "engine not connected", http.StatusServiceUnavailable)
	case errors.Is(err, client.ErrQueueFull):
		return s.handleError(c, err, "engine busy, command dropped", http.StatusServiceUnavailable)
	}
	return s.handleError(c, err, "command failed", http.StatusInternalServerError)
}

func (s *Server) handleError(c echo.Context, err error, message string, code int) error {
	resp := ErrorResponse{
		Error:         message,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}
	if err != nil {
		resp.Error = err.Error()
	}
	s.log.Warn("API error",
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("path", c.Request().URL.Path),
		logger.Int("code", code),
		logger.String("error", resp.Error))
	return c.JSON(code, resp)
}

// GetLogger returns the control API logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("controlapi")
}
