// Package server exposes the planning agent over HTTP: an SSE planning
// endpoint, the roster, and session management.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/tably/config"
	"github.com/mohammad-safakhou/tably/internal/agent/core"
	"github.com/mohammad-safakhou/tably/internal/agent/telemetry"
	"github.com/mohammad-safakhou/tably/internal/ranking"
	"github.com/mohammad-safakhou/tably/internal/session"
	"github.com/mohammad-safakhou/tably/internal/tools"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server carries the wired application: one orchestrator, one tool
// registry, one session store.
type Server struct {
	cfg      *config.Config
	echo     *echo.Echo
	orch     *core.Orchestrator
	registry *tools.Registry
	roster   *tools.Roster
	store    session.Store
	prompt   string
	logger   *log.Logger
}

// New wires every dependency from config.
func New(cfg *config.Config) (*Server, error) {
	roster, err := tools.LoadRoster(cfg.Tools.RosterFile)
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]ranking.Weights, len(cfg.Ranking.Profiles))
	for name, w := range cfg.Ranking.Profiles {
		profiles[name] = ranking.Weights{
			Drive:    w.Drive,
			Rating:   w.Rating,
			Fairness: w.Fairness,
			Price:    w.Price,
			Novelty:  w.Novelty,
		}
	}
	registry, err := tools.NewRegistry(tools.Deps{
		Roster:          roster,
		Places:          tools.NewPlacesClient(cfg.Tools.GoogleMapsAPIKey, cfg.Tools.Timeout, cfg.Tools.CacheTTL),
		Distance:        tools.NewDistanceClient(cfg.Tools.GoogleMapsAPIKey, cfg.Tools.Timeout),
		Yelp:            tools.NewYelpClient(cfg.Tools.YelpAPIKey, cfg.Tools.Timeout, cfg.Tools.CacheTTL),
		Profiles:        profiles,
		DefaultProfile:  cfg.Ranking.DefaultProfile,
		MaxDriveMinutes: cfg.Tools.MaxDriveMinutes,
	})
	if err != nil {
		return nil, err
	}

	store, err := session.NewStore(cfg.Session)
	if err != nil {
		return nil, err
	}

	provider, err := core.NewLLMProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}
	tele := telemetry.NewTelemetry(cfg.Telemetry)
	orch, err := core.NewOrchestrator(cfg, provider, log.New(log.Writer(), "[ORCH] ", log.LstdFlags), tele)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		orch:     orch,
		registry: registry,
		roster:   roster,
		store:    store,
		prompt:   systemPrompt(roster),
		logger:   log.New(log.Writer(), "[HTTP] ", log.LstdFlags),
	}
	s.echo = s.buildEcho()
	return s, nil
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.POST("/plan", s.handlePlan)
	api.GET("/friends", s.handleFriends)
	api.DELETE("/session/:id", s.handleDeleteSession)
	return e
}

// Run starts the listener and the session sweeper, blocking until the
// context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if mem, ok := s.store.(*session.InMemoryStore); ok && s.cfg.Session.SweepCron != "" {
		sweeper, err := session.NewSweeper(mem, s.cfg.Session.SweepCron)
		if err != nil {
			return fmt.Errorf("session sweeper: %w", err)
		}
		go sweeper.Run(ctx)
	}

	addr := s.cfg.Server.Address
	if addr == "" {
		addr = ":8000"
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.echo.Start(addr) }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
