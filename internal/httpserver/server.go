// Package httpserver wires the echo router: health and metrics endpoints,
// static files for the browser client, and the /ws relay endpoint where
// voice sessions live.
package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chadiek/voice-consult/internal/config"
	"github.com/chadiek/voice-consult/internal/history"
	"github.com/chadiek/voice-consult/internal/metrics"
	"github.com/chadiek/voice-consult/internal/session"
)

// Deps bundles the collaborators shared by all sessions. The transcriber is
// a factory because each session needs its own realtime connection; the
// rest are safe for concurrent use. Retriever, Publisher and Archiver may
// be nil when the corresponding backend is not configured.
type Deps struct {
	NewTranscriber func() session.Transcriber
	Generator      session.Generator
	Synthesizer    session.Synthesizer
	Retriever      session.Retriever
	History        history.Store
	Publisher      session.Publisher
	Archiver       session.Archiver
	Metrics        *metrics.Metrics
	ProductSummary string
}

// Server is the HTTP front of the relay.
type Server struct {
	echo *echo.Echo
	cfg  config.Config
	deps Deps
}

// New builds the router.
func New(cfg config.Config, deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Default
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{echo: e, cfg: cfg, deps: deps}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/ws", s.handleWS)
	if cfg.StaticDir != "" {
		e.Static("/", cfg.StaticDir)
	}

	return s
}

// Handler exposes the router for an http.Server and for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) sessionConfig() session.Config {
	return session.Config{
		SystemPrompt:       s.cfg.SystemPrompt,
		ProductSummary:     s.deps.ProductSummary,
		TriggerKeywords:    s.cfg.KeywordList(),
		RetrievalTopK:      s.cfg.RetrievalTopK,
		MaxSentenceLen:     s.cfg.MaxSentenceLen,
		ErrorRecoveryDelay: s.cfg.ErrorRecoveryDelay,
		EchoGuardTimeout:   s.cfg.EchoGuardTimeout,
	}
}
