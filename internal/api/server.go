// Package api exposes the HTTP and WebSocket surface: transcription
// ingest, heartbeats, health, metrics, and the admin endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/orac-stt/internal/config"
	"github.com/snarg/orac-stt/internal/coreclient"
	"github.com/snarg/orac-stt/internal/heartbeat"
	"github.com/snarg/orac-stt/internal/history"
	"github.com/snarg/orac-stt/internal/metrics"
	"github.com/snarg/orac-stt/internal/settings"
	"github.com/snarg/orac-stt/internal/stt"
	"github.com/snarg/orac-stt/internal/topics"
	"github.com/snarg/orac-stt/internal/whisper"
)

// Deps are the wired components the server serves.
type Deps struct {
	Cfg          *config.Config
	Orchestrator *stt.Orchestrator
	Engine       *whisper.Client
	// Supervisor is nil when an externally managed engine is used.
	Supervisor *whisper.Supervisor
	Registry   *topics.Registry
	Ring       *history.Ring
	Snapshots  *history.Snapshots
	Bus        *history.Bus
	Aggregator *heartbeat.Aggregator
	Pool       *coreclient.Pool
	Settings   *settings.Store
	Version    string
	StartTime  time.Time
	Log        zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(d Deps) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(d.Log))
	r.Use(metrics.InstrumentHandler)
	r.Use(CORS)

	health := &healthHandler{deps: d}
	r.Get("/health", health.aggregate)
	r.Get("/health/live", health.live)
	r.Get("/health/ready", health.ready)
	r.Handle("/metrics", promhttp.Handler())

	sttH := &sttHandler{deps: d}
	r.Route("/stt/v1", func(r chi.Router) {
		r.Post("/stream", sttH.upload)
		r.Post("/stream/{topic}", sttH.upload)
		r.Get("/ws/stream/{topic}", sttH.wsStream)
		r.Post("/preload", sttH.preload)
		r.Get("/health", sttH.health)
		r.Post("/heartbeat", sttH.heartbeat)
		r.Get("/heartbeat/status", sttH.heartbeatStatus)
	})

	admin := &adminHandler{deps: d}
	r.Route("/admin", func(r chi.Router) {
		r.Get("/topics", admin.listTopics)
		r.Get("/topics/active", admin.listActiveTopics)
		r.Get("/topics/{topic}", admin.getTopic)
		r.Delete("/topics/{topic}", admin.deleteTopic)
		r.Post("/topics/{topic}/config", admin.setTopicConfig)
		r.Delete("/topics/{topic}/config", admin.clearTopicConfig)

		r.Get("/config/orac-core", admin.getCoreConfig)
		r.Post("/config/orac-core", admin.setCoreConfig)
		r.Post("/config/orac-core/test", admin.testCoreConfig)

		r.Get("/models", admin.listModels)
		r.Post("/models/select", admin.selectModel)
		r.Post("/models/restart", admin.restartModel)

		r.Get("/commands", admin.listCommands)
		r.Get("/commands/{id}/audio", admin.commandAudio)

		r.Get("/ws", admin.ws)
	})

	return &Server{
		http: &http.Server{
			Addr:         d.Cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  d.Cfg.ReadTimeout,
			WriteTimeout: d.Cfg.WriteTimeout,
			IdleTimeout:  d.Cfg.IdleTimeout,
		},
		log: d.Log,
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
