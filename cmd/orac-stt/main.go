package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/orac-stt/internal/api"
	"github.com/snarg/orac-stt/internal/config"
	"github.com/snarg/orac-stt/internal/coreclient"
	"github.com/snarg/orac-stt/internal/heartbeat"
	"github.com/snarg/orac-stt/internal/history"
	"github.com/snarg/orac-stt/internal/settings"
	"github.com/snarg/orac-stt/internal/stt"
	"github.com/snarg/orac-stt/internal/topics"
	"github.com/snarg/orac-stt/internal/whisper"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "addr", "", "http listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level")
	flag.StringVar(&overrides.DataDir, "data-dir", "", "data directory")
	flag.Parse()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("orac-stt starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Settings and downstream Core pool
	store := settings.NewStore(cfg.DataDir, map[string]any{
		settings.KeyCoreTimeoutS: 30,
	}, log.With().Str("component", "settings").Logger())
	coreTimeout := 30 * time.Second
	if t, ok := store.Get(settings.KeyCoreTimeoutS).(int); ok && t > 0 {
		coreTimeout = time.Duration(t) * time.Second
	}
	pool := coreclient.NewPool(
		store.GetString(settings.KeyCoreURL, ""),
		coreTimeout,
		log.With().Str("component", "coreclient").Logger(),
	)

	// Topic registry
	registry := topics.NewRegistry(cfg.DataDir, log.With().Str("component", "topics").Logger())

	// Command history and admin push bus
	ring := history.NewRing(cfg.CommandHistorySize, log.With().Str("component", "history").Logger())
	snapshots := history.NewSnapshots(cfg.RecordingsDir, cfg.CommandHistorySize, log.With().Str("component", "history").Logger())
	bus := history.NewBus(64)
	ring.Observe(func(cmd history.Command) {
		bus.Publish("command", cmd)
	})

	// Whisper engine
	engineLog := log.With().Str("component", "whisper").Logger()
	engine := whisper.NewClient(cfg.EngineURL(), cfg.WhisperTimeout, engineLog)

	var supervisor *whisper.Supervisor
	if cfg.UseWhisperServer {
		supervisor = whisper.NewSupervisor(whisper.SupervisorOptions{
			Bin:            cfg.WhisperBin,
			ModelsDir:      cfg.WhisperModelsDir,
			Host:           cfg.WhisperHost,
			Port:           cfg.WhisperPort,
			ModelName:      cfg.ModelName,
			Prompt:         cfg.WhisperPrompt,
			HealthInterval: cfg.HealthInterval,
			MaxFailures:    cfg.MaxHealthFails,
			Log:            engineLog,
		}, engine)
		if err := supervisor.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start whisper server")
		}
		go supervisor.Run(ctx)
	}

	// Heartbeat aggregator
	aggregator := heartbeat.NewAggregator(
		"orac_stt_001",
		cfg.HeartbeatTTL,
		registry,
		func(ctx context.Context, coreURL string, req heartbeat.CoreRequest) error {
			client := pool.For(coreURL)
			if client == nil {
				return nil
			}
			return client.ForwardHeartbeat(ctx, req)
		},
		log.With().Str("component", "heartbeat").Logger(),
	)
	go aggregator.Run(ctx)

	// Transcription pipeline
	orchestrator := stt.NewOrchestrator(
		engine, ring, snapshots, registry, pool,
		log.With().Str("component", "stt").Logger(),
	)

	// HTTP Server
	srv := api.NewServer(api.Deps{
		Cfg:          cfg,
		Orchestrator: orchestrator,
		Engine:       engine,
		Supervisor:   supervisor,
		Registry:     registry,
		Ring:         ring,
		Snapshots:    snapshots,
		Bus:          bus,
		Aggregator:   aggregator,
		Pool:         pool,
		Settings:     store,
		Version:      version,
		StartTime:    startTime,
		Log:          log.With().Str("component", "http").Logger(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal, server error, or supervisor giving up
	exitCode := 0
	var fatal <-chan error
	if supervisor != nil {
		fatal = supervisor.Fatal()
	}
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
			exitCode = 1
		}
	case err := <-fatal:
		log.Error().Err(err).Msg("whisper supervisor gave up, exiting for restart")
		exitCode = 1
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if supervisor != nil {
		supervisor.Stop()
	}

	log.Info().Msg("orac-stt stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
