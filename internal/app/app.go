package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	server "echo-maze/server"
	"echo-maze/server/internal/audio"
	servernet "echo-maze/server/internal/net"
	"echo-maze/server/internal/scenario"
	"echo-maze/server/internal/telemetry"
	"echo-maze/server/logging"
	loggingSinks "echo-maze/server/logging/sinks"
)

type Config struct {
	Addr         string
	ClientDir    string
	ScenarioPath string
	TickRate     int
	AudioEnabled bool
	MasterVolume float64
	LogJSONPath  string
	Logger       telemetry.Logger
}

func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}

	if raw := os.Getenv("TICK_RATE"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil {
			cfg.TickRate = value
		} else {
			telemetryLogger.Printf("invalid TICK_RATE=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("AUDIO_ENABLED"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			cfg.AudioEnabled = value
		} else {
			telemetryLogger.Printf("invalid AUDIO_ENABLED=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("MASTER_VOLUME"); raw != "" {
		if value, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.MasterVolume = value
		} else {
			telemetryLogger.Printf("invalid MASTER_VOLUME=%q: %v", raw, err)
		}
	}
	if raw := os.Getenv("SCENARIO_PATH"); raw != "" {
		cfg.ScenarioPath = raw
	}
	if raw := os.Getenv("LOG_JSON_PATH"); raw != "" {
		cfg.LogJSONPath = raw
	}

	logConfig := logging.DefaultConfig()
	sinks := []logging.NamedSink{
		{Name: "console", Sink: loggingSinks.NewConsole(os.Stdout, logConfig.Console)},
	}

	var logFile *os.File
	if cfg.LogJSONPath != "" {
		file, err := os.OpenFile(cfg.LogJSONPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", cfg.LogJSONPath, err)
		}
		logFile = file
		logConfig.EnabledSinks = append(logConfig.EnabledSinks, "json")
		logConfig.JSON.FilePath = cfg.LogJSONPath
		sinks = append(sinks, logging.NamedSink{
			Name: "json",
			Sink: loggingSinks.NewJSON(file, logConfig.JSON.FlushInterval),
		})
	}

	router, err := logging.NewRouter(logging.SystemClock{}, logConfig, sinks)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		if cerr := router.Close(context.Background()); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
		if logFile != nil {
			logFile.Close()
		}
	}()

	sc := loadScenario(cfg.ScenarioPath, telemetryLogger)

	hubCfg := server.DefaultConfig()
	if cfg.TickRate > 0 {
		hubCfg.TickRate = cfg.TickRate
	}
	hubCfg.Logger = telemetryLogger

	sink := audio.Disabled()
	if cfg.AudioEnabled {
		volume := cfg.MasterVolume
		if volume <= 0 {
			volume = 1
		}
		sink = audio.NewSpeakerSink(volume, telemetryLogger)
	}

	hub := server.NewHub(hubCfg, sc.Seed(), sink, router)
	stop := make(chan struct{})
	go hub.RunSimulation(stop)
	defer close(stop)

	if cfg.AudioEnabled {
		if err := hub.StartAudio(); err != nil {
			telemetryLogger.Printf("audio unavailable, continuing silent: %v", err)
		}
	}
	defer hub.StopAudio()

	handler := servernet.NewHTTPHandler(hub, servernet.HTTPHandlerConfig{
		ClientDir: cfg.ClientDir,
		Logger:    telemetryLogger,
	})

	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			telemetryLogger.Printf("server shutdown: %v", err)
		}
	}()

	telemetryLogger.Printf("server listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// loadScenario resolves the world seed source. A broken file falls back to
// the built-in scenario so the server still comes up.
func loadScenario(path string, logger telemetry.Logger) scenario.Scenario {
	if path != "" {
		sc, err := scenario.Load(path)
		if err != nil {
			logger.Printf("scenario %s rejected, using default: %v", path, err)
			return scenario.Default()
		}
		logger.Printf("loaded scenario %q from %s", sc.Name, path)
		return sc
	}

	for _, candidate := range scenario.DefaultPaths() {
		sc, err := scenario.Load(candidate)
		if err == nil {
			logger.Printf("loaded scenario %q from %s", sc.Name, candidate)
			return sc
		}
		if !errors.Is(err, os.ErrNotExist) {
			logger.Printf("scenario %s rejected, using default: %v", candidate, err)
		}
	}
	return scenario.Default()
}
