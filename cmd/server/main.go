package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"echo-maze/server/internal/app"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	clientDir := flag.String("client-dir", "", "directory of static client assets to serve")
	scenarioPath := flag.String("scenario", "", "path to a scenario file")
	audioEnabled := flag.Bool("audio", false, "start the audio device on boot")
	volume := flag.Float64("volume", 1.0, "master output gain")
	logJSON := flag.String("log-json", "", "path of the structured event log")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := app.Config{
		Addr:         *addr,
		ClientDir:    *clientDir,
		ScenarioPath: *scenarioPath,
		AudioEnabled: *audioEnabled,
		MasterVolume: *volume,
		LogJSONPath:  *logJSON,
	}

	if err := app.Run(ctx, cfg); err != nil {
		log.Fatalf("%v", err)
	}
}
