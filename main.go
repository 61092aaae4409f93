package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"grabbit/internal"
	"grabbit/pkg/logger"
)

var log = logger.Get("Main")

// main loads the user's configuration, constructs the Grabbit services and
// runs them until an interrupt is received.
func main() {
	configPath := flag.String("config", "~/.config/grabbit/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	config := internal.GrabbitConfig{}
	if err := config.LoadFromFile(*configPath); err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Grabbit stopped with error: %v\n", err)
		os.Exit(1)
	}

	log.Emit(logger.STOP, "Grabbit stopped\n")
}
