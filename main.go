package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/snagbot/snag/internal"
	"github.com/snagbot/snag/pkg/logger"
)

var log = logger.Get("Main")

// main is the entry point to the program. Configuration is loaded from
// the YAML file provided via -config (falling back to environment
// variables when omitted), and the server runs until interrupted.
func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional, env vars used when omitted)")
	logLevel := flag.Int("log-level", logger.INFO.Level(), "minimum log level to emit (0=verbose ... 5=fatal)")
	flag.Parse()

	logger.SetMinLoggingLevel(*logLevel)

	config := internal.SnagConfig{}
	var err error
	if *configPath != "" {
		err = config.LoadFromFile(*configPath)
	} else {
		err = config.LoadFromEnv()
	}
	if err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Snag exited with error: %v\n", err)
		os.Exit(1)
	}

	log.Emit(logger.STOP, "Snag shut down cleanly\n")
}
