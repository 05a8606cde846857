package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"parley/internal/app"
	"parley/internal/config"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		log.Fatal(err)
	}
}

// run loads configuration, starts the application and blocks until SIGINT or
// SIGTERM, then shuts down within shutdownTimeout.
func run(args []string, stderr io.Writer) error {
	flags := flag.NewFlagSet("parley", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", os.Getenv("PARLEY_CONFIG_FILE"), "path to a JSON config file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, cfgErr := config.LoadConfigWithPrecedence(*configPath)
	if cfg == nil {
		return fmt.Errorf("failed to load configuration: %w", cfgErr)
	}

	logger, err := app.NewLogger(cfg.App)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfgErr != nil {
		logger.Warn("config file ignored, using environment", zap.String("path", *configPath), zap.Error(cfgErr))
	}

	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
