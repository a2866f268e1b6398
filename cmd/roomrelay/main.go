package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"roomrelay/internal/app"
	"roomrelay/internal/config"
	applog "roomrelay/pkg/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		l := applog.L()
		l.Fatal().Err(err).Msg("roomrelay exited")
	}
}

// run starts the relay and blocks until ctx is cancelled or the server fails.
func run(ctx context.Context, args []string, stderr io.Writer) error {
	// STEP 1: Flags
	fs := flag.NewFlagSet("roomrelay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", os.Getenv("ROOMRELAY_CONFIG_FILE"), "path to a YAML config file")
	envFile := fs.String("env-file", ".env", "dotenv file loaded before reading configuration")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// STEP 2: .env, then configuration with precedence env > file > defaults
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", *envFile, err)
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// STEP 3: Logger
	applog.Init(cfg.Log)
	logger := applog.L()

	// STEP 4: Application
	application, err := app.NewApplication(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	// STEP 5: Wait for shutdown signal or server failure
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	case runErr = <-application.Errors():
		logger.Error().Err(runErr).Msg("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown error: %w", err))
	}
	return runErr
}
