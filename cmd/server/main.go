package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/benjspriggs/chooser/internal/application"
	"github.com/benjspriggs/chooser/internal/config"
	"github.com/benjspriggs/chooser/internal/logging"
	"github.com/benjspriggs/chooser/internal/picker"
)

var signalNotify = signal.Notify

func main() {
	kingpinApp := kingpin.New("chooser", "Background roulette - picks a random background image for the blog")
	settingsFile := kingpinApp.Flag("settings", "Path to a .settings (JSON) or YAML settings file").String()
	port := kingpinApp.Flag("port", "HTTP port exposed by the service").String()
	apiKey := kingpinApp.Flag("api-key", "tinify API key (empty disables compression)").String()
	seedFlag := kingpinApp.Flag("seed", "Random seed for deterministic selection (0 uses the clock)").Int64()
	printOnly := kingpinApp.Flag("print", "Pick one background, print its URL, and exit").Bool()
	debug := kingpinApp.Flag("debug", "Enable debug logging").Bool()
	rateLimitRPSFlag := kingpinApp.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64()
	rateLimitBurstFlag := kingpinApp.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").Default("-1").Int()

	kingpin.MustParse(kingpinApp.Parse(os.Args[1:]))

	overrides := &config.CLIOverrides{
		SettingsFile: *settingsFile,
	}

	if *port != "" {
		overrides.Port = port
	}

	if *apiKey != "" {
		overrides.APIKey = apiKey
	}

	if *seedFlag != 0 {
		overrides.Seed = seedFlag
	}

	if *rateLimitRPSFlag >= 0 {
		overrides.RateLimitRPS = rateLimitRPSFlag
	}

	if *rateLimitBurstFlag >= 0 {
		overrides.RateLimitBurst = rateLimitBurstFlag
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	cfg.Debug = *debug

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if *printOnly {
		if err := printPick(app, os.Stdout); err != nil {
			logger.Fatal("failed to pick a background", zap.Error(err))
		}
		return
	}

	if err := app.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	shutdown(app.Server(), cfg.ShutdownGracePeriod, logger)
}

// printPick runs one selection and writes the chosen URL to out.
func printPick(app *application.App, out *os.File) error {
	url, err := app.PickOne(context.Background())
	if err != nil {
		if errors.Is(err, picker.ErrEmptyList) {
			return fmt.Errorf("url list has no usable entries: %w", err)
		}
		return err
	}
	_, err = fmt.Fprintln(out, url)
	return err
}

func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
